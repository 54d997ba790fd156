package fhe

import (
	"encoding"
	"encoding/json"
	"fmt"

	"flpre/src/utils"
)

type KeyKind string

const (
	KindPublicKey    KeyKind = "public_key"
	KindPrivateKey   KeyKind = "private_key"
	KindTransformKey KeyKind = "transform_key"
)

// KeyFile is the JSON envelope around a serialized key.
type KeyFile struct {
	Kind    KeyKind `json:"kind"`
	Backend string  `json:"backend"`
	Context string  `json:"context"`
	Data    []byte  `json:"data"`
}

func (k KeyFile) MarshalBinary() ([]byte, error) {
	return json.MarshalIndent(k, "", "  ")
}

func (k *KeyFile) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, k)
}

// SaveKey wraps key in an envelope stamped with the context and writes it to path.
func SaveKey(path string, cc CryptoContext, kind KeyKind, key encoding.BinaryMarshaler) error {
	data, err := key.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %T.MarshalBinary: %w", ErrEngine, key, err)
	}
	return utils.Serialize(KeyFile{
		Kind:    kind,
		Backend: cc.Backend,
		Context: cc.Fingerprint(),
		Data:    data,
	}, path)
}

// LoadKey reads the envelope at path and checks it holds the expected kind of key.
func LoadKey(path string, kind KeyKind) (KeyFile, error) {
	var kf KeyFile
	if err := utils.Deserialize(&kf, path); err != nil {
		return kf, err
	}
	if kf.Kind != kind {
		return kf, fmt.Errorf("%s: expected a %s, found %q", path, kind, kf.Kind)
	}
	if len(kf.Data) == 0 {
		return kf, fmt.Errorf("%s: empty %s", path, kind)
	}
	return kf, nil
}

// LoadPublicKey reads a public key envelope and parses it with p.
func LoadPublicKey(p Parser, path string) (PublicKey, KeyFile, error) {
	kf, err := LoadKey(path, KindPublicKey)
	if err != nil {
		return nil, kf, err
	}
	pk, err := p.ParsePublicKey(kf.Data)
	return pk, kf, err
}

func LoadPrivateKey(p Parser, path string) (PrivateKey, KeyFile, error) {
	kf, err := LoadKey(path, KindPrivateKey)
	if err != nil {
		return nil, kf, err
	}
	sk, err := p.ParsePrivateKey(kf.Data)
	return sk, kf, err
}

func LoadTransformKey(p Parser, path string) (TransformKey, KeyFile, error) {
	kf, err := LoadKey(path, KindTransformKey)
	if err != nil {
		return nil, kf, err
	}
	tk, err := p.ParseTransformKey(kf.Data)
	return tk, kf, err
}

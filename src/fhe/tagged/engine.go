// Package tagged is a deterministic stand-in for a real scheme. Ciphertexts carry their
// plaintext slots next to the identifier of the domain able to open them. It provides no
// confidentiality and exists to exercise the pipeline quickly and reproducibly.
package tagged

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"math"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
	exprand "golang.org/x/exp/rand"

	"flpre/src/fhe"
)

const domainBytes = 16

type publicKey struct {
	Domain string `json:"domain"`
}

type privateKey struct {
	Domain string `json:"domain"`
}

type transformKey struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ciphertext struct {
	Domain string    `json:"domain"`
	Slots  []float64 `json:"slots"`
}

func (k *publicKey) MarshalBinary() ([]byte, error)    { return json.Marshal(k) }
func (k *privateKey) MarshalBinary() ([]byte, error)   { return json.Marshal(k) }
func (k *transformKey) MarshalBinary() ([]byte, error) { return json.Marshal(k) }
func (c *ciphertext) MarshalBinary() ([]byte, error)   { return json.Marshal(c) }

type Engine struct {
	cc      fhe.CryptoContext
	entropy io.Reader
}

func New(cc fhe.CryptoContext) (*Engine, error) {
	if cc.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: tagged backend needs a positive batch size", fhe.ErrEngine)
	}
	return &Engine{cc: cc, entropy: rand.Reader}, nil
}

func (e *Engine) Context() fhe.CryptoContext { return e.cc }

func (e *Engine) BatchWidth() int { return e.cc.BatchSize }

// KeyGen draws a fresh domain identifier through HKDF salted with the context fingerprint.
func (e *Engine) KeyGen() (fhe.PublicKey, fhe.PrivateKey, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(e.entropy, seed); err != nil {
		return nil, nil, fmt.Errorf("%w: seed: %w", fhe.ErrEngine, err)
	}
	newHash := func() hash.Hash { return blake3.New() }
	kdf := hkdf.New(newHash, seed, []byte(e.cc.Fingerprint()), []byte("tagged domain"))
	id := make([]byte, domainBytes)
	if _, err := io.ReadFull(kdf, id); err != nil {
		return nil, nil, fmt.Errorf("%w: hkdf: %w", fhe.ErrEngine, err)
	}
	domain := hex.EncodeToString(id)
	return &publicKey{Domain: domain}, &privateKey{Domain: domain}, nil
}

func (e *Engine) Encrypt(pk fhe.PublicKey, values []float64) (fhe.Ciphertext, error) {
	key, ok := pk.(*publicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key %T", fhe.ErrForeignObject, pk)
	}
	if len(values) > e.BatchWidth() {
		return nil, fmt.Errorf("%w: %d > %d", fhe.ErrBatchTooLarge, len(values), e.BatchWidth())
	}
	slots := make([]float64, e.BatchWidth())
	copy(slots, values)
	return &ciphertext{Domain: key.Domain, Slots: slots}, nil
}

// Decrypt under a foreign domain yields a pseudo-random vector seeded by the key and the ciphertext.
func (e *Engine) Decrypt(sk fhe.PrivateKey, ct fhe.Ciphertext) ([]float64, error) {
	key, ok := sk.(*privateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key %T", fhe.ErrForeignObject, sk)
	}
	c, err := e.ciphertext(ct)
	if err != nil {
		return nil, err
	}
	if c.Domain == key.Domain {
		return append([]float64(nil), c.Slots...), nil
	}
	return garbage(key.Domain, c), nil
}

func (e *Engine) Add(a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	ca, err := e.ciphertext(a)
	if err != nil {
		return nil, err
	}
	cb, err := e.ciphertext(b)
	if err != nil {
		return nil, err
	}
	if len(ca.Slots) != len(cb.Slots) {
		return nil, fmt.Errorf("%w: adding batches of %d and %d slots", fhe.ErrEngine, len(ca.Slots), len(cb.Slots))
	}
	out := &ciphertext{Domain: ca.Domain, Slots: make([]float64, len(ca.Slots))}
	if ca.Domain != cb.Domain {
		out.Domain = garble(ca.Domain, cb.Domain)
	}
	for i := range out.Slots {
		out.Slots[i] = ca.Slots[i] + cb.Slots[i]
	}
	return out, nil
}

func (e *Engine) ScalarMultiply(ct fhe.Ciphertext, scalar float64) (fhe.Ciphertext, error) {
	c, err := e.ciphertext(ct)
	if err != nil {
		return nil, err
	}
	out := &ciphertext{Domain: c.Domain, Slots: make([]float64, len(c.Slots))}
	for i, v := range c.Slots {
		out.Slots[i] = v * scalar
	}
	return out, nil
}

func (e *Engine) DeriveTransformKey(owner fhe.PrivateKey, peer fhe.PublicKey) (fhe.TransformKey, error) {
	sk, ok := owner.(*privateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key %T", fhe.ErrForeignObject, owner)
	}
	pk, ok := peer.(*publicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key %T", fhe.ErrForeignObject, peer)
	}
	return &transformKey{From: sk.Domain, To: pk.Domain}, nil
}

// ReEncrypt moves a ciphertext of the key's source domain to its target domain.
// Any other ciphertext lands in a domain nobody holds a key for.
func (e *Engine) ReEncrypt(ct fhe.Ciphertext, tk fhe.TransformKey) (fhe.Ciphertext, error) {
	c, err := e.ciphertext(ct)
	if err != nil {
		return nil, err
	}
	key, ok := tk.(*transformKey)
	if !ok {
		return nil, fmt.Errorf("%w: transform key %T", fhe.ErrForeignObject, tk)
	}
	out := &ciphertext{Domain: key.To, Slots: append([]float64(nil), c.Slots...)}
	if c.Domain != key.From {
		out.Domain = garble(c.Domain, key.To)
	}
	return out, nil
}

func (e *Engine) ParseCiphertext(data []byte) (fhe.Ciphertext, error) {
	c := &ciphertext{}
	if err := parse(data, c); err != nil {
		return nil, err
	}
	if c.Domain == "" || len(c.Slots) != e.BatchWidth() {
		return nil, fmt.Errorf("%w: malformed ciphertext", fhe.ErrForeignObject)
	}
	return c, nil
}

func (e *Engine) ParsePublicKey(data []byte) (fhe.PublicKey, error) {
	k := &publicKey{}
	if err := parse(data, k); err != nil || k.Domain == "" {
		return nil, fmt.Errorf("%w: malformed public key", fhe.ErrForeignObject)
	}
	return k, nil
}

func (e *Engine) ParsePrivateKey(data []byte) (fhe.PrivateKey, error) {
	k := &privateKey{}
	if err := parse(data, k); err != nil || k.Domain == "" {
		return nil, fmt.Errorf("%w: malformed private key", fhe.ErrForeignObject)
	}
	return k, nil
}

func (e *Engine) ParseTransformKey(data []byte) (fhe.TransformKey, error) {
	k := &transformKey{}
	if err := parse(data, k); err != nil || k.From == "" || k.To == "" {
		return nil, fmt.Errorf("%w: malformed transform key", fhe.ErrForeignObject)
	}
	return k, nil
}

func (e *Engine) ciphertext(ct fhe.Ciphertext) (*ciphertext, error) {
	c, ok := ct.(*ciphertext)
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext %T", fhe.ErrForeignObject, ct)
	}
	return c, nil
}

func parse(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", fhe.ErrForeignObject, err)
	}
	return nil
}

func garble(a, b string) string {
	sum := blake3.Sum256([]byte("garbled:" + a + ":" + b))
	return hex.EncodeToString(sum[:domainBytes])
}

func garbage(domain string, c *ciphertext) []float64 {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte(c.Domain))
	buf := make([]byte, 8)
	for _, v := range c.Slots {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		h.Write(buf)
	}
	seed := binary.LittleEndian.Uint64(h.Sum(nil)[:8])

	r := exprand.New(exprand.NewSource(seed))
	out := make([]float64, len(c.Slots))
	for i := range out {
		out[i] = (2*r.Float64() - 1) * 1e6
	}
	return out
}

// Package domainchange re-targets an encrypted weight summary to another party's domain.
package domainchange

import (
	"fmt"
	"time"

	"flpre/src/fhe"
	"flpre/src/utils"
	"flpre/src/weights"
)

type Pipeline struct {
	backend fhe.Backend
	logger  utils.Logger
}

func New(backend fhe.Backend, logger utils.Logger) *Pipeline {
	return &Pipeline{backend: backend, logger: logger}
}

// ReEncryptDocument applies tk to every ciphertext field. Name, shape and batch layout pass through.
// A document must go through this once: re-applying the key yields ciphertexts nobody can open.
func (p *Pipeline) ReEncryptDocument(doc *weights.Document, tk fhe.TransformKey) (*weights.Document, error) {
	if err := doc.Expect(true); err != nil {
		return nil, err
	}
	start := time.Now()
	out := &weights.Document{Layers: make([]weights.Layer, 0, len(doc.Layers))}

	for _, layer := range doc.Layers {
		mean, err := p.reEncrypt(layer.Mean.Cipher, tk)
		if err != nil {
			return nil, fmt.Errorf("layer %q mean: %w", layer.Name, err)
		}
		std, err := p.reEncrypt(layer.StdDev.Cipher, tk)
		if err != nil {
			return nil, fmt.Errorf("layer %q std_dev: %w", layer.Name, err)
		}
		batches := make([][]byte, len(layer.Values.Batches))
		for i, batch := range layer.Values.Batches {
			if batches[i], err = p.reEncrypt(batch, tk); err != nil {
				return nil, fmt.Errorf("layer %q batch %d: %w", layer.Name, i, err)
			}
		}

		out.Layers = append(out.Layers, weights.Layer{
			Name:   layer.Name,
			Shape:  append([]int(nil), layer.Shape...),
			Mean:   weights.SealedScalar(mean),
			StdDev: weights.SealedScalar(std),
			Values: weights.SealedValues(batches),
		})
		p.logger.PrintFormatted("[recrypt] Layer %s re-encrypted (%d batches)", layer.Name, len(batches))
	}

	p.logger.PrintRunningTime("[recrypt] ReEncryptDocument", start)
	return out, nil
}

func (p *Pipeline) reEncrypt(data []byte, tk fhe.TransformKey) ([]byte, error) {
	ct, err := p.backend.ParseCiphertext(data)
	if err != nil {
		return nil, err
	}
	moved, err := p.backend.ReEncrypt(ct, tk)
	if err != nil {
		return nil, err
	}
	out, err := moved.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %T.MarshalBinary: %w", fhe.ErrEngine, moved, err)
	}
	return out, nil
}

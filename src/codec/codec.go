// Package codec maps per-layer weight summaries onto fixed-width encrypted batches and back.
package codec

import (
	"fmt"
	"time"

	"flpre/src/fhe"
	"flpre/src/utils"
	"flpre/src/weights"
)

type Codec struct {
	backend fhe.Backend
	logger  utils.Logger
}

func New(backend fhe.Backend, logger utils.Logger) *Codec {
	return &Codec{backend: backend, logger: logger}
}

// Partition splits values into consecutive chunks of width, the last one zero-padded.
func Partition(values []float64, width int) [][]float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	n := (len(values) + width - 1) / width
	chunks := make([][]float64, n)
	for i := 0; i < n; i++ {
		chunk := make([]float64, width)
		copy(chunk, values[i*width:min((i+1)*width, len(values))])
		chunks[i] = chunk
	}
	return chunks
}

// Encode encrypts a plaintext summary under pk. Optimizer layers are dropped.
// Scalars are encrypted as single-element batches.
func (c *Codec) Encode(doc *weights.Document, pk fhe.PublicKey) (*weights.Document, error) {
	if err := doc.Expect(false); err != nil {
		return nil, err
	}
	start := time.Now()
	out := &weights.Document{Layers: make([]weights.Layer, 0, len(doc.Layers))}

	for _, layer := range doc.Layers {
		if layer.IsOptimizerState() {
			c.logger.PrintFormatted("[encrypt] Skipping optimizer layer: %s", layer.Name)
			continue
		}

		mean, err := c.seal(pk, []float64{layer.Mean.Plain})
		if err != nil {
			return nil, fmt.Errorf("layer %q mean: %w", layer.Name, err)
		}
		std, err := c.seal(pk, []float64{layer.StdDev.Plain})
		if err != nil {
			return nil, fmt.Errorf("layer %q std_dev: %w", layer.Name, err)
		}

		chunks := Partition(layer.Values.Plain, c.backend.BatchWidth())
		batches := make([][]byte, len(chunks))
		for i, chunk := range chunks {
			if batches[i], err = c.seal(pk, chunk); err != nil {
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
		c.logger.PrintFormatted("[encrypt] %s %v: %d values in %d batches", layer.Name, layer.Shape, len(layer.Values.Plain), len(batches))
	}

	c.logger.PrintRunningTime("[encrypt] Encode", start)
	return out, nil
}

// Decode decrypts a sealed summary with sk. Recovered values beyond the shape's element count are padding and dropped.
func (c *Codec) Decode(doc *weights.Document, sk fhe.PrivateKey) (*weights.Document, error) {
	if err := doc.Expect(true); err != nil {
		return nil, err
	}
	start := time.Now()
	out := &weights.Document{Layers: make([]weights.Layer, 0, len(doc.Layers))}

	for _, layer := range doc.Layers {
		if err := layer.Validate(); err != nil {
			return nil, err
		}
		mean, err := c.open(sk, layer.Mean.Cipher)
		if err != nil {
			return nil, fmt.Errorf("layer %q mean: %w", layer.Name, err)
		}
		std, err := c.open(sk, layer.StdDev.Cipher)
		if err != nil {
			return nil, fmt.Errorf("layer %q std_dev: %w", layer.Name, err)
		}

		values := make([]float64, 0, len(layer.Values.Batches)*c.backend.BatchWidth())
		for i, batch := range layer.Values.Batches {
			slots, err := c.open(sk, batch)
			if err != nil {
				return nil, fmt.Errorf("layer %q batch %d: %w", layer.Name, i, err)
			}
			values = append(values, slots...)
		}
		if expected := layer.ExpectedCount(); len(values) > expected {
			values = values[:expected]
		}

		out.Layers = append(out.Layers, weights.Layer{
			Name:   layer.Name,
			Shape:  append([]int(nil), layer.Shape...),
			Mean:   weights.PlainScalar(mean[0]),
			StdDev: weights.PlainScalar(std[0]),
			Values: weights.PlainValues(values),
		})
		c.logger.PrintFormatted("[decrypt] %s %v: %d values", layer.Name, layer.Shape, len(values))
	}

	c.logger.PrintRunningTime("[decrypt] Decode", start)
	return out, nil
}

func (c *Codec) seal(pk fhe.PublicKey, values []float64) ([]byte, error) {
	ct, err := c.backend.Encrypt(pk, values)
	if err != nil {
		return nil, err
	}
	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %T.MarshalBinary: %w", fhe.ErrEngine, ct, err)
	}
	return data, nil
}

func (c *Codec) open(sk fhe.PrivateKey, data []byte) ([]float64, error) {
	ct, err := c.backend.ParseCiphertext(data)
	if err != nil {
		return nil, err
	}
	slots, err := c.backend.Decrypt(sk, ct)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: decryption returned no slots", fhe.ErrEngine)
	}
	return slots, nil
}

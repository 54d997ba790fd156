// Package aggregation averages two encrypted weight summaries living in the same domain.
package aggregation

import (
	"fmt"
	"time"

	"flpre/src/fhe"
	"flpre/src/utils"
	"flpre/src/weights"
)

// Factor scales the sum of the two parties' ciphertexts into their mean.
const Factor = 0.5

type Aggregator struct {
	backend fhe.Backend
	logger  utils.Logger
}

func New(backend fhe.Backend, logger utils.Logger) *Aggregator {
	return &Aggregator{backend: backend, logger: logger}
}

// Aggregate pairs every layer of native with every layer of reencrypted sharing its name and shape,
// duplicates included, and emits Factor*(native+reencrypted) under the native layer's name and shape.
// Value batches are paired by index up to the shorter list.
func (a *Aggregator) Aggregate(native, reencrypted *weights.Document) (*weights.Document, error) {
	if err := native.Expect(true); err != nil {
		return nil, fmt.Errorf("native document: %w", err)
	}
	if err := reencrypted.Expect(true); err != nil {
		return nil, fmt.Errorf("re-encrypted document: %w", err)
	}
	start := time.Now()
	out := &weights.Document{Layers: []weights.Layer{}}

	for _, lb := range native.Layers {
		matched := false
		for _, la := range reencrypted.Layers {
			if !lb.SameTensor(la) {
				continue
			}
			matched = true

			layer, err := a.average(lb, la)
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", lb.Name, err)
			}
			out.Layers = append(out.Layers, layer)
			a.logger.PrintFormatted("[agg] Layer %s aggregated (%d batches)", lb.Name, layer.Values.Len())
		}
		if !matched {
			a.logger.PrintFormatted("[agg] Layer %s %v has no counterpart, skipped", lb.Name, lb.Shape)
		}
	}

	a.logger.PrintRunningTime("[agg] Aggregate", start)
	return out, nil
}

func (a *Aggregator) average(lb, la weights.Layer) (weights.Layer, error) {
	mean, err := a.mean(lb.Mean.Cipher, la.Mean.Cipher)
	if err != nil {
		return weights.Layer{}, fmt.Errorf("mean: %w", err)
	}
	std, err := a.mean(lb.StdDev.Cipher, la.StdDev.Cipher)
	if err != nil {
		return weights.Layer{}, fmt.Errorf("std_dev: %w", err)
	}

	n := min(len(lb.Values.Batches), len(la.Values.Batches))
	batches := make([][]byte, n)
	for i := 0; i < n; i++ {
		if batches[i], err = a.mean(lb.Values.Batches[i], la.Values.Batches[i]); err != nil {
			return weights.Layer{}, fmt.Errorf("batch %d: %w", i, err)
		}
	}

	return weights.Layer{
		Name:   lb.Name,
		Shape:  append([]int(nil), lb.Shape...),
		Mean:   weights.SealedScalar(mean),
		StdDev: weights.SealedScalar(std),
		Values: weights.SealedValues(batches),
	}, nil
}

func (a *Aggregator) mean(x, y []byte) ([]byte, error) {
	cx, err := a.backend.ParseCiphertext(x)
	if err != nil {
		return nil, err
	}
	cy, err := a.backend.ParseCiphertext(y)
	if err != nil {
		return nil, err
	}
	sum, err := a.backend.Add(cx, cy)
	if err != nil {
		return nil, err
	}
	avg, err := a.backend.ScalarMultiply(sum, Factor)
	if err != nil {
		return nil, err
	}
	data, err := avg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %T.MarshalBinary: %w", fhe.ErrEngine, avg, err)
	}
	return data, nil
}

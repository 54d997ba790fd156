package weights

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Tensor is a raw flattened tensor as exported by the training side.
type Tensor struct {
	Name   string    `json:"layer"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// TensorSet is the input of Summarize: {"tensors": [...]}.
type TensorSet struct {
	Tensors []Tensor `json:"tensors"`
}

// Summarize computes the mean and the population standard deviation of a tensor.
func Summarize(t Tensor) (Layer, error) {
	layer := Layer{
		Name:   t.Name,
		Shape:  append([]int(nil), t.Shape...),
		Values: PlainValues(append([]float64{}, t.Values...)),
	}
	if err := layer.Validate(); err != nil {
		return layer, err
	}
	if len(t.Values) != layer.ExpectedCount() {
		return layer, fmt.Errorf("%w: layer %q has %d values for shape %v", ErrSchema, t.Name, len(t.Values), t.Shape)
	}

	data := stats.Float64Data(t.Values)
	mean, err := data.Mean()
	if err != nil {
		return layer, fmt.Errorf("layer %q: mean: %w", t.Name, err)
	}
	std, err := data.StandardDeviationPopulation()
	if err != nil {
		return layer, fmt.Errorf("layer %q: std_dev: %w", t.Name, err)
	}
	layer.Mean = PlainScalar(mean)
	layer.StdDev = PlainScalar(std)
	return layer, nil
}

// SummarizeAll summarizes every tensor in order.
func SummarizeAll(set TensorSet) (*Document, error) {
	doc := &Document{Layers: make([]Layer, 0, len(set.Tensors))}
	for _, t := range set.Tensors {
		layer, err := Summarize(t)
		if err != nil {
			return nil, err
		}
		doc.Layers = append(doc.Layers, layer)
	}
	return doc, nil
}

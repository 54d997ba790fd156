package weights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"flpre/src/utils"
)

// ParseModelWeights reads a model export of the form {"fc1": [[...], ...], "fc2": [...]}.
// Every key becomes a tensor, in file order, flattened in row-major order with its shape
// taken from the nesting. Entries that are not arrays, such as "input_size": 784, are skipped.
func ParseModelWeights(data []byte) (TensorSet, error) {
	var set TensorSet
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return set, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return set, fmt.Errorf("%w: model weights must be a JSON object", ErrSchema)
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return set, fmt.Errorf("%w: %w", ErrSchema, err)
		}
		name := tok.(string)
		var raw json.RawMessage
		if err = dec.Decode(&raw); err != nil {
			return set, fmt.Errorf("%w: %s: %w", ErrSchema, name, err)
		}
		if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '[' {
			continue
		}
		var nested any
		if err = json.Unmarshal(raw, &nested); err != nil {
			return set, fmt.Errorf("%w: %s: %w", ErrSchema, name, err)
		}
		shape, err := shapeOf(nested)
		if err != nil {
			return set, fmt.Errorf("%w: %s: %w", ErrSchema, name, err)
		}
		count, _ := product(shape)
		values, err := flatten(nested, make([]float64, 0, count))
		if err != nil {
			return set, fmt.Errorf("%w: %s: %w", ErrSchema, name, err)
		}
		set.Tensors = append(set.Tensors, Tensor{Name: name, Shape: shape, Values: values})
	}
	if tok, err = dec.Token(); err != nil || tok != json.Delim('}') {
		return set, fmt.Errorf("%w: unterminated model weights object", ErrSchema)
	}
	return set, nil
}

// LoadTensors reads raw tensors at path, either {"tensors": [...]} or a model export.
func LoadTensors(path string) (TensorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TensorSet{}, fmt.Errorf("%w: os.ReadFile(%s): %w", utils.ErrArtifact, path, err)
	}
	var wrapped struct {
		Tensors *[]Tensor `json:"tensors"`
	}
	if err = json.Unmarshal(data, &wrapped); err == nil && wrapped.Tensors != nil {
		return TensorSet{Tensors: *wrapped.Tensors}, nil
	}
	set, err := ParseModelWeights(data)
	if err != nil {
		return set, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// shapeOf walks the first element at every depth and checks that the nesting is rectangular.
func shapeOf(v any) ([]int, error) {
	arr, ok := v.([]any)
	if !ok {
		if _, ok = v.(float64); !ok {
			return nil, fmt.Errorf("expected a number, got %T", v)
		}
		return []int{}, nil
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty dimension")
	}
	inner, err := shapeOf(arr[0])
	if err != nil {
		return nil, err
	}
	for _, e := range arr[1:] {
		s, err := shapeOf(e)
		if err != nil {
			return nil, err
		}
		if !equalShape(s, inner) {
			return nil, fmt.Errorf("ragged array: %v vs %v", s, inner)
		}
	}
	return append([]int{len(arr)}, inner...), nil
}

// flatten appends the leaves of v to dst in row-major order.
func flatten(v any, dst []float64) ([]float64, error) {
	switch v := v.(type) {
	case float64:
		return append(dst, v), nil
	case []any:
		var err error
		for _, e := range v {
			if dst, err = flatten(e, dst); err != nil {
				return nil, err
			}
		}
		return dst, nil
	}
	return nil, fmt.Errorf("expected a number, got %T", v)
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// product multiplies the dimensions of shape; ok is false when the result does not fit an int.
func product(shape []int) (n int, ok bool) {
	n = 1
	for _, d := range shape {
		if d < 0 || (d > 0 && n > math.MaxInt/d) {
			return 0, false
		}
		n *= d
	}
	return n, true
}

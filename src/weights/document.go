// Package weights holds the weight-summary document exchanged between the parties.
//
// A document is either plaintext, where every field holds numbers, or sealed, where every
// field holds base64 ciphertext blobs. Parsing rejects anything in between.
package weights

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"flpre/configs"
	"flpre/src/utils"
)

// ErrSchema marks a document that does not follow the weight-summary layout.
var ErrSchema = errors.New("weight summary schema violation")

// Scalar is a plaintext number or, when Cipher is set, a serialized ciphertext.
type Scalar struct {
	Plain  float64
	Cipher []byte
}

func PlainScalar(v float64) Scalar { return Scalar{Plain: v} }

func SealedScalar(ct []byte) Scalar { return Scalar{Cipher: ct} }

func (s Scalar) Sealed() bool { return s.Cipher != nil }

func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.Sealed() {
		return json.Marshal(base64.StdEncoding.EncodeToString(s.Cipher))
	}
	return json.Marshal(s.Plain)
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("%w: %w", ErrSchema, err)
		}
		ct, err := decodeBlob(text)
		if err != nil {
			return err
		}
		*s = SealedScalar(ct)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: expected a number or a base64 string, got %s", ErrSchema, data)
	}
	*s = PlainScalar(v)
	return nil
}

// Values is the flattened tensor in plaintext, or its sequence of encrypted batches.
type Values struct {
	Plain   []float64
	Batches [][]byte
}

func PlainValues(v []float64) Values { return Values{Plain: v} }

func SealedValues(batches [][]byte) Values {
	if batches == nil {
		batches = [][]byte{}
	}
	return Values{Batches: batches}
}

func (v Values) Sealed() bool { return v.Batches != nil }

func (v Values) Len() int {
	if v.Sealed() {
		return len(v.Batches)
	}
	return len(v.Plain)
}

func (v Values) MarshalJSON() ([]byte, error) {
	if v.Sealed() {
		blobs := make([]string, len(v.Batches))
		for i, b := range v.Batches {
			blobs[i] = base64.StdEncoding.EncodeToString(b)
		}
		return json.Marshal(blobs)
	}
	if v.Plain == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Plain)
}

// UnmarshalJSON leaves an empty array as plaintext; Layer settles its state.
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: values must be an array: %w", ErrSchema, err)
	}
	if len(raw) == 0 {
		*v = PlainValues([]float64{})
		return nil
	}
	if first := bytes.TrimSpace(raw[0]); len(first) > 0 && first[0] == '"' {
		batches := make([][]byte, len(raw))
		for i, r := range raw {
			var text string
			if err := json.Unmarshal(r, &text); err != nil {
				return fmt.Errorf("%w: values[%d] is not a ciphertext string", ErrSchema, i)
			}
			ct, err := decodeBlob(text)
			if err != nil {
				return fmt.Errorf("values[%d]: %w", i, err)
			}
			batches[i] = ct
		}
		*v = SealedValues(batches)
		return nil
	}
	plain := make([]float64, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &plain[i]); err != nil {
			return fmt.Errorf("%w: values[%d] is not a number", ErrSchema, i)
		}
	}
	*v = PlainValues(plain)
	return nil
}

func decodeBlob(text string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 ciphertext: %w", ErrSchema, err)
	}
	if len(ct) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrSchema)
	}
	return ct, nil
}

// Layer summarizes one tensor.
type Layer struct {
	Name   string `json:"layer"`
	Shape  []int  `json:"shape"`
	Mean   Scalar `json:"mean"`
	StdDev Scalar `json:"std_dev"`
	Values Values `json:"values"`
}

func (l *Layer) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name   *string `json:"layer"`
		Shape  *[]int  `json:"shape"`
		Mean   *Scalar `json:"mean"`
		StdDev *Scalar `json:"std_dev"`
		Values *Values `json:"values"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		if errors.Is(err, ErrSchema) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	switch {
	case aux.Name == nil:
		return fmt.Errorf("%w: layer is missing \"layer\"", ErrSchema)
	case aux.Shape == nil:
		return fmt.Errorf("%w: layer %q is missing \"shape\"", ErrSchema, *aux.Name)
	case aux.Mean == nil:
		return fmt.Errorf("%w: layer %q is missing \"mean\"", ErrSchema, *aux.Name)
	case aux.StdDev == nil:
		return fmt.Errorf("%w: layer %q is missing \"std_dev\"", ErrSchema, *aux.Name)
	case aux.Values == nil:
		return fmt.Errorf("%w: layer %q is missing \"values\"", ErrSchema, *aux.Name)
	}
	*l = Layer{Name: *aux.Name, Shape: *aux.Shape, Mean: *aux.Mean, StdDev: *aux.StdDev, Values: *aux.Values}
	if l.Mean.Sealed() && !l.Values.Sealed() && len(l.Values.Plain) == 0 {
		l.Values = SealedValues(nil)
	}
	return l.Validate()
}

// Validate checks the shape and that every field shares the same state.
func (l Layer) Validate() error {
	for _, d := range l.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: layer %q has non-positive dimension in shape %v", ErrSchema, l.Name, l.Shape)
		}
	}
	if _, ok := product(l.Shape); !ok {
		return fmt.Errorf("%w: layer %q shape %v has more elements than an int can count", ErrSchema, l.Name, l.Shape)
	}
	sealed := l.Mean.Sealed()
	if l.StdDev.Sealed() != sealed || l.Values.Sealed() != sealed {
		return fmt.Errorf("%w: layer %q mixes plaintext and ciphertext fields", ErrSchema, l.Name)
	}
	return nil
}

func (l Layer) Sealed() bool { return l.Mean.Sealed() }

// ExpectedCount is the number of elements of the tensor, the product of its shape. A shape
// whose product overflows counts as math.MaxInt; Validate rejects it.
func (l Layer) ExpectedCount() int {
	n, ok := product(l.Shape)
	if !ok {
		return math.MaxInt
	}
	return n
}

func (l Layer) IsOptimizerState() bool {
	return strings.HasPrefix(l.Name, configs.OptimizerPrefix)
}

// SameTensor reports whether two layers describe the same tensor by name and shape.
func (l Layer) SameTensor(other Layer) bool {
	return l.Name == other.Name && equalShape(l.Shape, other.Shape)
}

// Document is the top level {"weights_summary": [...]} object.
type Document struct {
	Layers []Layer `json:"weights_summary"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var aux struct {
		Layers *[]Layer `json:"weights_summary"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		if errors.Is(err, ErrSchema) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if aux.Layers == nil {
		return fmt.Errorf("%w: missing \"weights_summary\"", ErrSchema)
	}
	d.Layers = *aux.Layers
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	layers := d.Layers
	if layers == nil {
		layers = []Layer{}
	}
	return json.Marshal(struct {
		Layers []Layer `json:"weights_summary"`
	}{layers})
}

// Sealed is true when the document holds ciphertexts. An empty document is both.
func (d Document) Sealed() bool {
	return len(d.Layers) > 0 && d.Layers[0].Sealed()
}

// Expect fails unless every layer is in the requested state.
func (d Document) Expect(sealed bool) error {
	want := "plaintext"
	if sealed {
		want = "encrypted"
	}
	for _, l := range d.Layers {
		if l.Sealed() != sealed {
			return fmt.Errorf("%w: layer %q is not %s", ErrSchema, l.Name, want)
		}
	}
	return nil
}

func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		if errors.Is(err, ErrSchema) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return doc, nil
}

func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: os.ReadFile(%s): %w", utils.ErrArtifact, path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (d *Document) Save(path string) error {
	return utils.WriteJSON(path, d)
}

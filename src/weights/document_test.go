package weights

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainDoc = `{
  "weights_summary": [
    {"layer": "dense/kernel", "shape": [2, 3], "mean": 0.5, "std_dev": 0.1, "values": [1, 2, 3, 4, 5, 6]},
    {"layer": "optimizer/iter", "shape": [], "mean": 3, "std_dev": 0, "values": [3]}
  ]
}`

func sealedDoc() string {
	b := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	return `{"weights_summary": [{"layer": "dense/bias", "shape": [3], "mean": "` + b("m") +
		`", "std_dev": "` + b("s") + `", "values": ["` + b("v0") + `", "` + b("v1") + `"]}]}`
}

func TestParse(t *testing.T) {
	t.Run("Test plaintext document", func(t *testing.T) {
		doc, err := Parse([]byte(plainDoc))
		require.NoError(t, err)
		require.Len(t, doc.Layers, 2)
		assert.False(t, doc.Sealed())
		assert.NoError(t, doc.Expect(false))

		kernel := doc.Layers[0]
		assert.Equal(t, 6, kernel.ExpectedCount())
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, kernel.Values.Plain)
		assert.False(t, kernel.IsOptimizerState())
		assert.True(t, doc.Layers[1].IsOptimizerState())
		assert.Equal(t, 1, doc.Layers[1].ExpectedCount())
	})

	t.Run("Test sealed document", func(t *testing.T) {
		doc, err := Parse([]byte(sealedDoc()))
		require.NoError(t, err)
		assert.True(t, doc.Sealed())
		assert.ErrorIs(t, doc.Expect(false), ErrSchema)

		layer := doc.Layers[0]
		assert.Equal(t, []byte("m"), layer.Mean.Cipher)
		assert.Equal(t, [][]byte{[]byte("v0"), []byte("v1")}, layer.Values.Batches)
	})

	t.Run("Test sealed layer without batches stays sealed", func(t *testing.T) {
		b := base64.StdEncoding.EncodeToString([]byte("x"))
		doc, err := Parse([]byte(`{"weights_summary":[{"layer":"l","shape":[1],"mean":"` + b + `","std_dev":"` + b + `","values":[]}]}`))
		require.NoError(t, err)
		assert.True(t, doc.Layers[0].Values.Sealed())
		assert.Equal(t, 0, doc.Layers[0].Values.Len())
	})

	t.Run("Test schema failures", func(t *testing.T) {
		for name, input := range map[string]string{
			"missing root":   `{"layers": []}`,
			"missing shape":  `{"weights_summary":[{"layer":"l","mean":1,"std_dev":1,"values":[]}]}`,
			"missing values": `{"weights_summary":[{"layer":"l","shape":[1],"mean":1,"std_dev":1}]}`,
			"mixed fields":   `{"weights_summary":[{"layer":"l","shape":[1],"mean":"eA==","std_dev":1,"values":[]}]}`,
			"mixed values":   `{"weights_summary":[{"layer":"l","shape":[2],"mean":1,"std_dev":1,"values":[1,"eA=="]}]}`,
			"bad base64":     `{"weights_summary":[{"layer":"l","shape":[1],"mean":"%%%","std_dev":"eA==","values":[]}]}`,
			"zero dimension": `{"weights_summary":[{"layer":"l","shape":[0],"mean":1,"std_dev":1,"values":[]}]}`,
			"not json":       `weights`,
			"huge shape":     `{"weights_summary":[{"layer":"l","shape":[3037000500,3037000500],"mean":1,"std_dev":1,"values":[]}]}`,
		} {
			_, err := Parse([]byte(input))
			assert.ErrorIs(t, err, ErrSchema, name)
		}
	})
}

func TestExpectedCountSaturates(t *testing.T) {
	layer := Layer{Name: "l", Shape: []int{3037000500, 3037000500}}
	assert.Equal(t, math.MaxInt, layer.ExpectedCount())
	assert.ErrorIs(t, layer.Validate(), ErrSchema)

	layer.Shape = []int{1 << 15, 1 << 15}
	assert.Equal(t, 1<<30, layer.ExpectedCount())
	assert.NoError(t, layer.Validate())
}

func TestDocumentRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sealedDoc()))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "enc.json")
	require.NoError(t, doc.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, loaded); diff != "" {
		t.Errorf("document changed on disk (-want +got):\n%s", diff)
	}

	raw, err := json.Marshal(&Document{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"weights_summary": []}`, string(raw))
}

func TestSummarize(t *testing.T) {
	t.Run("Test population statistics", func(t *testing.T) {
		layer, err := Summarize(Tensor{Name: "dense/kernel", Shape: []int{2, 2}, Values: []float64{1, 2, 3, 4}})
		require.NoError(t, err)
		assert.InDelta(t, 2.5, layer.Mean.Plain, 1e-12)
		assert.InDelta(t, math.Sqrt(1.25), layer.StdDev.Plain, 1e-12)
		assert.Equal(t, []float64{1, 2, 3, 4}, layer.Values.Plain)
	})

	t.Run("Test shape must match the values", func(t *testing.T) {
		_, err := Summarize(Tensor{Name: "l", Shape: []int{3}, Values: []float64{1, 2}})
		assert.ErrorIs(t, err, ErrSchema)
	})

	t.Run("Test order is preserved", func(t *testing.T) {
		doc, err := SummarizeAll(TensorSet{Tensors: []Tensor{
			{Name: "b", Shape: []int{1}, Values: []float64{1}},
			{Name: "a", Shape: []int{1}, Values: []float64{2}},
		}})
		require.NoError(t, err)
		require.Len(t, doc.Layers, 2)
		assert.Equal(t, "b", doc.Layers[0].Name)
		assert.Equal(t, "a", doc.Layers[1].Name)
	})
}

package stages

import (
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flpre/configs"
	"flpre/src/fhe"
	"flpre/src/utils"
	"flpre/src/weights"
)

type layout struct {
	dir string
}

func (l layout) path(p string) string { return filepath.Join(l.dir, filepath.FromSlash(p)) }

func setup(t *testing.T, backend string) (layout, utils.Logger) {
	t.Helper()
	l := layout{dir: t.TempDir()}
	logger := utils.NewLoggerTo(io.Discard, true)

	require.NoError(t, utils.WriteJSON(l.path("server/config/config_cc.json"), map[string]any{
		"MultiplicativeDepth": 2,
		"ScalingModSize":      50,
		"BatchSize":           4,
		"PREMode":             configs.PREModeINDCPA,
		"Backend":             backend,
		"LogN":                12,
	}))
	cc, err := GenerateContext(l.path("server/config/config_cc.json"), l.path("server/storage/CC.json"), logger)
	require.NoError(t, err)
	assert.Equal(t, backend, cc.Backend)
	assert.Len(t, cc.Fingerprint(), 16)

	for i, base := range []float64{1, 7} {
		values := make([]float64, 6)
		for j := range values {
			values[j] = base + float64(j)
		}
		tensors := []weights.Tensor{{Name: "dense/kernel", Shape: []int{2, 3}, Values: values}}
		if i == 0 {
			tensors = append(tensors, weights.Tensor{Name: "optimizer/m", Shape: []int{1}, Values: []float64{9}})
		}
		client := []string{"client_1", "client_2"}[i]
		require.NoError(t, utils.WriteJSON(l.path(client+"/raw.json"), weights.TensorSet{Tensors: tensors}))
		require.NoError(t, SummarizeWeights(l.path(client+"/raw.json"), l.path(client+"/weights.json"), logger))
		require.NoError(t, GenerateKeys(l.path("server/storage/CC.json"), l.path(client+"/pubkey.json"), l.path(client+"/privkey.json"), logger))
	}
	return l, logger
}

func TestPipeline(t *testing.T) {
	for backend, tol := range map[string]float64{configs.BackendTagged: 1e-9, configs.BackendCKKS: 1e-4} {
		t.Run(backend, func(t *testing.T) { testPipeline(t, backend, tol) })
	}
}

func testPipeline(t *testing.T, backend string, tol float64) {
	l, logger := setup(t, backend)
	cc := l.path("server/storage/CC.json")

	require.NoError(t, EncryptWeights(cc, l.path("client_1/pubkey.json"), l.path("client_1/weights.json"), l.path("client_1/enc.json"), logger))
	require.NoError(t, EncryptWeights(cc, l.path("client_2/pubkey.json"), l.path("client_2/weights.json"), l.path("client_2/enc.json"), logger))

	enc1, err := weights.Load(l.path("client_1/enc.json"))
	require.NoError(t, err)
	require.Len(t, enc1.Layers, 1)
	assert.True(t, enc1.Sealed())
	assert.Equal(t, 2, enc1.Layers[0].Values.Len())

	require.NoError(t, GenerateTransformKey(cc, l.path("client_1/privkey.json"), l.path("client_2/pubkey.json"), l.path("client_1/rekey.json"), logger))
	require.NoError(t, ChangeDomain(cc, l.path("client_1/rekey.json"), l.path("client_1/enc.json"), l.path("server/domain_changed.json"), logger))

	t.Run("Test re-encrypted document opens under the peer key", func(t *testing.T) {
		require.NoError(t, DecryptWeights(cc, l.path("client_2/privkey.json"), l.path("server/domain_changed.json"), l.path("client_2/moved.json"), logger))
		moved, err := weights.Load(l.path("client_2/moved.json"))
		require.NoError(t, err)
		require.Len(t, moved.Layers, 1)
		assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5, 6}, moved.Layers[0].Values.Plain, tol)
		assert.InDelta(t, 3.5, moved.Layers[0].Mean.Plain, tol)
	})

	t.Run("Test aggregated document is the average", func(t *testing.T) {
		require.NoError(t, AggregateWeights(cc, l.path("client_2/enc.json"), l.path("server/domain_changed.json"), l.path("server/aggregated.json"), logger))
		require.NoError(t, DecryptWeights(cc, l.path("client_2/privkey.json"), l.path("server/aggregated.json"), l.path("client_2/dec.json"), logger))

		dec, err := weights.Load(l.path("client_2/dec.json"))
		require.NoError(t, err)
		require.Len(t, dec.Layers, 1)
		layer := dec.Layers[0]
		assert.Equal(t, "dense/kernel", layer.Name)
		assert.Equal(t, []int{2, 3}, layer.Shape)
		assert.InDeltaSlice(t, []float64{4, 5, 6, 7, 8, 9}, layer.Values.Plain, tol)
		assert.InDelta(t, 6.5, layer.Mean.Plain, tol)
		assert.InDelta(t, math.Sqrt(35.0/12.0), layer.StdDev.Plain, tol)
	})

	t.Run("Test foreign key decrypts to noise", func(t *testing.T) {
		require.NoError(t, DecryptWeights(cc, l.path("client_2/privkey.json"), l.path("client_1/enc.json"), l.path("client_2/noise.json"), logger))
		noise, err := weights.Load(l.path("client_2/noise.json"))
		require.NoError(t, err)
		assert.NotEqual(t, []float64{1, 2, 3, 4, 5, 6}, noise.Layers[0].Values.Plain)
	})
}

func TestStageFailures(t *testing.T) {
	l, logger := setup(t, configs.BackendTagged)
	cc := l.path("server/storage/CC.json")

	t.Run("Test missing public key", func(t *testing.T) {
		out := l.path("client_1/enc.json")
		err := EncryptWeights(cc, l.path("client_1/none.json"), l.path("client_1/weights.json"), out, logger)
		var ae *ArtifactError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "public key", ae.Artifact)
		assert.ErrorIs(t, err, utils.ErrArtifact)
		assert.NoFileExists(t, out)
	})

	t.Run("Test missing context", func(t *testing.T) {
		err := GenerateKeys(l.path("CC.json"), l.path("pk.json"), l.path("sk.json"), logger)
		var ae *ArtifactError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "CryptoContext", ae.Artifact)
		assert.NoFileExists(t, l.path("pk.json"))
	})

	t.Run("Test private key where a public key is expected", func(t *testing.T) {
		err := EncryptWeights(cc, l.path("client_1/privkey.json"), l.path("client_1/weights.json"), l.path("client_1/enc.json"), logger)
		var ae *ArtifactError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "public key", ae.Artifact)
	})

	t.Run("Test decrypting a plaintext document", func(t *testing.T) {
		out := l.path("client_1/dec.json")
		err := DecryptWeights(cc, l.path("client_1/privkey.json"), l.path("client_1/weights.json"), out, logger)
		assert.ErrorIs(t, err, weights.ErrSchema)
		assert.NoFileExists(t, out)
	})

	t.Run("Test malformed document", func(t *testing.T) {
		require.NoError(t, utils.WriteJSON(l.path("bad.json"), map[string]any{"layers": []any{}}))
		err := ChangeDomain(cc, l.path("client_1/privkey.json"), l.path("bad.json"), l.path("out.json"), logger)
		var ae *ArtifactError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "re-encryption key", ae.Artifact)

		require.NoError(t, GenerateTransformKey(cc, l.path("client_1/privkey.json"), l.path("client_2/pubkey.json"), l.path("rekey.json"), logger))
		err = ChangeDomain(cc, l.path("rekey.json"), l.path("bad.json"), l.path("out.json"), logger)
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "encrypted weights", ae.Artifact)
		assert.ErrorIs(t, err, weights.ErrSchema)
		assert.NoFileExists(t, l.path("out.json"))
	})

	t.Run("Test invalid context configuration", func(t *testing.T) {
		require.NoError(t, utils.WriteJSON(l.path("cc_bad.json"), map[string]any{"BatchSize": 0}))
		_, err := GenerateContext(l.path("cc_bad.json"), l.path("cc_out.json"), logger)
		assert.ErrorIs(t, err, configs.ErrConfig)
		assert.NoFileExists(t, l.path("cc_out.json"))
	})
}

func TestRunCLI(t *testing.T) {
	ok := func(args []string, logger utils.Logger) error { return nil }
	fail := func(args []string, logger utils.Logger) error {
		return &ArtifactError{Artifact: "public key", Path: args[0], Err: fhe.ErrEngine}
	}

	assert.Equal(t, 0, RunCLI("keygen", "<a>", []string{"-quiet", "x"}, 1, ok))
	assert.Equal(t, 1, RunCLI("keygen", "<a>", []string{"x", "y"}, 1, ok))
	assert.Equal(t, 1, RunCLI("keygen", "<a>", []string{"-unknown", "x"}, 1, ok))
	assert.Equal(t, 1, RunCLI("keygen", "<a>", []string{"-quiet", "x"}, 1, fail))
}

func TestCheckContext(t *testing.T) {
	l, logger := setup(t, configs.BackendTagged)
	prec, err := CheckContext(l.path("server/storage/CC.json"), 1, logger)
	require.NoError(t, err)
	assert.InDelta(t, 0, prec.Encrypt, 1e-12)
	assert.InDelta(t, 0, prec.Add, 1e-12)
	assert.InDelta(t, 0, prec.ScalarMultiply, 1e-12)
	assert.InDelta(t, 0, prec.ReEncrypt, 1e-12)

	_, err = CheckContext(l.path("missing.json"), 1, logger)
	assert.ErrorIs(t, err, utils.ErrArtifact)
}

func TestCheckContextCKKS(t *testing.T) {
	l, logger := setup(t, configs.BackendCKKS)
	prec, err := CheckContext(l.path("server/storage/CC.json"), 1, logger)
	require.NoError(t, err)
	assert.Less(t, prec.Encrypt, 1e-4)
	assert.Less(t, prec.Add, 1e-4)
	assert.Less(t, prec.ScalarMultiply, 1e-4)
	assert.Less(t, prec.ReEncrypt, 1e-4)
}

func TestRunRound(t *testing.T) {
	root := t.TempDir()
	logger := utils.NewLoggerTo(io.Discard, true)

	require.NoError(t, utils.WriteJSON(filepath.Join(root, configs.ContextConfigFile), map[string]any{
		"BatchSize": 2,
		"Backend":   configs.BackendTagged,
	}))
	for i, v := range [][]float64{{1, 2, 3}, {3, 4, 5}} {
		layer, err := weights.Summarize(weights.Tensor{Name: "dense/bias", Shape: []int{3}, Values: v})
		require.NoError(t, err)
		doc := &weights.Document{Layers: []weights.Layer{layer}}
		require.NoError(t, doc.Save(configs.ClientPath(root, Parties[i], configs.PlainWeights)))
	}

	require.NoError(t, RunRound(root, logger))
	pk, err := fhe.LoadKey(configs.ClientPath(root, Parties[0], configs.PublicKey), fhe.KindPublicKey)
	require.NoError(t, err)

	// a second round reuses the context and the keys
	require.NoError(t, RunRound(root, logger))
	again, err := fhe.LoadKey(configs.ClientPath(root, Parties[0], configs.PublicKey), fhe.KindPublicKey)
	require.NoError(t, err)
	assert.Equal(t, pk.Data, again.Data)

	for _, party := range Parties {
		dec, err := weights.Load(configs.ClientPath(root, party, configs.DecryptedWeights))
		require.NoError(t, err, party)
		require.Len(t, dec.Layers, 1)
		assert.InDeltaSlice(t, []float64{2, 3, 4}, dec.Layers[0].Values.Plain, 1e-9, party)
		assert.InDelta(t, 3.0, dec.Layers[0].Mean.Plain, 1e-9, party)
	}
}

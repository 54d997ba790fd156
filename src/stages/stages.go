// Package stages holds the one-shot pipeline steps behind the command line tools. Each stage
// loads every input, computes its whole output in memory and writes it once, so a failed stage
// leaves no output behind.
package stages

import (
	"flag"
	"fmt"
	"time"

	"flpre/configs"
	"flpre/src/aggregation"
	"flpre/src/codec"
	"flpre/src/domainchange"
	"flpre/src/fhe"
	"flpre/src/fhe/backend"
	"flpre/src/utils"
	"flpre/src/weights"
)

// ArtifactError names the artifact a stage failed to load, generate or save.
type ArtifactError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

func artifact(name, path string, err error) error {
	if err == nil {
		return nil
	}
	return &ArtifactError{Artifact: name, Path: path, Err: err}
}

// RunCLI parses the stage flags, checks the positional arguments and runs the stage.
// It returns the process exit code.
func RunCLI(name, usage string, args []string, nargs int, run func(args []string, logger utils.Logger) error) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	quiet := fs.Bool("quiet", false, "only report errors")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [-quiet] %s\n", name, usage)
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != nargs {
		fs.Usage()
		return 1
	}

	logger := utils.NewLogger(utils.DEBUG && !*quiet)
	start := time.Now()
	if err := run(fs.Args(), logger); err != nil {
		logger.PrintError("%s: %v", name, err)
		return 1
	}
	logger.PrintRunningTime(name, start)
	return 0
}

// openContext loads the CryptoContext at path and opens its engine.
func openContext(path string, logger utils.Logger) (fhe.Backend, error) {
	cc, err := fhe.LoadCryptoContext(path)
	if err != nil {
		return nil, artifact("CryptoContext", path, err)
	}
	b, err := backend.Open(cc)
	if err != nil {
		return nil, artifact("CryptoContext", path, err)
	}
	logger.PrintFormatted("Loaded CryptoContext %s", cc)
	return b, nil
}

// checkContext reports a key generated under another context. It never fails.
func checkContext(b fhe.Backend, name string, kf fhe.KeyFile, logger utils.Logger) {
	if fp := b.Context().Fingerprint(); kf.Context != fp {
		logger.PrintFormatted("Warning: %s was generated under context %s, loaded context is %s", name, kf.Context, fp)
	}
}

func loadDocument(name, path string) (*weights.Document, error) {
	doc, err := weights.Load(path)
	return doc, artifact(name, path, err)
}

// GenerateContext freezes the context configuration at configPath into a CryptoContext.
func GenerateContext(configPath, out string, logger utils.Logger) (fhe.CryptoContext, error) {
	logger.PrintHeader("Generating CryptoContext")
	cfg, err := configs.LoadContextConfig(configPath)
	if err != nil {
		return fhe.CryptoContext{}, artifact("context configuration", configPath, err)
	}
	cc, err := fhe.NewCryptoContext(cfg)
	if err != nil {
		return cc, artifact("context configuration", configPath, err)
	}
	if _, err = backend.Open(cc); err != nil {
		return cc, artifact("CryptoContext", out, err)
	}
	if err = cc.Save(out); err != nil {
		return cc, artifact("CryptoContext", out, err)
	}
	logger.PrintFormatted("CryptoContext %s saved to %s", cc, out)
	logger.PrintMessages("Fingerprint: ", cc.Fingerprint())
	return cc, nil
}

// GenerateKeys creates a key pair for one party.
func GenerateKeys(ccPath, pubOut, privOut string, logger utils.Logger) error {
	logger.PrintHeader("Generating key pair")
	b, err := openContext(ccPath, logger)
	if err != nil {
		return err
	}
	pk, sk, err := b.KeyGen()
	if err != nil {
		return artifact("key pair", pubOut, err)
	}
	if err = fhe.SaveKey(pubOut, b.Context(), fhe.KindPublicKey, pk); err != nil {
		return artifact("public key", pubOut, err)
	}
	if err = fhe.SaveKey(privOut, b.Context(), fhe.KindPrivateKey, sk); err != nil {
		return artifact("private key", privOut, err)
	}
	logger.PrintFormatted("Public key saved to %s", pubOut)
	logger.PrintFormatted("Private key saved to %s", privOut)
	logger.PrintMemUsage("keygen")
	return nil
}

// GenerateTransformKey derives the key moving ciphertexts from the owner's domain to the peer's.
func GenerateTransformKey(ccPath, ownerPriv, peerPub, out string, logger utils.Logger) error {
	logger.PrintHeader("Generating re-encryption key")
	b, err := openContext(ccPath, logger)
	if err != nil {
		return err
	}
	sk, kf, err := fhe.LoadPrivateKey(b, ownerPriv)
	if err != nil {
		return artifact("private key", ownerPriv, err)
	}
	checkContext(b, "private key", kf, logger)
	pk, kf, err := fhe.LoadPublicKey(b, peerPub)
	if err != nil {
		return artifact("peer public key", peerPub, err)
	}
	checkContext(b, "peer public key", kf, logger)

	tk, err := b.DeriveTransformKey(sk, pk)
	if err != nil {
		return artifact("re-encryption key", out, err)
	}
	if err = fhe.SaveKey(out, b.Context(), fhe.KindTransformKey, tk); err != nil {
		return artifact("re-encryption key", out, err)
	}
	logger.PrintFormatted("Re-encryption key saved to %s", out)
	logger.PrintMemUsage("rekeygen")
	return nil
}

// EncryptWeights encrypts a plaintext weight summary under a public key.
func EncryptWeights(ccPath, pubPath, in, out string, logger utils.Logger) error {
	logger.PrintHeader("Encrypting model weights")
	b, err := openContext(ccPath, logger)
	if err != nil {
		return err
	}
	pk, kf, err := fhe.LoadPublicKey(b, pubPath)
	if err != nil {
		return artifact("public key", pubPath, err)
	}
	checkContext(b, "public key", kf, logger)
	doc, err := loadDocument("input weights", in)
	if err != nil {
		return err
	}

	sealed, err := codec.New(b, logger).Encode(doc, pk)
	if err != nil {
		return artifact("input weights", in, err)
	}
	if err = sealed.Save(out); err != nil {
		return artifact("encrypted weights", out, err)
	}
	logger.PrintFormatted("[encrypt] Encrypted weights saved to %s", out)
	return nil
}

// DecryptWeights opens an encrypted weight summary with a private key.
func DecryptWeights(ccPath, privPath, in, out string, logger utils.Logger) error {
	logger.PrintHeader("Decrypting model weights")
	b, err := openContext(ccPath, logger)
	if err != nil {
		return err
	}
	sk, kf, err := fhe.LoadPrivateKey(b, privPath)
	if err != nil {
		return artifact("private key", privPath, err)
	}
	checkContext(b, "private key", kf, logger)
	doc, err := loadDocument("encrypted weights", in)
	if err != nil {
		return err
	}

	plain, err := codec.New(b, logger).Decode(doc, sk)
	if err != nil {
		return artifact("encrypted weights", in, err)
	}
	if err = plain.Save(out); err != nil {
		return artifact("decrypted weights", out, err)
	}
	for _, l := range plain.Layers {
		logger.PrintSummarizedVector(l.Name, l.Values.Plain, len(l.Values.Plain))
	}
	logger.PrintFormatted("[decrypt] Decrypted weights saved to %s", out)
	return nil
}

// ChangeDomain re-encrypts an encrypted weight summary with a transform key.
func ChangeDomain(ccPath, tkPath, in, out string, logger utils.Logger) error {
	logger.PrintHeader("Changing cipher domain")
	b, err := openContext(ccPath, logger)
	if err != nil {
		return err
	}
	tk, kf, err := fhe.LoadTransformKey(b, tkPath)
	if err != nil {
		return artifact("re-encryption key", tkPath, err)
	}
	checkContext(b, "re-encryption key", kf, logger)
	doc, err := loadDocument("encrypted weights", in)
	if err != nil {
		return err
	}

	moved, err := domainchange.New(b, logger).ReEncryptDocument(doc, tk)
	if err != nil {
		return artifact("encrypted weights", in, err)
	}
	if err = moved.Save(out); err != nil {
		return artifact("re-encrypted weights", out, err)
	}
	logger.PrintFormatted("[recrypt] Re-encrypted weights saved to %s", out)
	return nil
}

// AggregateWeights averages a native document with a document re-encrypted into its domain.
func AggregateWeights(ccPath, nativePath, reencryptedPath, out string, logger utils.Logger) error {
	logger.PrintHeader("Aggregating encrypted weights")
	b, err := openContext(ccPath, logger)
	if err != nil {
		return err
	}
	native, err := loadDocument("native encrypted weights", nativePath)
	if err != nil {
		return err
	}
	reencrypted, err := loadDocument("re-encrypted weights", reencryptedPath)
	if err != nil {
		return err
	}

	agg, err := aggregation.New(b, logger).Aggregate(native, reencrypted)
	if err != nil {
		return artifact("aggregated weights", out, err)
	}
	if err = agg.Save(out); err != nil {
		return artifact("aggregated weights", out, err)
	}
	logger.PrintFormatted("[agg] Aggregated %d layers into %s", len(agg.Layers), out)
	return nil
}

// SummarizeWeights turns raw tensors, a {"tensors": [...]} list or a model export keyed by
// layer name, into a plaintext weight summary.
func SummarizeWeights(in, out string, logger utils.Logger) error {
	logger.PrintHeader("Summarizing model weights")
	set, err := weights.LoadTensors(in)
	if err != nil {
		return artifact("raw tensors", in, err)
	}
	doc, err := weights.SummarizeAll(set)
	if err != nil {
		return artifact("raw tensors", in, err)
	}
	if err = doc.Save(out); err != nil {
		return artifact("weight summary", out, err)
	}
	for _, l := range doc.Layers {
		logger.PrintFormatted("%s %v mean=%.6f std_dev=%.6f", l.Name, l.Shape, l.Mean.Plain, l.StdDev.Plain)
	}
	logger.PrintFormatted("Weights exported -> %s", out)
	return nil
}

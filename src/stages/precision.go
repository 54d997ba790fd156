package stages

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"flpre/src/fhe"
	"flpre/src/utils"
)

// Precision holds the largest absolute error observed for each engine operation.
type Precision struct {
	Encrypt        float64
	Add            float64
	ScalarMultiply float64
	ReEncrypt      float64
}

// CheckContext runs every engine operation of the context at ccPath on random vectors and
// compares the decrypted results with the plaintext computation.
func CheckContext(ccPath string, seed uint64, logger utils.Logger) (Precision, error) {
	var prec Precision
	b, err := openContext(ccPath, logger)
	if err != nil {
		return prec, err
	}

	pkA, skA, err := b.KeyGen()
	if err != nil {
		return prec, fmt.Errorf("key generation: %w", err)
	}
	pkB, skB, err := b.KeyGen()
	if err != nil {
		return prec, fmt.Errorf("key generation: %w", err)
	}

	// values uniformly distributed in [-1, 1]
	/* #nosec G404 -- this is a plaintext vector  */
	r := rand.New(rand.NewSource(seed))
	values1 := make([]float64, b.BatchWidth())
	values2 := make([]float64, b.BatchWidth())
	for i := range values1 {
		values1[i] = 2*r.Float64() - 1
		values2[i] = 2*r.Float64() - 1
	}
	logger.PrintSummarizedVector("values1", values1, len(values1))
	logger.PrintSummarizedVector("values2", values2, len(values2))

	ct1, err := b.Encrypt(pkA, values1)
	if err != nil {
		return prec, err
	}
	ct2, err := b.Encrypt(pkA, values2)
	if err != nil {
		return prec, err
	}
	if prec.Encrypt, err = measure(b, skA, ct1, values1, logger); err != nil {
		return prec, err
	}

	logger.PrintHeader("ADDITION")
	want := make([]float64, len(values1))
	for i := range want {
		want[i] = values1[i] + values2[i]
	}
	sum, err := b.Add(ct1, ct2)
	if err != nil {
		return prec, err
	}
	if prec.Add, err = measure(b, skA, sum, want, logger); err != nil {
		return prec, err
	}

	logger.PrintHeader("MULTIPLICATION")
	const scalar = 0.25
	for i := range want {
		want[i] = values1[i] * scalar
	}
	prod, err := b.ScalarMultiply(ct1, scalar)
	if err != nil {
		return prec, err
	}
	if prec.ScalarMultiply, err = measure(b, skA, prod, want, logger); err != nil {
		return prec, err
	}

	logger.PrintHeader("RE-ENCRYPTION")
	tk, err := b.DeriveTransformKey(skA, pkB)
	if err != nil {
		return prec, err
	}
	moved, err := b.ReEncrypt(ct1, tk)
	if err != nil {
		return prec, err
	}
	if prec.ReEncrypt, err = measure(b, skB, moved, values1, logger); err != nil {
		return prec, err
	}
	return prec, nil
}

func measure(b fhe.Backend, sk fhe.PrivateKey, ct fhe.Ciphertext, want []float64, logger utils.Logger) (float64, error) {
	have, err := b.Decrypt(sk, ct)
	if err != nil {
		return 0, err
	}
	logger.PrintSummarizedVector("decrypted", have, len(want))
	logger.PrintSummarizedVector("want", want, len(want))
	e := maxError(have, want)
	logger.PrintFormatted("Error: %.3e (log2 %.2f)", e, math.Log2(e))
	return e, nil
}

func maxError(have, want []float64) float64 {
	var m float64
	for i := range want {
		m = math.Max(m, math.Abs(have[i]-want[i]))
	}
	return m
}

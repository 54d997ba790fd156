// Package ckkspre implements the engine over lattigo CKKS. Proxy re-encryption keys are
// gadget ciphertexts of the owner's secret encrypted under the peer's public key, so the
// owner never needs the peer's secret and the relay never sees either secret.
package ckkspre

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"flpre/src/fhe"
)

type Engine struct {
	cc     fhe.CryptoContext
	params ckks.Parameters

	// encoder and evaluator keep internal buffers
	mu        sync.Mutex
	encoder   *ckks.Encoder
	evaluator *ckks.Evaluator
}

// New instantiates the CKKS parameters described by cc.
func New(cc fhe.CryptoContext) (*Engine, error) {
	params, err := NewParameters(cc)
	if err != nil {
		return nil, err
	}
	if cc.BatchSize > params.MaxSlots() {
		return nil, fmt.Errorf("%w: batch size %d exceeds %d slots", fhe.ErrEngine, cc.BatchSize, params.MaxSlots())
	}
	return &Engine{
		cc:        cc,
		params:    params,
		encoder:   ckks.NewEncoder(params),
		evaluator: ckks.NewEvaluator(params, nil),
	}, nil
}

// NewParameters maps a context onto a CKKS parameter set: one first prime, one scaling
// prime per multiplicative level and a single key-switching prime.
func NewParameters(cc fhe.CryptoContext) (ckks.Parameters, error) {
	logQ := make([]int, 0, cc.MultiplicativeDepth+1)
	logQ = append(logQ, cc.FirstModSize)
	for i := 0; i < cc.MultiplicativeDepth; i++ {
		logQ = append(logQ, cc.ScalingModSize)
	}
	params, err := ckks.NewParametersFromLiteral(
		ckks.ParametersLiteral{
			LogN:            cc.LogN,
			LogQ:            logQ,
			LogP:            []int{61},
			LogDefaultScale: cc.ScalingModSize,
		})
	if err != nil {
		return params, fmt.Errorf("%w: ckks.NewParametersFromLiteral: %w", fhe.ErrEngine, err)
	}
	return params, nil
}

func (e *Engine) Context() fhe.CryptoContext { return e.cc }

func (e *Engine) BatchWidth() int { return e.cc.BatchSize }

func (e *Engine) Parameters() ckks.Parameters { return e.params }

func (e *Engine) KeyGen() (fhe.PublicKey, fhe.PrivateKey, error) {
	kgen := rlwe.NewKeyGenerator(e.params)
	sk, pk := kgen.GenKeyPairNew()
	return pk, sk, nil
}

func (e *Engine) Encrypt(pk fhe.PublicKey, values []float64) (fhe.Ciphertext, error) {
	key, ok := pk.(*rlwe.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key %T", fhe.ErrForeignObject, pk)
	}
	if len(values) > e.BatchWidth() {
		return nil, fmt.Errorf("%w: %d > %d", fhe.ErrBatchTooLarge, len(values), e.BatchWidth())
	}
	slots := make([]float64, e.params.MaxSlots())
	copy(slots, values)

	pt := ckks.NewPlaintext(e.params, e.params.MaxLevel())
	e.mu.Lock()
	err := e.encoder.Encode(slots, pt)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", fhe.ErrEngine, err)
	}

	ct, err := rlwe.NewEncryptor(e.params, key).EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt: %w", fhe.ErrEngine, err)
	}
	return ct, nil
}

// Decrypt returns the first BatchWidth slots.
func (e *Engine) Decrypt(sk fhe.PrivateKey, ct fhe.Ciphertext) ([]float64, error) {
	key, ok := sk.(*rlwe.SecretKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key %T", fhe.ErrForeignObject, sk)
	}
	c, err := e.ciphertext(ct)
	if err != nil {
		return nil, err
	}

	pt := rlwe.NewDecryptor(e.params, key).DecryptNew(c)
	have := make([]float64, e.params.MaxSlots())
	e.mu.Lock()
	err = e.encoder.Decode(pt, have)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", fhe.ErrEngine, err)
	}
	return have[:e.BatchWidth()], nil
}

// recoverEngine turns a panic of the evaluator into an ErrEngine error for op.
func recoverEngine(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", fhe.ErrEngine, op, r)
	}
}

func (e *Engine) Add(a, b fhe.Ciphertext) (_ fhe.Ciphertext, err error) {
	defer recoverEngine("add", &err)
	ca, err := e.ciphertext(a)
	if err != nil {
		return nil, err
	}
	cb, err := e.ciphertext(b)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.evaluator.AddNew(ca, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: add: %w", fhe.ErrEngine, err)
	}
	return out, nil
}

// ScalarMultiply consumes one level: the product is rescaled back to the default scale.
func (e *Engine) ScalarMultiply(ct fhe.Ciphertext, scalar float64) (_ fhe.Ciphertext, err error) {
	defer recoverEngine("scalar multiply", &err)
	c, err := e.ciphertext(ct)
	if err != nil {
		return nil, err
	}
	if c.Level() == 0 {
		return nil, fmt.Errorf("%w: scalar multiply: ciphertext has no level left", fhe.ErrEngine)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.evaluator.MulNew(c, scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: mul: %w", fhe.ErrEngine, err)
	}
	if err = e.evaluator.Rescale(out, out); err != nil {
		return nil, fmt.Errorf("%w: rescale: %w", fhe.ErrEngine, err)
	}
	return out, nil
}

func (e *Engine) DeriveTransformKey(owner fhe.PrivateKey, peer fhe.PublicKey) (_ fhe.TransformKey, err error) {
	defer recoverEngine("transform key", &err)
	sk, ok := owner.(*rlwe.SecretKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key %T", fhe.ErrForeignObject, owner)
	}
	pk, ok := peer.(*rlwe.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key %T", fhe.ErrForeignObject, peer)
	}
	evk, err := genTransformKey(e.params, sk, pk, e.cc.BaseTwoDecomposition)
	if err != nil {
		return nil, fmt.Errorf("%w: transform key: %w", fhe.ErrEngine, err)
	}
	return evk, nil
}

func (e *Engine) ReEncrypt(ct fhe.Ciphertext, tk fhe.TransformKey) (_ fhe.Ciphertext, err error) {
	defer recoverEngine("re-encrypt", &err)
	c, err := e.ciphertext(ct)
	if err != nil {
		return nil, err
	}
	evk, ok := tk.(*rlwe.EvaluationKey)
	if !ok {
		return nil, fmt.Errorf("%w: transform key %T", fhe.ErrForeignObject, tk)
	}

	out := rlwe.NewCiphertext(e.params, 1, c.Level())
	e.mu.Lock()
	defer e.mu.Unlock()
	if err = e.evaluator.ApplyEvaluationKey(c, evk, out); err != nil {
		return nil, fmt.Errorf("%w: re-encrypt: %w", fhe.ErrEngine, err)
	}
	return out, nil
}

func (e *Engine) ParseCiphertext(data []byte) (fhe.Ciphertext, error) {
	ct := &rlwe.Ciphertext{}
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %w", fhe.ErrForeignObject, err)
	}
	if ct.Value[0].N() != e.params.N() {
		return nil, fmt.Errorf("%w: ciphertext ring degree %d, expected %d", fhe.ErrForeignObject, ct.Value[0].N(), e.params.N())
	}
	return ct, nil
}

func (e *Engine) ParsePublicKey(data []byte) (fhe.PublicKey, error) {
	pk := &rlwe.PublicKey{}
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: public key: %w", fhe.ErrForeignObject, err)
	}
	return pk, nil
}

func (e *Engine) ParsePrivateKey(data []byte) (fhe.PrivateKey, error) {
	sk := &rlwe.SecretKey{}
	if err := sk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: private key: %w", fhe.ErrForeignObject, err)
	}
	return sk, nil
}

func (e *Engine) ParseTransformKey(data []byte) (fhe.TransformKey, error) {
	evk := &rlwe.EvaluationKey{}
	if err := evk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: transform key: %w", fhe.ErrForeignObject, err)
	}
	return evk, nil
}

func (e *Engine) ciphertext(ct fhe.Ciphertext) (*rlwe.Ciphertext, error) {
	c, ok := ct.(*rlwe.Ciphertext)
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext %T", fhe.ErrForeignObject, ct)
	}
	if c.Degree() != 1 {
		return nil, fmt.Errorf("%w: ciphertext of degree %d", fhe.ErrEngine, c.Degree())
	}
	return c, nil
}

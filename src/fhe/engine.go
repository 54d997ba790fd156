// Package fhe defines the homomorphic encryption engine consumed by the weight pipeline,
// the CryptoContext shared by both parties and the on-disk key envelopes.
package fhe

import (
	"encoding"
	"errors"
)

var (
	// ErrEngine marks a failed homomorphic operation.
	ErrEngine = errors.New("engine operation failed")
	// ErrForeignObject is returned when a key or ciphertext was produced by another backend.
	ErrForeignObject = errors.New("object does not belong to this backend")
	// ErrBatchTooLarge is returned when more values than the batch width are encrypted at once.
	ErrBatchTooLarge = errors.New("batch exceeds the context batch width")
)

// Ciphertext is an opaque encrypted batch.
type Ciphertext interface {
	encoding.BinaryMarshaler
}

// PublicKey encrypts into its owner's domain and may be shared with the relay.
type PublicKey interface {
	encoding.BinaryMarshaler
}

// PrivateKey never leaves the party that generated it.
type PrivateKey interface {
	encoding.BinaryMarshaler
}

// TransformKey re-targets ciphertexts from the owner's domain to the peer's domain.
type TransformKey interface {
	encoding.BinaryMarshaler
}

// Engine is the set of primitives the pipeline needs from a scheme.
// Decrypt under the wrong key returns meaningless numbers, not an error.
type Engine interface {
	KeyGen() (PublicKey, PrivateKey, error)
	Encrypt(pk PublicKey, values []float64) (Ciphertext, error)
	Decrypt(sk PrivateKey, ct Ciphertext) ([]float64, error)
	Add(a, b Ciphertext) (Ciphertext, error)
	ScalarMultiply(ct Ciphertext, scalar float64) (Ciphertext, error)
	DeriveTransformKey(owner PrivateKey, peer PublicKey) (TransformKey, error)
	ReEncrypt(ct Ciphertext, tk TransformKey) (Ciphertext, error)
}

// Parser restores the opaque objects of a backend from their binary form.
type Parser interface {
	ParseCiphertext(data []byte) (Ciphertext, error)
	ParsePublicKey(data []byte) (PublicKey, error)
	ParsePrivateKey(data []byte) (PrivateKey, error)
	ParseTransformKey(data []byte) (TransformKey, error)
}

// Backend is an Engine bound to a CryptoContext.
type Backend interface {
	Engine
	Parser
	Context() CryptoContext
	// BatchWidth is the number of values packed in one ciphertext.
	BatchWidth() int
}

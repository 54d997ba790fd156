package ckkspre

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring/ringqp"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// genTransformKey builds an evaluation key skOwner -> skPeer knowing only pkPeer.
//
// The key lives in QP like any lattigo evaluation key. Every entry of the gadget matrix
// starts as a public-key encryption of zero under pkPeer, then P * skOwner times the gadget
// vector is added to the first component. Applying the key to (c0, c1) computes
// c0 + <decomp(c1), key> / P, which decrypts under skPeer to c0 + c1*skOwner.
func genTransformKey(params ckks.Parameters, skOwner *rlwe.SecretKey, pkPeer *rlwe.PublicKey, baseTwo int) (*rlwe.EvaluationKey, error) {
	if params.PCount() == 0 {
		return nil, fmt.Errorf("parameters define no auxiliary modulus P")
	}
	levelQ := params.MaxLevelQ()
	levelP := params.MaxLevelP()

	gct := rlwe.NewGadgetCiphertext(params, 1, levelQ, levelP, baseTwo)
	enc := rlwe.NewEncryptor(params, pkPeer)

	for i := range gct.Value {
		for j := range gct.Value[i] {
			if err := enc.EncryptZero(rlwe.Element[ringqp.Poly]{
				MetaData: &rlwe.MetaData{CiphertextMetaData: rlwe.CiphertextMetaData{IsNTT: true, IsMontgomery: true}},
				Value:    []ringqp.Poly(gct.Value[i][j]),
			}); err != nil {
				return nil, fmt.Errorf("EncryptZero: %w", err)
			}
		}
	}

	if err := rlwe.AddPolyTimesGadgetVectorToGadgetCiphertext(
		skOwner.Value.Q,
		[]rlwe.GadgetCiphertext{*gct},
		*params.RingQP(),
		params.RingQ().NewPoly()); err != nil {
		return nil, fmt.Errorf("AddPolyTimesGadgetVectorToGadgetCiphertext: %w", err)
	}

	return &rlwe.EvaluationKey{GadgetCiphertext: *gct}, nil
}

// Package backend selects the engine named by a CryptoContext.
package backend

import (
	"fmt"

	"flpre/configs"
	"flpre/src/fhe"
	"flpre/src/fhe/ckkspre"
	"flpre/src/fhe/tagged"
)

func Open(cc fhe.CryptoContext) (fhe.Backend, error) {
	switch cc.Backend {
	case configs.BackendCKKS:
		e, err := ckkspre.New(cc)
		if err != nil {
			return nil, err
		}
		return e, nil
	case configs.BackendTagged:
		e, err := tagged.New(cc)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", configs.ErrConfig, cc.Backend)
	}
}

// Load reads the context at path and opens its backend.
func Load(path string) (fhe.Backend, error) {
	cc, err := fhe.LoadCryptoContext(path)
	if err != nil {
		return nil, err
	}
	return Open(cc)
}

package fhe

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"flpre/configs"
	"flpre/src/utils"
)

const contextVersion = 1

// CryptoContext is the immutable parameter bundle shared by both parties and the relay.
type CryptoContext struct {
	Version              int    `json:"version"`
	Backend              string `json:"backend"`
	MultiplicativeDepth  int    `json:"multiplicative_depth"`
	ScalingModSize       int    `json:"scaling_mod_size"`
	BatchSize            int    `json:"batch_size"`
	PREMode              string `json:"pre_mode"`
	LogN                 int    `json:"log_n,omitempty"`
	FirstModSize         int    `json:"first_mod_size,omitempty"`
	BaseTwoDecomposition int    `json:"base_two_decomposition,omitempty"`
}

// NewCryptoContext freezes a validated configuration into a context.
func NewCryptoContext(cfg configs.ContextConfig) (CryptoContext, error) {
	if err := cfg.Validate(); err != nil {
		return CryptoContext{}, err
	}
	cc := CryptoContext{
		Version:             contextVersion,
		Backend:             cfg.Backend,
		MultiplicativeDepth: cfg.MultiplicativeDepth,
		ScalingModSize:      cfg.ScalingModSize,
		BatchSize:           cfg.BatchSize,
		PREMode:             cfg.PREMode,
	}
	if cfg.Backend == configs.BackendCKKS {
		cc.LogN = cfg.LogN
		cc.FirstModSize = cfg.FirstModSize
		cc.BaseTwoDecomposition = cfg.BaseTwoDecomposition
	}
	return cc, nil
}

// Config returns the configuration the context was built from.
func (cc CryptoContext) Config() configs.ContextConfig {
	return configs.ContextConfig{
		MultiplicativeDepth:  cc.MultiplicativeDepth,
		ScalingModSize:       cc.ScalingModSize,
		BatchSize:            cc.BatchSize,
		PREMode:              cc.PREMode,
		Backend:              cc.Backend,
		LogN:                 cc.LogN,
		FirstModSize:         cc.FirstModSize,
		BaseTwoDecomposition: cc.BaseTwoDecomposition,
	}
}

// Fingerprint is a short blake3 digest of the context parameters.
// Artifacts carry it so mismatched contexts can be reported, never enforced.
func (cc CryptoContext) Fingerprint() string {
	data, err := json.Marshal(cc)
	utils.HandleError(err)
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (cc CryptoContext) String() string {
	return fmt.Sprintf("%s(depth=%d, scale=2^%d, batch=%d, pre=%s, fp=%s)",
		cc.Backend, cc.MultiplicativeDepth, cc.ScalingModSize, cc.BatchSize, cc.PREMode, cc.Fingerprint())
}

func (cc CryptoContext) Save(path string) error {
	return utils.WriteJSON(path, cc)
}

// LoadCryptoContext reads and validates a serialized context.
func LoadCryptoContext(path string) (CryptoContext, error) {
	var cc CryptoContext
	if err := utils.ReadJSON(path, &cc); err != nil {
		return cc, err
	}
	if cc.Version != contextVersion {
		return cc, fmt.Errorf("%s: %w: unsupported context version %d", path, configs.ErrConfig, cc.Version)
	}
	if err := cc.Config().Validate(); err != nil {
		return cc, fmt.Errorf("%s: %w", path, err)
	}
	return cc, nil
}

package configs

import (
	"fmt"

	"flpre/src/utils"
)

const (
	BackendCKKS   = "ckks"
	BackendTagged = "tagged"

	PREModeINDCPA     = "INDCPA"
	PREModeFixedNoise = "FIXED_NOISE"
)

// ContextConfig holds the parameters from which the CryptoContext is generated (config_cc.json).
type ContextConfig struct {
	MultiplicativeDepth  int    `json:"MultiplicativeDepth"`
	ScalingModSize       int    `json:"ScalingModSize"`
	BatchSize            int    `json:"BatchSize"`
	PREMode              string `json:"PREMode"`
	Backend              string `json:"Backend,omitempty"`
	LogN                 int    `json:"LogN,omitempty"`
	FirstModSize         int    `json:"FirstModSize,omitempty"`
	BaseTwoDecomposition int    `json:"BaseTwoDecomposition,omitempty"`
}

// DefaultContextConfig matches the parameters shipped with the relay.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MultiplicativeDepth:  2,
		ScalingModSize:       50,
		BatchSize:            4096,
		PREMode:              PREModeINDCPA,
		Backend:              BackendCKKS,
		LogN:                 13,
		FirstModSize:         60,
		BaseTwoDecomposition: 8,
	}
}

// LoadContextConfig reads path on top of the defaults; absent keys keep their default.
func LoadContextConfig(path string) (ContextConfig, error) {
	cfg := DefaultContextConfig()
	if err := utils.ReadJSON(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c ContextConfig) Validate() error {
	if c.MultiplicativeDepth < 1 || c.MultiplicativeDepth > 20 {
		return fmt.Errorf("%w: MultiplicativeDepth %d outside [1, 20]", ErrConfig, c.MultiplicativeDepth)
	}
	if c.ScalingModSize <= 30 || c.ScalingModSize >= 100 {
		return fmt.Errorf("%w: ScalingModSize %d outside (30, 100)", ErrConfig, c.ScalingModSize)
	}
	if c.BatchSize <= 0 || c.BatchSize > 8192 {
		return fmt.Errorf("%w: BatchSize %d outside [1, 8192]", ErrConfig, c.BatchSize)
	}
	switch c.PREMode {
	case PREModeINDCPA, PREModeFixedNoise:
	default:
		return fmt.Errorf("%w: unknown PREMode %q", ErrConfig, c.PREMode)
	}
	switch c.Backend {
	case BackendCKKS:
		if c.ScalingModSize > 60 || c.FirstModSize > 61 || c.FirstModSize < c.ScalingModSize {
			return fmt.Errorf("%w: ckks moduli must satisfy ScalingModSize <= FirstModSize <= 61", ErrConfig)
		}
		if c.LogN < 10 || c.LogN > 16 {
			return fmt.Errorf("%w: LogN %d outside [10, 16]", ErrConfig, c.LogN)
		}
		if c.BatchSize > 1<<(c.LogN-1) {
			return fmt.Errorf("%w: BatchSize %d exceeds the %d slots of LogN %d", ErrConfig, c.BatchSize, 1<<(c.LogN-1), c.LogN)
		}
		if c.BaseTwoDecomposition < 1 || c.BaseTwoDecomposition > 30 {
			return fmt.Errorf("%w: BaseTwoDecomposition %d outside [1, 30]", ErrConfig, c.BaseTwoDecomposition)
		}
	case BackendTagged:
	default:
		return fmt.Errorf("%w: unknown Backend %q", ErrConfig, c.Backend)
	}
	return nil
}

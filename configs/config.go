package configs

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"flpre/src/utils"
)

// ErrConfig marks a configuration that is missing a key or holds an invalid value.
var ErrConfig = errors.New("invalid configuration")

// ListenConfig is the relay listening address.
type ListenConfig struct {
	IP   string `json:"SERVER_IP"`
	Port int    `json:"SERVER_PORT"`
}

func (l ListenConfig) Address() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

type ContextRef struct {
	Path string `json:"path"`
}

// ClientArtifacts maps every relay artifact to its fixed storage path.
type ClientArtifacts struct {
	Client1Public           string `json:"CLIENT_1_PUBLIC"`
	Client2Public           string `json:"CLIENT_2_PUBLIC"`
	Client1ReKey            string `json:"CLIENT_1_REKEY"`
	Client2ReKey            string `json:"CLIENT_2_REKEY"`
	Client1EncryptedWeights string `json:"CLIENT_1_ENCRYPTED_WEIGHTS_PATH"`
	Client2EncryptedWeights string `json:"CLIENT_2_ENCRYPTED_WEIGHTS_PATH"`
	DomainChanged           string `json:"OUTPUT_DOMAIN_CHANGED_PATH"`
	Aggregated              string `json:"AGGREGATED_ENCRYPTED_WEIGHTS_PATH"`
	AggregatedDomainChanged string `json:"OUTPUT_AGGREGATED_DOMAIN_CHANGED_PATH"`
}

// ServerConfig is the relay configuration (sConfig.json).
type ServerConfig struct {
	Listen       ListenConfig    `json:"mSConfig"`
	CC           ContextRef      `json:"CC"`
	Clients      ClientArtifacts `json:"CLIENTS"`
	StorageRoot  string          `json:"STORAGE_ROOT,omitempty"`
	MetricsPath  string          `json:"METRICS_PATH,omitempty"`
	MaxBodyBytes int64           `json:"MAX_BODY_BYTES,omitempty"`
}

// LoadServerConfig reads path and resolves every relative artifact path against baseDir.
func LoadServerConfig(path, baseDir string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := utils.ReadJSON(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Resolve(baseDir)
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	if c.Listen.IP == "" {
		return fmt.Errorf("%w: mSConfig.SERVER_IP is empty", ErrConfig)
	}
	if c.Listen.Port < 1024 || c.Listen.Port > 65535 {
		return fmt.Errorf("%w: mSConfig.SERVER_PORT %d outside [1024, 65535]", ErrConfig, c.Listen.Port)
	}
	if c.CC.Path == "" {
		return fmt.Errorf("%w: CC.path is empty", ErrConfig)
	}
	required := []struct {
		key, value string
	}{
		{"CLIENT_1_PUBLIC", c.Clients.Client1Public},
		{"CLIENT_2_PUBLIC", c.Clients.Client2Public},
		{"CLIENT_1_REKEY", c.Clients.Client1ReKey},
		{"CLIENT_2_REKEY", c.Clients.Client2ReKey},
		{"CLIENT_1_ENCRYPTED_WEIGHTS_PATH", c.Clients.Client1EncryptedWeights},
		{"CLIENT_2_ENCRYPTED_WEIGHTS_PATH", c.Clients.Client2EncryptedWeights},
		{"OUTPUT_DOMAIN_CHANGED_PATH", c.Clients.DomainChanged},
		{"AGGREGATED_ENCRYPTED_WEIGHTS_PATH", c.Clients.Aggregated},
		{"OUTPUT_AGGREGATED_DOMAIN_CHANGED_PATH", c.Clients.AggregatedDomainChanged},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: CLIENTS.%s is empty", ErrConfig, r.key)
		}
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: MAX_BODY_BYTES is negative", ErrConfig)
	}
	return nil
}

// Resolve makes every path absolute against baseDir and fills the defaults.
// The storage root defaults to the directory holding the CryptoContext.
func (c *ServerConfig) Resolve(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.CC.Path = abs(c.CC.Path)
	for _, p := range []*string{
		&c.Clients.Client1Public, &c.Clients.Client2Public,
		&c.Clients.Client1ReKey, &c.Clients.Client2ReKey,
		&c.Clients.Client1EncryptedWeights, &c.Clients.Client2EncryptedWeights,
		&c.Clients.DomainChanged, &c.Clients.Aggregated, &c.Clients.AggregatedDomainChanged,
	} {
		*p = abs(*p)
	}
	if c.StorageRoot == "" {
		c.StorageRoot = filepath.Dir(c.CC.Path)
	}
	c.StorageRoot = filepath.Clean(abs(c.StorageRoot))
	if c.MetricsPath == "" {
		c.MetricsPath = filepath.Join(c.StorageRoot, ServerMetricsFile)
	}
	c.MetricsPath = abs(c.MetricsPath)
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// ClientConfig configures the exchange client of one party.
type ClientConfig struct {
	ServerURL   string `json:"SERVER_URL"`
	ClientID    string `json:"client_id"`
	MetricsPath string `json:"METRICS_PATH,omitempty"`
}

func LoadClientConfig(path, baseDir string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := utils.ReadJSON(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = ClientMetricsFile
	}
	if !filepath.IsAbs(cfg.MetricsPath) {
		cfg.MetricsPath = filepath.Join(baseDir, cfg.MetricsPath)
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: SERVER_URL is empty", ErrConfig)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_id is empty", ErrConfig)
	}
	return nil
}

// Package config loads the YAML configuration of the swap tooling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config holds all configuration for htlcd.
type Config struct {
	// Network is mainnet, testnet or regtest.
	Network chain.Network `yaml:"network"`

	// Chain is the symbol swaps run on (BTC, LTC, DOGE).
	Chain string `yaml:"chain"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Scanner controls how often the chain is polled while searching for
	// initiation and claim transactions.
	Scanner ScannerConfig `yaml:"scanner"`

	// Logging
	Logging logging.Config `yaml:"logging"`

	// Backends holds chain data provider configurations per chain symbol.
	// Chains left out use the public defaults for the network.
	Backends map[string]*backend.Config `yaml:"backends,omitempty"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the config file and the swap database.
	DataDir string `yaml:"data_dir"`
}

// ScannerConfig holds block scanner settings.
type ScannerConfig struct {
	// Interval is the pause between scan iterations.
	Interval time.Duration `yaml:"interval"`

	// BackoffMultiplier stretches the pause after consecutive fetch
	// failures. 1 or less keeps it fixed.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxBackoff caps the stretched pause. Zero means no cap.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: chain.Mainnet,
		Chain:   "BTC",
		Storage: StorageConfig{
			DataDir: "~/.klingon-htlc",
		},
		Scanner: ScannerConfig{
			Interval:          5 * time.Second,
			BackoffMultiplier: 2,
			MaxBackoff:        time.Minute,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the network and chain are known and the scanner
// settings are usable.
func (c *Config) Validate() error {
	if _, err := chain.ParseNetwork(string(c.Network)); err != nil {
		return err
	}
	if _, err := c.ChainParams(); err != nil {
		return err
	}
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner interval must be positive, got %v", c.Scanner.Interval)
	}
	if c.Scanner.MaxBackoff < 0 {
		return fmt.Errorf("scanner max_backoff must not be negative, got %v", c.Scanner.MaxBackoff)
	}
	return nil
}

// ChainParams returns the parameters of the configured chain and network.
func (c *Config) ChainParams() (*chain.Params, error) {
	return chain.Lookup(strings.ToUpper(c.Chain), c.Network)
}

// GetBackendConfig returns the backend config for a chain symbol.
// Returns the network default if not explicitly configured.
func (c *Config) GetBackendConfig(symbol string) *backend.Config {
	symbol = strings.ToUpper(symbol)
	if c.Backends != nil {
		if cfg, ok := c.Backends[symbol]; ok {
			return cfg
		}
	}
	if cfg, ok := backend.DefaultConfigs(c.Network)[symbol]; ok {
		return cfg
	}
	return nil
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# HTLC swap watcher configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	// 0600: backend sections may carry RPC passwords and WIF keys.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// Package config provides configuration for the swap engine.
// Timelock policy, fees and storage location are all set here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
)

// Config holds all configuration for the swap engine.
type Config struct {
	// Network selects mainnet or testnet chain parameters.
	Network chain.Network `yaml:"network"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Swap timelock policy
	Swap SwapConfig `yaml:"swap"`

	// Fees for UTXO transaction building
	Fees FeeConfig `yaml:"fees"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is where the SQLite database lives.
	DataDir string `yaml:"data_dir"`
}

// SwapConfig holds the timelock policy.
type SwapConfig struct {
	// FirstLegLockHours is how far in the future the first locker's
	// timelock sits.
	FirstLegLockHours int `yaml:"first_leg_lock_hours"`

	// SecondLegLockHours is the counter-locker's timelock distance. It
	// must trail FirstLegLockHours by at least SafetyMarginHours.
	SecondLegLockHours int `yaml:"second_leg_lock_hours"`

	// SafetyMarginHours is the minimum gap between the two timelocks.
	SafetyMarginHours int `yaml:"safety_margin_hours"`
}

// FirstLegLock returns the first-leg lock distance as a duration.
func (s SwapConfig) FirstLegLock() time.Duration {
	return time.Duration(s.FirstLegLockHours) * time.Hour
}

// SecondLegLock returns the second-leg lock distance as a duration.
func (s SwapConfig) SecondLegLock() time.Duration {
	return time.Duration(s.SecondLegLockHours) * time.Hour
}

// SafetyMargin returns the safety margin as a duration.
func (s SwapConfig) SafetyMargin() time.Duration {
	return time.Duration(s.SafetyMarginHours) * time.Hour
}

// FeeConfig holds fee settings for UTXO chains.
type FeeConfig struct {
	// FeeRate in sat/vB.
	FeeRate uint64 `yaml:"fee_rate"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with sensible defaults. The timelocks
// are staggered: the counter leg expires half a day before the first.
func DefaultConfig() *Config {
	return &Config{
		Network: chain.Mainnet,
		Storage: StorageConfig{
			DataDir: "~/.crypto-swap",
		},
		Swap: SwapConfig{
			FirstLegLockHours:  24,
			SecondLegLockHours: 12,
			SafetyMarginHours:  6,
		},
		Fees: FeeConfig{
			FeeRate: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Network != chain.Mainnet && c.Network != chain.Testnet {
		return fmt.Errorf("invalid network: %q", c.Network)
	}
	if c.Swap.FirstLegLockHours <= 0 || c.Swap.SecondLegLockHours <= 0 {
		return fmt.Errorf("timelock hours must be positive")
	}
	if c.Swap.SafetyMarginHours <= 0 {
		return fmt.Errorf("safety margin must be positive")
	}
	if c.Swap.SecondLegLockHours+c.Swap.SafetyMarginHours > c.Swap.FirstLegLockHours {
		return fmt.Errorf("second leg lock (%dh) plus margin (%dh) must not exceed first leg lock (%dh)",
			c.Swap.SecondLegLockHours, c.Swap.SafetyMarginHours, c.Swap.FirstLegLockHours)
	}
	if c.Fees.FeeRate == 0 {
		return fmt.Errorf("fee rate must be positive")
	}
	return nil
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	// Load existing config
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Add header comment
	header := []byte("# Swap engine configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

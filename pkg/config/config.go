package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration after expanding ${ENV} references and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeBoth
	}

	// Oracle defaults
	if cfg.Oracle.UpdateInterval == 0 {
		cfg.Oracle.UpdateInterval = 10
	}
	if cfg.Oracle.FetchTimeout == 0 {
		cfg.Oracle.FetchTimeout = Duration(5 * time.Second)
	}
	if cfg.Oracle.MaxExchangesPerBlock == 0 {
		cfg.Oracle.MaxExchangesPerBlock = 3
	}
	if cfg.Oracle.SubmissionLongevity == 0 {
		cfg.Oracle.SubmissionLongevity = cfg.Oracle.UpdateInterval / 2
		if cfg.Oracle.SubmissionLongevity == 0 {
			cfg.Oracle.SubmissionLongevity = 1
		}
	}
	if cfg.Oracle.ClockSkew == 0 {
		cfg.Oracle.ClockSkew = Duration(30 * time.Second)
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "badger"
	}
	if cfg.Store.RedisPrefix == "" {
		cfg.Store.RedisPrefix = "price-oracle"
	}

	// Event stream defaults
	if cfg.EventStream.Kind == "" {
		cfg.EventStream.Kind = "local"
	}
	if cfg.EventStream.BlockTime == 0 {
		cfg.EventStream.BlockTime = Duration(6 * time.Second)
	}
	if cfg.EventStream.StartHeight == 0 {
		cfg.EventStream.StartHeight = 1
	}

	// Ledger defaults
	if cfg.Ledger.MaxPool == 0 {
		cfg.Ledger.MaxPool = 1024
	}
	if cfg.Ledger.BlockCapacity == 0 {
		cfg.Ledger.BlockCapacity = 64
	}

	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.AggregateMode == "" {
		cfg.Server.AggregateMode = "median"
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// NormalizeMode converts mode string to lowercase.
func (c *Config) NormalizeMode() string {
	return strings.ToLower(c.Mode)
}

// IsServerMode returns true if the read API should run.
func (c *Config) IsServerMode() bool {
	mode := c.NormalizeMode()
	return mode == ModeBoth || mode == ModeServer
}

// IsCollectorMode returns true if collection and admission should run.
func (c *Config) IsCollectorMode() bool {
	mode := c.NormalizeMode()
	return mode == ModeBoth || mode == ModeCollector
}

package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run modes.
const (
	ModeBoth      = "both"
	ModeServer    = "server"
	ModeCollector = "collector"
)

// Config is the root configuration structure
type Config struct {
	Mode        string                  `yaml:"mode"`
	Oracle      OracleConfig            `yaml:"oracle"`
	Pairs       map[string]BoundsConfig `yaml:"pairs"`
	Exchanges   []ExchangeConfig        `yaml:"exchanges"`
	Store       StoreConfig             `yaml:"store"`
	EventStream EventStreamConfig       `yaml:"event_stream"`
	Ledger      LedgerConfig            `yaml:"ledger"`
	Server      ServerConfig            `yaml:"server"`
	Metrics     MetricsConfig           `yaml:"metrics"`
	Logging     LoggingConfig           `yaml:"logging"`
}

// OracleConfig configures collection and admission.
type OracleConfig struct {
	// UpdateInterval is the number of blocks per admission window.
	UpdateInterval       uint64   `yaml:"update_interval"`
	FetchTimeout         Duration `yaml:"fetch_timeout"`
	MaxExchangesPerBlock int      `yaml:"max_exchanges_per_block"`
	// SubmissionLongevity is how many blocks a submission stays includable.
	// It must be smaller than UpdateInterval.
	SubmissionLongevity uint64   `yaml:"submission_longevity"`
	EpisodeDeadline     Duration `yaml:"episode_deadline"`
	ClockSkew           Duration `yaml:"clock_skew"`
	DryRun              bool     `yaml:"dry_run"`
	// Pairs restricts collection; empty collects every supported pair.
	Pairs []string `yaml:"pairs"`
}

// BoundsConfig holds the plausibility limits of a pair. Unset fields fall
// back to the built-in defaults of the pair.
type BoundsConfig struct {
	MinPrice        *decimal.Decimal `yaml:"min_price"`
	MaxPrice        *decimal.Decimal `yaml:"max_price"`
	MaxDeviationPct *decimal.Decimal `yaml:"max_deviation_pct"`
	MaxAge          Duration         `yaml:"max_age"`
}

// ExchangeConfig configures one exchange adapter instance.
type ExchangeConfig struct {
	ID       uint8   `yaml:"id"`
	Name     string  `yaml:"name"`
	Protocol string  `yaml:"protocol"`
	Chain    string  `yaml:"chain"`
	Enabled  bool    `yaml:"enabled"`
	Priority int     `yaml:"priority"`
	Weight   float64 `yaml:"weight"` // Aggregation weight (default 1.0)
	// Bounds overrides the pair bounds for this exchange only.
	Bounds map[string]BoundsConfig `yaml:"bounds"`
	Config map[string]interface{}  `yaml:"config"`
}

// StoreConfig selects and configures the price store backend.
type StoreConfig struct {
	Backend     string   `yaml:"backend"` // badger or redis
	Dir         string   `yaml:"dir"`     // badger directory; empty runs in memory
	RedisURL    string   `yaml:"redis_url"`
	RedisPrefix string   `yaml:"redis_prefix"`
	RecordTTL   Duration `yaml:"record_ttl"`
}

// EventStreamConfig configures the block height source.
type EventStreamConfig struct {
	Kind        string   `yaml:"kind"` // tendermint, substrate, evm or local
	Endpoints   []string `yaml:"endpoints"`
	BlockTime   Duration `yaml:"block_time"`
	StartHeight uint64   `yaml:"start_height"`
}

// LedgerConfig configures the local unsigned pool.
type LedgerConfig struct {
	MaxPool       int `yaml:"max_pool"`
	BlockCapacity int `yaml:"block_capacity"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Addr          string         `yaml:"addr"`
	AggregateMode string         `yaml:"aggregate_mode"`
	Adaptive      AdaptiveConfig `yaml:"adaptive"`
	WebSocket     WSConfig       `yaml:"websocket"`
}

// AdaptiveConfig configures the adaptive aggregation mode.
type AdaptiveConfig struct {
	Sensitivity float64 `yaml:"sensitivity"`
	FinalMode   string  `yaml:"final_mode"`
}

// WSConfig configures the /ws price stream.
type WSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

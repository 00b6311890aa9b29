package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	mode := cfg.NormalizeMode()
	if mode != ModeBoth && mode != ModeServer && mode != ModeCollector {
		return fmt.Errorf("%w: %s (must be 'both', 'server', or 'collector')", ErrInvalidMode, cfg.Mode)
	}

	if err := validateOracleConfig(&cfg.Oracle); err != nil {
		return fmt.Errorf("oracle config: %w", err)
	}

	vcfg, err := cfg.ValidatorConfig()
	if err != nil {
		return fmt.Errorf("pairs config: %w", err)
	}
	if err := validateBounds(vcfg); err != nil {
		return fmt.Errorf("pairs config: %w", err)
	}

	if cfg.IsCollectorMode() {
		if err := validateExchanges(cfg.Exchanges); err != nil {
			return fmt.Errorf("exchanges config: %w", err)
		}
		if err := validateEventStreamConfig(&cfg.EventStream); err != nil {
			return fmt.Errorf("event_stream config: %w", err)
		}
	}

	if err := validateStoreConfig(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if cfg.IsServerMode() {
		if err := validateServerConfig(&cfg.Server); err != nil {
			return fmt.Errorf("server config: %w", err)
		}
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateOracleConfig(cfg *OracleConfig) error {
	if cfg.UpdateInterval == 0 {
		return fmt.Errorf("%w: update_interval must be > 0", ErrInvalidOracle)
	}
	// Every includable height must fall inside the candidate's window.
	if cfg.SubmissionLongevity == 0 || cfg.SubmissionLongevity >= cfg.UpdateInterval {
		return fmt.Errorf("%w: submission_longevity %d must be in [1, %d)",
			ErrInvalidOracle, cfg.SubmissionLongevity, cfg.UpdateInterval)
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch_timeout must be > 0", ErrInvalidOracle)
	}
	if cfg.MaxExchangesPerBlock < 1 {
		return fmt.Errorf("%w: max_exchanges_per_block must be >= 1", ErrInvalidOracle)
	}
	if cfg.EpisodeDeadline < 0 || cfg.ClockSkew < 0 {
		return fmt.Errorf("%w: durations must be >= 0", ErrInvalidOracle)
	}
	for _, raw := range cfg.Pairs {
		if _, err := pricing.ParseTokenPair(raw); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPair, err)
		}
	}
	return nil
}

func checkBounds(b validator.Bounds) error {
	if !b.Min.IsPositive() {
		return fmt.Errorf("%w: min_price must be > 0", ErrInvalidBounds)
	}
	if !b.Max.GreaterThan(b.Min) {
		return fmt.Errorf("%w: max_price %s must exceed min_price %s", ErrInvalidBounds, b.Max, b.Min)
	}
	if b.MaxDeviationPct.LessThan(decimal.Zero) {
		return fmt.Errorf("%w: max_deviation_pct must be >= 0", ErrInvalidBounds)
	}
	if b.MaxAge < 0 {
		return fmt.Errorf("%w: max_age must be >= 0", ErrInvalidBounds)
	}
	return nil
}

func validateBounds(cfg validator.Config) error {
	for pair, b := range cfg.Pairs {
		if err := checkBounds(b); err != nil {
			return fmt.Errorf("%s: %w", pair, err)
		}
	}
	for pair, byExchange := range cfg.Overrides {
		for id, b := range byExchange {
			if err := checkBounds(b); err != nil {
				return fmt.Errorf("%s on exchange %d: %w", pair, id, err)
			}
		}
	}
	return nil
}

func validateExchanges(list []ExchangeConfig) error {
	seen := make(map[uint8]bool, len(list))
	enabled := 0
	for i, ex := range list {
		if ex.ID == 0 {
			return fmt.Errorf("%w: exchange %d: id must be >= 1", ErrInvalidExchange, i)
		}
		if seen[ex.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateExchangeID, ex.ID)
		}
		seen[ex.ID] = true

		if ex.Name == "" {
			return fmt.Errorf("%w: exchange %d: name must be specified", ErrInvalidExchange, ex.ID)
		}
		switch exchanges.Protocol(strings.ToLower(ex.Protocol)) {
		case exchanges.ProtocolUniswapV3, exchanges.ProtocolUniswapV2:
		default:
			return fmt.Errorf("%w: exchange %d: unknown protocol %q", ErrInvalidExchange, ex.ID, ex.Protocol)
		}
		if ex.Priority < 0 {
			return fmt.Errorf("%w: exchange %d: priority must be >= 0", ErrInvalidExchange, ex.ID)
		}
		if ex.Weight < 0 {
			return fmt.Errorf("exchange %d: %w", ex.ID, ErrSourceWeightMustBeNonNegative)
		}
		if ex.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return ErrNoExchangesEnabled
	}
	return nil
}

func validateStoreConfig(cfg *StoreConfig) error {
	switch strings.ToLower(cfg.Backend) {
	case store.BackendBadger:
	case store.BackendRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("%w: redis_url must be specified for the redis backend", ErrInvalidStore)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (must be 'badger' or 'redis')", ErrInvalidStore, cfg.Backend)
	}
	if cfg.RecordTTL < 0 {
		return fmt.Errorf("%w: record_ttl must be >= 0", ErrInvalidStore)
	}
	return nil
}

func validateEventStreamConfig(cfg *EventStreamConfig) error {
	switch eventstream.Kind(strings.ToLower(cfg.Kind)) {
	case eventstream.KindLocal:
		if cfg.BlockTime <= 0 {
			return fmt.Errorf("%w: block_time must be > 0", ErrInvalidEventStream)
		}
	case eventstream.KindTendermint, eventstream.KindSubstrate, eventstream.KindEVM:
		if len(cfg.Endpoints) == 0 {
			return fmt.Errorf("%w: at least one endpoint must be specified", ErrInvalidEventStream)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEventStream, cfg.Kind)
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	mode := strings.ToLower(cfg.AggregateMode)
	if mode != "median" && mode != "average" && mode != "adaptive" {
		return fmt.Errorf("%w: %s (must be 'median', 'average', or 'adaptive')", ErrInvalidAggregateMode, cfg.AggregateMode)
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	formatValid := strings.ToLower(cfg.Format) == "json" || strings.ToLower(cfg.Format) == "text"
	if !formatValid {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/StrathCole/price-oracle/pkg/admission"
	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/feeder/collector"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/ledger"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/server/aggregator"
	"github.com/StrathCole/price-oracle/pkg/server/api"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

// merge overlays the fields set in b onto base.
func (b BoundsConfig) merge(base validator.Bounds) validator.Bounds {
	if b.MinPrice != nil {
		base.Min = *b.MinPrice
	}
	if b.MaxPrice != nil {
		base.Max = *b.MaxPrice
	}
	if b.MaxDeviationPct != nil {
		base.MaxDeviationPct = *b.MaxDeviationPct
	}
	if b.MaxAge != 0 {
		base.MaxAge = b.MaxAge.ToDuration()
	}
	return base
}

// ValidatorConfig resolves pair bounds over the built-in defaults, plus the
// per-exchange overrides of enabled exchanges.
func (c *Config) ValidatorConfig() (validator.Config, error) {
	pairs := validator.DefaultBounds()
	for raw, b := range c.Pairs {
		pair, err := pricing.ParseTokenPair(raw)
		if err != nil {
			return validator.Config{}, fmt.Errorf("%w: %w", ErrInvalidPair, err)
		}
		pairs[pair] = b.merge(pairs[pair])
	}

	overrides := make(map[pricing.TokenPair]map[pricing.ExchangeID]validator.Bounds)
	for _, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		for raw, b := range ex.Bounds {
			pair, err := pricing.ParseTokenPair(raw)
			if err != nil {
				return validator.Config{}, fmt.Errorf("%w: exchange %d: %w", ErrInvalidPair, ex.ID, err)
			}
			if overrides[pair] == nil {
				overrides[pair] = make(map[pricing.ExchangeID]validator.Bounds)
			}
			overrides[pair][pricing.ExchangeID(ex.ID)] = b.merge(pairs[pair])
		}
	}

	return validator.Config{
		Pairs:     pairs,
		Overrides: overrides,
		ClockSkew: c.Oracle.ClockSkew.ToDuration(),
	}, nil
}

// ExchangeSpecs returns the adapter specs of every configured exchange.
func (c *Config) ExchangeSpecs() []exchanges.Spec {
	specs := make([]exchanges.Spec, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		specs = append(specs, exchanges.Spec{
			ID:       pricing.ExchangeID(ex.ID),
			Name:     ex.Name,
			Protocol: exchanges.Protocol(strings.ToLower(ex.Protocol)),
			Chain:    ex.Chain,
			Priority: ex.Priority,
			Enabled:  ex.Enabled,
			Config:   ex.Config,
		})
	}
	return specs
}

// Weights returns the aggregation weight of each enabled exchange.
func (c *Config) Weights() map[pricing.ExchangeID]float64 {
	weights := make(map[pricing.ExchangeID]float64, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		w := ex.Weight
		if w == 0 {
			w = 1.0
		}
		weights[pricing.ExchangeID(ex.ID)] = w
	}
	return weights
}

// AdmissionConfig returns the admission protocol settings.
func (c *Config) AdmissionConfig() admission.Config {
	return admission.Config{
		UpdateInterval: c.Oracle.UpdateInterval,
		Longevity:      c.Oracle.SubmissionLongevity,
		RecordTTL:      c.Store.RecordTTL.ToDuration(),
	}
}

// CollectorConfig returns the collection scheduler settings.
func (c *Config) CollectorConfig() (collector.Config, error) {
	pairs := make([]pricing.TokenPair, 0, len(c.Oracle.Pairs))
	for _, raw := range c.Oracle.Pairs {
		pair, err := pricing.ParseTokenPair(raw)
		if err != nil {
			return collector.Config{}, fmt.Errorf("%w: %w", ErrInvalidPair, err)
		}
		pairs = append(pairs, pair)
	}
	return collector.Config{
		UpdateInterval:       c.Oracle.UpdateInterval,
		MaxExchangesPerBlock: c.Oracle.MaxExchangesPerBlock,
		FetchTimeout:         c.Oracle.FetchTimeout.ToDuration(),
		EpisodeDeadline:      c.Oracle.EpisodeDeadline.ToDuration(),
		Pairs:                pairs,
		DryRun:               c.Oracle.DryRun,
	}, nil
}

// EventStreamConfig returns the height source settings.
func (c *Config) EventStreamConfig() eventstream.Config {
	return eventstream.Config{
		Kind:        eventstream.Kind(strings.ToLower(c.EventStream.Kind)),
		Endpoints:   c.EventStream.Endpoints,
		BlockTime:   c.EventStream.BlockTime.ToDuration(),
		StartHeight: c.EventStream.StartHeight,
	}
}

// LedgerConfig returns the local pool settings.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		MaxPool:       c.Ledger.MaxPool,
		BlockCapacity: c.Ledger.BlockCapacity,
	}
}

// APIConfig returns the read API settings.
func (c *Config) APIConfig() api.Config {
	return api.Config{
		Addr: c.Server.Addr,
		Mode: c.Server.AggregateMode,
		Adaptive: &aggregator.AdaptiveConfig{
			Sensitivity: c.Server.Adaptive.Sensitivity,
			FinalMode:   c.Server.Adaptive.FinalMode,
		},
		Weights: c.Weights(),
	}
}

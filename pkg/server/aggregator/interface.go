// Package aggregator combines the per-exchange entries of a pair into one reference price.
// It only serves reads; admission never consults it.
package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

const (
	// ModeMedian uses weighted median aggregation with outlier rejection.
	ModeMedian = "median"
	// ModeAverage uses weighted average aggregation.
	ModeAverage = "average"
	// ModeAdaptive uses adaptive threshold filtering with configurable sensitivity.
	ModeAdaptive = "adaptive"
)

// Result is an aggregated price.
type Result struct {
	Pair  pricing.TokenPair `json:"pair"`
	Mode  string            `json:"mode"`
	Price decimal.Decimal   `json:"price"`
	// Timestamp is the newest timestamp among the contributing entries.
	Timestamp time.Time            `json:"timestamp"`
	Used      []pricing.ExchangeID `json:"used"`
	Rejected  []pricing.ExchangeID `json:"rejected,omitempty"`
}

// Aggregator defines the interface for price aggregation strategies.
type Aggregator interface {
	// Aggregate combines entries; weights maps exchange ids to their weight
	// (1.0 = standard, missing = 1.0).
	Aggregate(pair pricing.TokenPair, entries map[pricing.ExchangeID]pricing.PriceEntry, weights map[pricing.ExchangeID]float64) (Result, error)
}

// AdaptiveConfig holds configuration for adaptive aggregator.
type AdaptiveConfig struct {
	Sensitivity float64 // k constant (1.5 = strict, 2.0 = tolerant)
	FinalMode   string  // "median" or "average" for final aggregation
}

// NewAggregator creates an aggregator based on the specified mode.
func NewAggregator(mode string, logger *logging.Logger) (Aggregator, error) {
	return NewAggregatorWithConfig(mode, logger, nil)
}

// NewAggregatorWithConfig creates an aggregator with optional configuration.
func NewAggregatorWithConfig(mode string, logger *logging.Logger, adaptiveConfig *AdaptiveConfig) (Aggregator, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	switch mode {
	case ModeMedian:
		return NewMedianAggregator(logger), nil
	case ModeAverage:
		return NewAverageAggregator(logger), nil
	case ModeAdaptive:
		var sensitivity float64
		var finalMode string
		if adaptiveConfig != nil {
			sensitivity = adaptiveConfig.Sensitivity
			finalMode = adaptiveConfig.FinalMode
		}
		return NewAdaptiveAggregator(logger, sensitivity, finalMode), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: median, average, adaptive)", ErrUnknownMode, mode)
	}
}

// weightedPrice tracks which exchange provided a price and its weight.
type weightedPrice struct {
	exchange  pricing.ExchangeID
	price     decimal.Decimal
	timestamp time.Time
	weight    float64
}

// collect flattens entries sorted by price, ties broken by exchange id.
func collect(entries map[pricing.ExchangeID]pricing.PriceEntry, weights map[pricing.ExchangeID]float64) []weightedPrice {
	prices := make([]weightedPrice, 0, len(entries))
	for id, e := range entries {
		weight := 1.0
		if w, ok := weights[id]; ok {
			weight = w
		}
		prices = append(prices, weightedPrice{exchange: id, price: e.Price, timestamp: e.Timestamp, weight: weight})
	}
	sort.Slice(prices, func(i, j int) bool {
		if !prices[i].price.Equal(prices[j].price) {
			return prices[i].price.LessThan(prices[j].price)
		}
		return prices[i].exchange < prices[j].exchange
	})
	return prices
}

func newResult(pair pricing.TokenPair, mode string, price decimal.Decimal, used, rejected []weightedPrice) Result {
	r := Result{Pair: pair, Mode: mode, Price: pricing.Normalize(price)}
	for _, p := range used {
		r.Used = append(r.Used, p.exchange)
		if p.timestamp.After(r.Timestamp) {
			r.Timestamp = p.timestamp
		}
	}
	for _, p := range rejected {
		r.Rejected = append(r.Rejected, p.exchange)
	}
	sort.Slice(r.Used, func(i, j int) bool { return r.Used[i] < r.Used[j] })
	sort.Slice(r.Rejected, func(i, j int) bool { return r.Rejected[i] < r.Rejected[j] })
	return r
}

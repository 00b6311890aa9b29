package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// AdaptiveAggregator filters outliers with |Pi - median| <= k * σ and
// aggregates the remainder with the configured final mode.
type AdaptiveAggregator struct {
	logger      *logging.Logger
	sensitivity float64 // k constant (e.g., 1.5-2.0)
	finalMode   string  // "median" or "average" for final aggregation
}

var _ Aggregator = (*AdaptiveAggregator)(nil)

// NewAdaptiveAggregator creates a new adaptive aggregator.
// sensitivity: k value for filtering (1.5 = strict, 2.0 = tolerant)
// finalMode: "median" or "average" for final aggregation of filtered prices.
func NewAdaptiveAggregator(logger *logging.Logger, sensitivity float64, finalMode string) *AdaptiveAggregator {
	if sensitivity <= 0 {
		sensitivity = 1.5
	}
	if finalMode != ModeMedian && finalMode != ModeAverage {
		finalMode = ModeAverage
	}
	return &AdaptiveAggregator{
		logger:      logger,
		sensitivity: sensitivity,
		finalMode:   finalMode,
	}
}

// Aggregate computes the filtered price of pair.
func (a *AdaptiveAggregator) Aggregate(pair pricing.TokenPair, entries map[pricing.ExchangeID]pricing.PriceEntry, weights map[pricing.ExchangeID]float64) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeAdaptive, time.Since(start))
	}()

	if len(entries) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoPrices, pair)
	}

	prices := collect(entries, weights)
	if len(prices) == 1 {
		return newResult(pair, ModeAdaptive, prices[0].price, prices, nil), nil
	}

	median := simpleMedian(prices)
	sigma := stdDev(prices, median)
	threshold := decimal.NewFromFloat(a.sensitivity).Mul(sigma)

	filtered := make([]weightedPrice, 0, len(prices))
	var rejected []weightedPrice
	for _, p := range prices {
		deviation := p.price.Sub(median).Abs()
		if deviation.GreaterThan(threshold) {
			a.logger.Debug("Rejecting outlier (adaptive)",
				"pair", pair,
				"exchange", p.exchange,
				"price", p.price.String(),
				"median", median.String(),
				"threshold", threshold.String())
			metrics.RecordOutlierRejection(string(pair))
			rejected = append(rejected, p)
			continue
		}
		filtered = append(filtered, p)
	}

	if len(filtered) == 0 {
		a.logger.Warn("All prices rejected by adaptive filter, using all prices",
			"pair", pair, "initial_count", len(prices), "stddev", sigma.String())
		filtered, rejected = prices, nil
	}

	var final decimal.Decimal
	if a.finalMode == ModeMedian {
		final = weightedMedian(filtered)
	} else {
		final = weightedAverage(filtered)
	}

	a.logger.Debug("Adaptive filtering complete",
		"pair", pair,
		"filtered_count", len(filtered),
		"rejected_count", len(rejected),
		"stddev", sigma.String())

	return newResult(pair, ModeAdaptive, final, filtered, rejected), nil
}

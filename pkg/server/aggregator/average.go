package aggregator

import (
	"fmt"
	"time"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// AverageAggregator aggregates prices using the weighted arithmetic mean.
type AverageAggregator struct {
	logger *logging.Logger
}

var _ Aggregator = (*AverageAggregator)(nil)

// NewAverageAggregator creates a new average aggregator
func NewAverageAggregator(logger *logging.Logger) *AverageAggregator {
	return &AverageAggregator{logger: logger}
}

// Aggregate computes the weighted average of all entries.
func (a *AverageAggregator) Aggregate(pair pricing.TokenPair, entries map[pricing.ExchangeID]pricing.PriceEntry, weights map[pricing.ExchangeID]float64) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeAverage, time.Since(start))
	}()

	if len(entries) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoPrices, pair)
	}

	prices := collect(entries, weights)
	avg := weightedAverage(prices)
	a.logger.Debug("Aggregated prices using average", "pair", pair, "exchanges", len(prices))
	return newResult(pair, ModeAverage, avg, prices, nil), nil
}

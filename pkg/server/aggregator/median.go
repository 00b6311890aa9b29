package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// OutlierThreshold is the fractional deviation from the median that marks an outlier.
var OutlierThreshold = decimal.NewFromFloat(0.10)

// MedianAggregator aggregates prices using median and rejects outliers.
type MedianAggregator struct {
	logger *logging.Logger
}

var _ Aggregator = (*MedianAggregator)(nil)

// NewMedianAggregator creates a new median aggregator.
func NewMedianAggregator(logger *logging.Logger) *MedianAggregator {
	return &MedianAggregator{logger: logger}
}

// Aggregate computes the weighted median after dropping exchanges more than
// OutlierThreshold away from the plain median. If every price is an outlier the
// median of all of them is used.
func (a *MedianAggregator) Aggregate(pair pricing.TokenPair, entries map[pricing.ExchangeID]pricing.PriceEntry, weights map[pricing.ExchangeID]float64) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeMedian, time.Since(start))
	}()

	if len(entries) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoPrices, pair)
	}

	prices := collect(entries, weights)
	if len(prices) == 1 {
		return newResult(pair, ModeMedian, prices[0].price, prices, nil), nil
	}

	initialMedian := simpleMedian(prices)

	filtered := make([]weightedPrice, 0, len(prices))
	var rejected []weightedPrice
	for _, p := range prices {
		deviationPct := p.price.Sub(initialMedian).Abs().Div(initialMedian)
		if deviationPct.GreaterThan(OutlierThreshold) {
			a.logger.Debug("Rejecting outlier",
				"pair", pair,
				"exchange", p.exchange,
				"price", p.price.String(),
				"median", initialMedian.String(),
				"deviation_pct", deviationPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
			metrics.RecordOutlierRejection(string(pair))
			rejected = append(rejected, p)
			continue
		}
		filtered = append(filtered, p)
	}

	if len(filtered) == 0 {
		a.logger.Warn("All prices rejected as outliers, using initial median",
			"pair", pair, "initial_count", len(prices))
		return newResult(pair, ModeMedian, initialMedian, prices, nil), nil
	}

	return newResult(pair, ModeMedian, weightedMedian(filtered), filtered, rejected), nil
}

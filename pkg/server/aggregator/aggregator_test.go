package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

func entries(prices map[pricing.ExchangeID]string) map[pricing.ExchangeID]pricing.PriceEntry {
	out := make(map[pricing.ExchangeID]pricing.PriceEntry, len(prices))
	for id, p := range prices {
		out[id] = pricing.PriceEntry{
			Price:     decimal.RequireFromString(p),
			Timestamp: time.Unix(1_700_000_000+int64(id), 0),
		}
	}
	return out
}

func withOutlier() map[pricing.ExchangeID]pricing.PriceEntry {
	return entries(map[pricing.ExchangeID]string{
		1: "3200", 2: "3210", 3: "3190", 4: "4000", 5: "3205",
	})
}

func TestNewAggregator(t *testing.T) {
	for _, mode := range []string{ModeMedian, ModeAverage, ModeAdaptive} {
		agg, err := NewAggregator(mode, nil)
		require.NoError(t, err, mode)
		assert.NotNil(t, agg)
	}

	_, err := NewAggregator("tvwap", nil)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestEmptyEntries(t *testing.T) {
	for _, mode := range []string{ModeMedian, ModeAverage, ModeAdaptive} {
		agg, err := NewAggregator(mode, nil)
		require.NoError(t, err)
		_, err = agg.Aggregate(pricing.PairETHUSD, nil, nil)
		assert.ErrorIs(t, err, ErrNoPrices, mode)
	}
}

func TestMedianRejectsOutliers(t *testing.T) {
	agg := NewMedianAggregator(logging.NewNoopLogger())

	res, err := agg.Aggregate(pricing.PairETHUSD, withOutlier(), nil)
	require.NoError(t, err)
	assert.Equal(t, "3202.5", res.Price.String())
	assert.Equal(t, []pricing.ExchangeID{4}, res.Rejected)
	assert.Equal(t, []pricing.ExchangeID{1, 2, 3, 5}, res.Used)
	assert.Equal(t, time.Unix(1_700_000_005, 0), res.Timestamp)
	assert.Equal(t, ModeMedian, res.Mode)
}

func TestWeightedMedian(t *testing.T) {
	agg := NewMedianAggregator(logging.NewNoopLogger())

	res, err := agg.Aggregate(pricing.PairETHUSD, withOutlier(), map[pricing.ExchangeID]float64{1: 3.0})
	require.NoError(t, err)
	assert.Equal(t, "3200", res.Price.String())
}

func TestMedianSingleEntry(t *testing.T) {
	agg := NewMedianAggregator(logging.NewNoopLogger())

	res, err := agg.Aggregate(pricing.PairSOLUSD, entries(map[pricing.ExchangeID]string{2: "151.25"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "151.25", res.Price.String())
	assert.Empty(t, res.Rejected)
}

func TestWeightedAverage(t *testing.T) {
	agg := NewAverageAggregator(logging.NewNoopLogger())

	res, err := agg.Aggregate(pricing.PairETHUSD,
		entries(map[pricing.ExchangeID]string{1: "3000", 2: "3300"}),
		map[pricing.ExchangeID]float64{2: 2.0})
	require.NoError(t, err)
	assert.Equal(t, "3200", res.Price.String())
	assert.Equal(t, []pricing.ExchangeID{1, 2}, res.Used)
}

func TestAdaptive(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 1.5, ModeAverage)

	res, err := agg.Aggregate(pricing.PairETHUSD, withOutlier(), nil)
	require.NoError(t, err)
	assert.Equal(t, "3201.25", res.Price.String())
	assert.Equal(t, []pricing.ExchangeID{4}, res.Rejected)
}

func TestAdaptiveDefaults(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 0, "bogus")
	assert.Equal(t, 1.5, agg.sensitivity)
	assert.Equal(t, ModeAverage, agg.finalMode)
}

func TestAdaptiveIdenticalPrices(t *testing.T) {
	agg := NewAdaptiveAggregator(logging.NewNoopLogger(), 2.0, ModeMedian)

	res, err := agg.Aggregate(pricing.PairBTCUSD,
		entries(map[pricing.ExchangeID]string{1: "65000", 2: "65000", 3: "65000"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "65000", res.Price.String())
	assert.Empty(t, res.Rejected)
}

package aggregator

import (
	"math"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// simpleMedian computes the unweighted median of a sorted price list.
func simpleMedian(sorted []weightedPrice) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 0 {
		return sorted[n/2-1].price.Add(sorted[n/2].price).Div(two)
	}
	return sorted[n/2].price
}

// weightedMedian computes the weighted median of a sorted price list:
// the price where cumulative weight reaches 50% of total weight.
func weightedMedian(sorted []weightedPrice) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return sorted[0].price
	}

	totalWeight := 0.0
	for _, p := range sorted {
		totalWeight += p.weight
	}

	targetWeight := totalWeight / 2.0
	cumulativeWeight := 0.0
	for i, p := range sorted {
		cumulativeWeight += p.weight
		if cumulativeWeight >= targetWeight {
			// Exactly at 50%: average with the next price.
			if cumulativeWeight == targetWeight && i+1 < n {
				return p.price.Add(sorted[i+1].price).Div(two)
			}
			return p.price
		}
	}

	return sorted[n/2].price
}

// weightedAverage calculates the weighted arithmetic mean of prices.
func weightedAverage(prices []weightedPrice) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	if len(prices) == 1 {
		return prices[0].price
	}

	weightedSum := decimal.Zero
	totalWeight := decimal.Zero
	for _, p := range prices {
		w := decimal.NewFromFloat(p.weight)
		weightedSum = weightedSum.Add(p.price.Mul(w))
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() {
		return decimal.Zero
	}
	return weightedSum.DivRound(totalWeight, 18)
}

// stdDev computes σ = sqrt(Σ(Pi - center)² / n).
func stdDev(prices []weightedPrice, center decimal.Decimal) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}

	sumSquaredDev := decimal.Zero
	for _, p := range prices {
		d := p.price.Sub(center)
		sumSquaredDev = sumSquaredDev.Add(d.Mul(d))
	}
	variance, _ := sumSquaredDev.Div(decimal.NewFromInt(int64(len(prices)))).Float64()
	return decimal.NewFromFloat(math.Sqrt(variance))
}

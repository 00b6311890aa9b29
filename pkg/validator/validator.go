package validator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/pricing"
)

var hundred = decimal.NewFromInt(100)

// Bounds are the plausibility limits for one pair (optionally one exchange).
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
	// MaxDeviationPct is the largest accepted move against the stored entry, in percent.
	// Zero disables the check.
	MaxDeviationPct decimal.Decimal
	// MaxAge is how old an observation may be at collection time. Zero disables the check.
	MaxAge time.Duration
}

// DefaultBounds returns the built-in bands for the known pairs.
func DefaultBounds() map[pricing.TokenPair]Bounds {
	band := func(lo, hi int64) Bounds {
		return Bounds{
			Min:             decimal.NewFromInt(lo),
			Max:             decimal.NewFromInt(hi),
			MaxDeviationPct: decimal.NewFromInt(10),
			MaxAge:          5 * time.Minute,
		}
	}
	return map[pricing.TokenPair]Bounds{
		pricing.PairETHUSD:  band(1_000, 20_000),
		pricing.PairBTCUSD:  band(20_000, 200_000),
		pricing.PairSOLUSD:  band(10, 1_000),
		pricing.PairAVAXUSD: band(5, 200),
	}
}

// Config configures a Validator.
type Config struct {
	Pairs map[pricing.TokenPair]Bounds
	// Overrides replace the pair bounds for a single exchange.
	Overrides map[pricing.TokenPair]map[pricing.ExchangeID]Bounds
	// ClockSkew is the tolerance applied to future timestamps.
	ClockSkew time.Duration
}

// Validator checks observations and candidates. It is immutable after construction
// and safe for concurrent use.
type Validator struct {
	pairs     map[pricing.TokenPair]Bounds
	overrides map[pricing.TokenPair]map[pricing.ExchangeID]Bounds
	clockSkew time.Duration
}

// New creates a validator from cfg.
func New(cfg Config) *Validator {
	v := &Validator{
		pairs:     make(map[pricing.TokenPair]Bounds, len(cfg.Pairs)),
		overrides: make(map[pricing.TokenPair]map[pricing.ExchangeID]Bounds, len(cfg.Overrides)),
		clockSkew: cfg.ClockSkew,
	}
	for pair, b := range cfg.Pairs {
		v.pairs[pair] = b
	}
	for pair, byExchange := range cfg.Overrides {
		m := make(map[pricing.ExchangeID]Bounds, len(byExchange))
		for id, b := range byExchange {
			m[id] = b
		}
		v.overrides[pair] = m
	}
	return v
}

// BoundsFor returns the effective bounds for (pair, exchange).
func (v *Validator) BoundsFor(pair pricing.TokenPair, exchange pricing.ExchangeID) (Bounds, error) {
	if byExchange, ok := v.overrides[pair]; ok {
		if b, ok := byExchange[exchange]; ok {
			return b, nil
		}
	}
	b, ok := v.pairs[pair]
	if !ok {
		return Bounds{}, fmt.Errorf("%w: %s", ErrNoBounds, pair)
	}
	return b, nil
}

// Validate runs the full check chain on a fresh observation:
// bounds, deviation against reference, then freshness relative to now.
func (v *Validator) Validate(obs pricing.Observation, reference *pricing.PriceEntry, now time.Time) error {
	if err := v.CheckPrice(obs.Pair, obs.Exchange, obs.Price, reference); err != nil {
		return err
	}

	b, err := v.BoundsFor(obs.Pair, obs.Exchange)
	if err != nil {
		return err
	}
	if b.MaxAge > 0 && now.Sub(obs.ObservedAt) > b.MaxAge {
		return fmt.Errorf("%w: observed_at=%s age=%s max_age=%s",
			ErrStaleObservation, obs.ObservedAt.Format(time.RFC3339), now.Sub(obs.ObservedAt), b.MaxAge)
	}
	if err := v.CheckTimestamp(obs.ObservedAt, now); err != nil {
		return err
	}

	return CheckOrdering(obs.ObservedAt, reference)
}

// CheckTimestamp rejects a timestamp later than now plus the allowed clock skew.
func (v *Validator) CheckTimestamp(ts, now time.Time) error {
	if ts.After(now.Add(v.clockSkew)) {
		return fmt.Errorf("%w: observed_at=%s now=%s",
			ErrFutureTimestamp, ts.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return nil
}

// CheckPrice applies the bounds and deviation checks.
func (v *Validator) CheckPrice(pair pricing.TokenPair, exchange pricing.ExchangeID, price decimal.Decimal, reference *pricing.PriceEntry) error {
	b, err := v.BoundsFor(pair, exchange)
	if err != nil {
		return err
	}

	if !price.IsPositive() || price.LessThan(b.Min) || price.GreaterThan(b.Max) {
		return fmt.Errorf("%w: pair=%s price=%s range=[%s, %s]", ErrOutOfBounds, pair, price, b.Min, b.Max)
	}

	if reference == nil || !reference.Price.IsPositive() || b.MaxDeviationPct.IsZero() {
		return nil
	}

	deviation := price.Sub(reference.Price).Abs().Div(reference.Price)
	if deviation.GreaterThan(b.MaxDeviationPct.Div(hundred)) {
		return fmt.Errorf("%w: pair=%s price=%s reference=%s deviation=%s%% max=%s%%",
			ErrExcessiveDeviation, pair, price, reference.Price,
			deviation.Mul(hundred).StringFixed(2), b.MaxDeviationPct)
	}
	return nil
}

// CheckOrdering rejects a timestamp older than the stored entry.
func CheckOrdering(ts time.Time, reference *pricing.PriceEntry) error {
	if reference != nil && ts.Before(reference.Timestamp) {
		return fmt.Errorf("%w: timestamp %s precedes stored %s",
			ErrStaleObservation, ts.Format(time.RFC3339), reference.Timestamp.Format(time.RFC3339))
	}
	return nil
}

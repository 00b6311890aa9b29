// Package admission gates unsigned price submissions before they reach the store.
//
// Validate is pure and may be called any number of times by the pool; Apply is
// called once the host includes the submission and performs the all-or-nothing
// write of the entry and its admission record.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

// ExchangeSet reports which exchange ids are registered.
type ExchangeSet interface {
	Has(id pricing.ExchangeID) bool
}

// Listener receives every applied price update.
type Listener func(pricing.PriceUpdated)

// Config holds the window parameters.
type Config struct {
	UpdateInterval uint64
	// Longevity is the number of blocks a submission stays includable.
	Longevity uint64
	// RecordTTL is passed to the store for admission records. Zero keeps them.
	RecordTTL time.Duration
}

// Validate checks that every includable height lies in the candidate's window.
func (c Config) Validate() error {
	if c.UpdateInterval == 0 {
		return fmt.Errorf("%w: update interval must be positive", ErrInvalidConfig)
	}
	if c.Longevity == 0 || c.Longevity >= c.UpdateInterval {
		return fmt.Errorf("%w: longevity %d must be in [1, %d)", ErrInvalidConfig, c.Longevity, c.UpdateInterval)
	}
	return nil
}

// Protocol is the admission gate.
type Protocol struct {
	cfg       Config
	exchanges ExchangeSet
	validator *validator.Validator
	store     store.Store
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

// New creates the gate.
func New(cfg Config, exchanges ExchangeSet, v *validator.Validator, st store.Store, logger zerolog.Logger) (*Protocol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Protocol{
		cfg:       cfg,
		exchanges: exchanges,
		validator: v,
		store:     st,
		logger:    logger.With().Str("component", "admission").Logger(),
		now:       time.Now,
	}, nil
}

// Config returns the window parameters.
func (p *Protocol) Config() Config {
	return p.cfg
}

// Subscribe registers fn for applied updates. Listeners run synchronously after the commit.
func (p *Protocol) Subscribe(fn Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Tag is the pool "provides" tag for key.
func Tag(key pricing.AdmissionKey) string {
	return "price:" + key.String()
}

// Validate decides whether c may be included at currentHeight. It never writes.
func (p *Protocol) Validate(ctx context.Context, c pricing.Candidate, currentHeight uint64) Decision {
	d := p.validate(ctx, c, currentHeight)
	metrics.RecordAdmission("validate", d.Reason())
	if !d.Accepted {
		p.logger.Debug().
			Err(d.Err).
			Str("key", c.Key().String()).
			Uint64("height", currentHeight).
			Msg("Submission rejected")
	}
	return d
}

func (p *Protocol) validate(ctx context.Context, c pricing.Candidate, currentHeight uint64) Decision {
	if !c.Pair.IsKnown() {
		return Reject(fmt.Errorf("%w: unknown pair %q", ErrMalformedCandidate, c.Pair))
	}
	if !p.exchanges.Has(c.Exchange) {
		return Reject(fmt.Errorf("%w: exchange %d not registered", ErrMalformedCandidate, c.Exchange))
	}

	if expected := pricing.WindowFor(c.Height, p.cfg.UpdateInterval); expected != c.Window {
		return Reject(fmt.Errorf("%w: declared window %d but height %d maps to %d",
			ErrWindowMismatch, c.Window, c.Height, expected))
	}
	if currentHeight > c.Height+p.cfg.Longevity {
		return Reject(fmt.Errorf("%w: collected at %d, now %d, longevity %d",
			ErrExpired, c.Height, currentHeight, p.cfg.Longevity))
	}
	if c.Height > currentHeight {
		return Reject(fmt.Errorf("%w: collected at future height %d, now %d", ErrWindowMismatch, c.Height, currentHeight))
	}
	if current := pricing.WindowFor(currentHeight, p.cfg.UpdateInterval); current != c.Window {
		return Reject(fmt.Errorf("%w: window %d is not the current window %d", ErrWindowMismatch, c.Window, current))
	}

	key := c.Key()
	admitted, err := p.store.HasAdmission(ctx, key)
	if err != nil {
		return Reject(fmt.Errorf("%w: %w", ErrStateUnavailable, err))
	}
	if admitted {
		return Reject(fmt.Errorf("%w: %s", ErrDuplicateWindow, key))
	}

	ref, err := p.store.Get(ctx, c.Pair, c.Exchange)
	if err != nil {
		return Reject(fmt.Errorf("%w: %w", ErrStateUnavailable, err))
	}
	if err := p.checkAgainst(c, ref); err != nil {
		return Reject(err)
	}

	return Accept(MaxPriority, p.cfg.Longevity, Tag(key))
}

func (p *Protocol) checkAgainst(c pricing.Candidate, ref *pricing.PriceEntry) error {
	if err := p.validator.CheckPrice(c.Pair, c.Exchange, c.Price, ref); err != nil {
		return fmt.Errorf("%w: %w", ErrBoundsViolation, err)
	}
	if err := p.validator.CheckTimestamp(c.Timestamp, p.now()); err != nil {
		return fmt.Errorf("%w: %w", ErrBoundsViolation, err)
	}
	if err := validator.CheckOrdering(c.Timestamp, ref); err != nil {
		return fmt.Errorf("%w: %w", ErrBoundsViolation, err)
	}
	return nil
}

// Apply writes c after inclusion at inclusionHeight. The checks of Validate run
// again and the ordering and bounds checks are repeated inside the store
// transaction, so either the entry and its admission record both land or neither does.
func (p *Protocol) Apply(ctx context.Context, c pricing.Candidate, inclusionHeight uint64) (pricing.PriceEntry, error) {
	if d := p.validate(ctx, c, inclusionHeight); !d.Accepted {
		metrics.RecordAdmission("apply", d.Reason())
		return pricing.PriceEntry{}, d.Err
	}

	key := c.Key()
	entry := pricing.PriceEntry{
		Price:     pricing.Normalize(c.Price),
		Timestamp: c.Timestamp,
		UpdatedAt: inclusionHeight,
	}

	err := p.store.Commit(ctx, store.Update{Key: key, Entry: entry, RecordTTL: p.cfg.RecordTTL},
		func(current *pricing.PriceEntry) error {
			return p.checkAgainst(c, current)
		})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateAdmission):
		err = fmt.Errorf("%w: %w", ErrDuplicateWindow, err)
	case errors.Is(err, ErrBoundsViolation):
	default:
		err = fmt.Errorf("%w: %w", ErrStateUnavailable, err)
	}
	metrics.RecordAdmission("apply", Reason(err))
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to apply submission")
		return pricing.PriceEntry{}, err
	}

	event := pricing.NewPriceUpdated(c, entry)
	price, _ := entry.Price.Float64()
	metrics.RecordPrice(string(c.Pair), c.Exchange.String(), price)
	p.logger.Info().
		Str("pair", string(c.Pair)).
		Str("pair_hash", event.PairHash).
		Uint8("exchange", uint8(c.Exchange)).
		Str("price", entry.Price.String()).
		Uint64("window", c.Window).
		Uint64("height", inclusionHeight).
		Msg("Price updated")

	p.mu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(event)
	}

	return entry, nil
}

package exchanges

import (
	"sync"
	"time"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// BaseAdapter provides identity and health bookkeeping shared by all adapters.
type BaseAdapter struct {
	id       pricing.ExchangeID
	name     string
	protocol Protocol
	chain    string
	pairs    []pricing.TokenPair
	logger   *logging.Logger

	mu        sync.RWMutex
	healthy   bool
	lastFetch time.Time
}

// NewBaseAdapter creates a base adapter for spec.
func NewBaseAdapter(spec Spec, logger *logging.Logger) *BaseAdapter {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &BaseAdapter{
		id:       spec.ID,
		name:     spec.Name,
		protocol: spec.Protocol,
		chain:    spec.Chain,
		logger:   logger.With("exchange", spec.Name, "exchange_id", spec.ID),
	}
}

// ID returns the exchange id
func (b *BaseAdapter) ID() pricing.ExchangeID {
	return b.id
}

// Name returns the exchange name
func (b *BaseAdapter) Name() string {
	return b.name
}

// Protocol returns the protocol
func (b *BaseAdapter) Protocol() Protocol {
	return b.protocol
}

// Chain returns the chain name
func (b *BaseAdapter) Chain() string {
	return b.chain
}

// Pairs returns the supported pairs
func (b *BaseAdapter) Pairs() []pricing.TokenPair {
	out := make([]pricing.TokenPair, len(b.pairs))
	copy(out, b.pairs)
	return out
}

// SetPairs records the pairs the adapter serves. Called once by the factory.
func (b *BaseAdapter) SetPairs(pairs []pricing.TokenPair) {
	b.pairs = pairs
}

// Logger returns the adapter scoped logger
func (b *BaseAdapter) Logger() *logging.Logger {
	return b.logger
}

// IsHealthy reports whether the last fetch succeeded
func (b *BaseAdapter) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// MarkFetch records the outcome of a fetch.
func (b *BaseAdapter) MarkFetch(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = err == nil
	if err == nil {
		b.lastFetch = time.Now()
	}
}

// LastFetch returns the time of the last successful fetch
func (b *BaseAdapter) LastFetch() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFetch
}

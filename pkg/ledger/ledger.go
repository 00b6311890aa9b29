package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/price-oracle/pkg/admission"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

const (
	defaultMaxPool       = 1024
	defaultBlockCapacity = 64
	heightBuffer         = 16
)

// Gate is the admission protocol as seen by the host.
type Gate interface {
	Validate(ctx context.Context, c pricing.Candidate, currentHeight uint64) admission.Decision
	Apply(ctx context.Context, c pricing.Candidate, inclusionHeight uint64) (pricing.PriceEntry, error)
}

// Config sizes the pool.
type Config struct {
	// MaxPool caps pending submissions.
	MaxPool int
	// BlockCapacity caps inclusions per block.
	BlockCapacity int
}

// Pending is one pooled submission.
type Pending struct {
	Candidate  pricing.Candidate
	Priority   uint64
	Provides   string
	ValidUntil uint64
	seq        uint64
}

// Inclusion is the outcome of including one submission.
type Inclusion struct {
	Candidate pricing.Candidate
	Height    uint64
	Entry     pricing.PriceEntry
	Err       error
}

// Ledger pools submissions and includes them as heights arrive from its source.
// It re-emits every height after inclusion so it can drive the collector.
type Ledger struct {
	cfg    Config
	gate   Gate
	source eventstream.EventStream
	logger zerolog.Logger

	mu     sync.Mutex
	height uint64
	seq    uint64
	pool   map[string]*Pending

	heightCh  chan eventstream.HeightEvent
	closeOnce sync.Once
}

var _ eventstream.EventStream = (*Ledger)(nil)

// New creates a ledger over source.
func New(cfg Config, gate Gate, source eventstream.EventStream, logger zerolog.Logger) *Ledger {
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = defaultMaxPool
	}
	if cfg.BlockCapacity <= 0 {
		cfg.BlockCapacity = defaultBlockCapacity
	}
	return &Ledger{
		cfg:      cfg,
		gate:     gate,
		source:   source,
		logger:   logger.With().Str("component", "ledger").Logger(),
		pool:     make(map[string]*Pending),
		heightCh: make(chan eventstream.HeightEvent, heightBuffer),
	}
}

// Height returns the last block height seen.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Submit validates c at the current height and pools it. It satisfies the
// collector's Submitter.
func (l *Ledger) Submit(ctx context.Context, c pricing.Candidate) error {
	l.mu.Lock()
	height := l.height
	l.mu.Unlock()

	d := l.gate.Validate(ctx, c, height)
	if !d.Accepted {
		return fmt.Errorf("%w: %w", ErrRejected, d.Err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.pool[d.Provides]; ok && existing.Priority >= d.Priority {
		return fmt.Errorf("%w: %s", ErrAlreadyPooled, d.Provides)
	}
	if _, replacing := l.pool[d.Provides]; !replacing && len(l.pool) >= l.cfg.MaxPool {
		return ErrPoolFull
	}

	l.seq++
	l.pool[d.Provides] = &Pending{
		Candidate:  c,
		Priority:   d.Priority,
		Provides:   d.Provides,
		ValidUntil: c.Height + d.Longevity,
		seq:        l.seq,
	}
	metrics.RecordPoolSize(len(l.pool))

	l.logger.Debug().
		Str("tag", d.Provides).
		Uint64("valid_until", c.Height+d.Longevity).
		Msg("Submission pooled")
	return nil
}

// Pending returns the pooled submissions in inclusion order.
func (l *Ledger) Pending() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orderedLocked()
}

func (l *Ledger) orderedLocked() []Pending {
	out := make([]Pending, 0, len(l.pool))
	for _, p := range l.pool {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// OnBlock advances to height: expired submissions are dropped, then up to
// BlockCapacity submissions are applied in priority order. Every considered
// submission leaves the pool, whether it was applied or rejected.
func (l *Ledger) OnBlock(ctx context.Context, height uint64) []Inclusion {
	l.mu.Lock()
	if height > l.height {
		l.height = height
	}
	for tag, p := range l.pool {
		if height > p.ValidUntil {
			delete(l.pool, tag)
			l.logger.Debug().Str("tag", tag).Uint64("height", height).Msg("Submission expired in pool")
		}
	}
	batch := l.orderedLocked()
	if len(batch) > l.cfg.BlockCapacity {
		batch = batch[:l.cfg.BlockCapacity]
	}
	for _, p := range batch {
		delete(l.pool, p.Provides)
	}
	metrics.RecordPoolSize(len(l.pool))
	l.mu.Unlock()

	results := make([]Inclusion, 0, len(batch))
	for _, p := range batch {
		entry, err := l.gate.Apply(ctx, p.Candidate, height)
		results = append(results, Inclusion{Candidate: p.Candidate, Height: height, Entry: entry, Err: err})
		if err != nil {
			l.logger.Warn().Err(err).Str("tag", p.Provides).Uint64("height", height).Msg("Submission dropped at inclusion")
		}
	}

	if len(results) > 0 {
		l.logger.Debug().Uint64("height", height).Int("considered", len(results)).Msg("Block included submissions")
	}
	return results
}

// Start starts the source and includes submissions on every height it delivers.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start height source: %w", err)
	}
	go l.loop(ctx)
	return nil
}

func (l *Ledger) loop(ctx context.Context) {
	defer close(l.heightCh)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.source.Heights():
			if !ok {
				return
			}
			l.OnBlock(ctx, ev.Height)

			select {
			case l.heightCh <- ev:
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				l.logger.Warn().Uint64("height", ev.Height).Msg("Height consumer is slow, dropping height")
			}
		}
	}
}

// Heights re-emits source heights after inclusion.
func (l *Ledger) Heights() <-chan eventstream.HeightEvent {
	return l.heightCh
}

// Close closes the source.
func (l *Ledger) Close() {
	l.closeOnce.Do(l.source.Close)
}

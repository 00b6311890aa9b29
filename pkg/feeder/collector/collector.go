package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

// State represents the collector state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Submitter hands a candidate to the host ledger.
type Submitter interface {
	Submit(ctx context.Context, c pricing.Candidate) error
}

// Source lists the registered adapters in priority order.
type Source interface {
	All() []exchanges.Entry
}

// Config contains collector configuration.
type Config struct {
	UpdateInterval       uint64
	MaxExchangesPerBlock int
	FetchTimeout         time.Duration
	// EpisodeDeadline bounds a whole episode. Zero means no bound beyond the fetch timeouts.
	EpisodeDeadline time.Duration
	// Pairs restricts collection. Empty collects every pair an adapter supports.
	Pairs  []pricing.TokenPair
	DryRun bool
}

func (c Config) validate() error {
	if c.UpdateInterval == 0 {
		return fmt.Errorf("%w: update interval must be positive", ErrInvalidConfig)
	}
	if c.MaxExchangesPerBlock <= 0 {
		return fmt.Errorf("%w: max exchanges per block must be positive", ErrInvalidConfig)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Failure is one fetch or validation that produced no candidate.
type Failure struct {
	Exchange pricing.ExchangeID
	Pair     pricing.TokenPair
	Err      error
}

// EpisodeReport summarizes one episode.
type EpisodeReport struct {
	ID         string
	Height     uint64
	Window     uint64
	Exchanges  []pricing.ExchangeID
	Candidates []pricing.Candidate
	Submitted  int
	Failures   []Failure
	DryRun     bool
	Duration   time.Duration
}

// Collector turns due height events into candidates.
type Collector struct {
	cfg       Config
	source    Source
	validator *validator.Validator
	reader    store.Reader
	submitter Submitter
	logger    zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      State
	cursor     int
	lastReport *EpisodeReport
	// wg tracks episodes, which may still Submit after the height stream closes.
	wg         sync.WaitGroup
}

// New creates a collector. reader supplies the reference entries for deviation checks.
func New(cfg Config, source Source, v *validator.Validator, reader store.Reader, submitter Submitter, logger zerolog.Logger) (*Collector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if submitter == nil && !cfg.DryRun {
		return nil, ErrNoSubmitter
	}
	return &Collector{
		cfg:       cfg,
		source:    source,
		validator: v,
		reader:    reader,
		submitter: submitter,
		logger:    logger.With().Str("component", "collector").Logger(),
		now:       time.Now,
		state:     StateIdle,
	}, nil
}

// State returns the current state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastReport returns the report of the last finished episode, or nil.
func (c *Collector) LastReport() *EpisodeReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

// Start runs episodes for height events until ctx is done or the stream closes.
// Episodes run in the background so that heights arriving during an episode are
// observed and skipped rather than queued. Start returns only after running
// episodes finish, so the submitter must stay open until then.
func (c *Collector) Start(ctx context.Context, stream eventstream.EventStream) error {
	c.logger.Info().
		Uint64("update_interval", c.cfg.UpdateInterval).
		Int("max_exchanges_per_block", c.cfg.MaxExchangesPerBlock).
		Bool("dry_run", c.cfg.DryRun).
		Msg("Starting block-driven price collector")
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Collector stopped")
			return ctx.Err()

		case ev, ok := <-stream.Heights():
			if !ok {
				c.logger.Warn().Msg("Height stream closed")
				return nil
			}
			if !pricing.IsDue(ev.Height, c.cfg.UpdateInterval) {
				continue
			}
			c.wg.Add(1)
			go func(height uint64) {
				defer c.wg.Done()
				if _, err := c.OnBlock(ctx, height); err != nil && !errors.Is(err, ErrEpisodeRunning) {
					c.logger.Error().Err(err).Uint64("height", height).Msg("Collection episode failed")
				}
			}(ev.Height)
		}
	}
}

// OnBlock runs an episode if height is due. It returns nil, nil when not due and
// ErrEpisodeRunning when the previous episode has not finished.
func (c *Collector) OnBlock(ctx context.Context, height uint64) (*EpisodeReport, error) {
	if !pricing.IsDue(height, c.cfg.UpdateInterval) {
		return nil, nil
	}

	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		c.logger.Warn().Uint64("height", height).Msg("Episode still running, skipping height")
		metrics.RecordEpisode("skipped", 0)
		return nil, ErrEpisodeRunning
	}
	c.state = StateRunning
	selected := c.selectLocked()
	c.mu.Unlock()

	report := c.runEpisode(ctx, height, selected)

	c.mu.Lock()
	c.state = StateIdle
	c.lastReport = report
	c.mu.Unlock()

	return report, nil
}

// selectLocked takes up to MaxExchangesPerBlock entries starting at the cursor and
// advances it, so a registry larger than the cap is covered over successive episodes.
func (c *Collector) selectLocked() []exchanges.Entry {
	all := c.source.All()
	if len(all) == 0 {
		return nil
	}
	n := c.cfg.MaxExchangesPerBlock
	if n > len(all) {
		n = len(all)
	}
	start := c.cursor % len(all)
	selected := make([]exchanges.Entry, 0, n)
	for i := 0; i < n; i++ {
		selected = append(selected, all[(start+i)%len(all)])
	}
	c.cursor = (start + n) % len(all)
	return selected
}

func (c *Collector) runEpisode(ctx context.Context, height uint64, selected []exchanges.Entry) *EpisodeReport {
	start := time.Now()
	report := &EpisodeReport{
		ID:     uuid.NewString(),
		Height: height,
		Window: pricing.WindowFor(height, c.cfg.UpdateInterval),
		DryRun: c.cfg.DryRun,
	}
	for _, e := range selected {
		report.Exchanges = append(report.Exchanges, e.ID)
	}

	logger := c.logger.With().Str("episode", report.ID).Uint64("height", height).Logger()
	logger.Debug().Interface("exchanges", report.Exchanges).Msg("Starting collection episode")

	if c.cfg.EpisodeDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.EpisodeDeadline)
		defer cancel()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxExchangesPerBlock)
	for _, entry := range selected {
		adapter := entry.Adapter
		g.Go(func() error {
			for _, pair := range c.pairsFor(adapter) {
				cand, err := c.collect(gctx, adapter, pair, height)
				if err == nil {
					err = c.submit(gctx, cand)
				}

				mu.Lock()
				if err != nil {
					report.Failures = append(report.Failures, Failure{Exchange: adapter.ID(), Pair: pair, Err: err})
				} else {
					report.Candidates = append(report.Candidates, cand)
					if !c.cfg.DryRun {
						report.Submitted++
					}
				}
				mu.Unlock()

				if err != nil {
					logger.Warn().Err(err).
						Str("exchange", adapter.Name()).
						Str("pair", string(pair)).
						Msg("No candidate from exchange")
				}
			}
			// Failures stay inside the episode.
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	outcome := "ok"
	switch {
	case len(report.Candidates) == 0:
		outcome = "empty"
	case len(report.Failures) > 0:
		outcome = "partial"
	}
	metrics.RecordEpisode(outcome, report.Duration)

	logger.Info().
		Uint64("window", report.Window).
		Int("exchanges", len(report.Exchanges)).
		Int("candidates", len(report.Candidates)).
		Int("failures", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("Collection episode finished")

	return report
}

func (c *Collector) pairsFor(a exchanges.Adapter) []pricing.TokenPair {
	supported := a.Pairs()
	if len(c.cfg.Pairs) == 0 {
		return supported
	}
	pairs := make([]pricing.TokenPair, 0, len(supported))
	for _, p := range supported {
		for _, want := range c.cfg.Pairs {
			if p == want {
				pairs = append(pairs, p)
				break
			}
		}
	}
	return pairs
}

// collect fetches and validates one (exchange, pair).
func (c *Collector) collect(ctx context.Context, a exchanges.Adapter, pair pricing.TokenPair, height uint64) (pricing.Candidate, error) {
	start := time.Now()
	obs, err := c.fetch(ctx, a, pair)
	metrics.RecordFetch(a.Name(), string(a.Protocol()), exchanges.Outcome(err), time.Since(start))
	if err != nil {
		return pricing.Candidate{}, err
	}

	ref, err := c.reader.Get(ctx, pair, a.ID())
	if err != nil {
		return pricing.Candidate{}, fmt.Errorf("failed to read reference price: %w", err)
	}
	if err := c.validator.Validate(obs, ref, c.now()); err != nil {
		metrics.RecordValidationRejection(string(pair), rejectionReason(err))
		return pricing.Candidate{}, err
	}

	cand := pricing.NewCandidate(obs, height, c.cfg.UpdateInterval)
	metrics.RecordCandidate(string(pair), a.ID().String())
	return cand, nil
}

// fetch calls the adapter under FetchTimeout. An adapter that ignores its
// context is abandoned at the deadline and its late result is dropped.
func (c *Collector) fetch(ctx context.Context, a exchanges.Adapter, pair pricing.TokenPair) (pricing.Observation, error) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		obs pricing.Observation
		err error
	}
	done := make(chan result, 1)
	go func() {
		obs, err := a.Fetch(fctx, pair)
		done <- result{obs, err}
	}()

	select {
	case r := <-done:
		return r.obs, r.err
	case <-fctx.Done():
		return pricing.Observation{}, exchanges.NewFetchError(a.ID(), pair, exchanges.ErrTimeout, fctx.Err())
	}
}

func (c *Collector) submit(ctx context.Context, cand pricing.Candidate) error {
	if c.cfg.DryRun {
		c.logger.Info().
			Str("key", cand.Key().String()).
			Str("price", cand.Price.String()).
			Msg("Dry run: candidate not submitted")
		return nil
	}
	if err := c.submitter.Submit(ctx, cand); err != nil {
		return fmt.Errorf("failed to submit candidate: %w", err)
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, validator.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, validator.ErrExcessiveDeviation):
		return "excessive_deviation"
	case errors.Is(err, validator.ErrStaleObservation):
		return "stale"
	case errors.Is(err, validator.ErrFutureTimestamp):
		return "future"
	case errors.Is(err, validator.ErrNoBounds):
		return "no_bounds"
	default:
		return "error"
	}
}

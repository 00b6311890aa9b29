package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

type fakeAdapter struct {
	*exchanges.BaseAdapter
	price   decimal.Decimal
	delay   time.Duration
	release chan struct{} // non-nil: block until closed, ignoring ctx
	calls   atomic.Int32
}

func (f *fakeAdapter) Fetch(ctx context.Context, pair pricing.TokenPair) (pricing.Observation, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return pricing.Observation{}, exchanges.NewFetchError(f.ID(), pair, exchanges.ErrTimeout, ctx.Err())
		}
	}
	return pricing.Observation{
		Pair:       pair,
		Exchange:   f.ID(),
		Price:      f.price,
		ObservedAt: time.Now(),
	}, nil
}

func (f *fakeAdapter) Close() error { return nil }

func newFake(id pricing.ExchangeID, price string) *fakeAdapter {
	base := exchanges.NewBaseAdapter(exchanges.Spec{ID: id, Name: "dex-" + id.String(), Protocol: "fake"}, nil)
	base.SetPairs([]pricing.TokenPair{pricing.PairETHUSD})
	return &fakeAdapter{BaseAdapter: base, price: decimal.RequireFromString(price)}
}

type emptyReader struct{}

func (emptyReader) Get(context.Context, pricing.TokenPair, pricing.ExchangeID) (*pricing.PriceEntry, error) {
	return nil, nil
}

func (emptyReader) GetAll(context.Context, pricing.TokenPair) (map[pricing.ExchangeID]pricing.PriceEntry, error) {
	return nil, nil
}

type recordingSubmitter struct {
	mu         sync.Mutex
	candidates []pricing.Candidate
}

func (r *recordingSubmitter) Submit(_ context.Context, c pricing.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
	return nil
}

func (r *recordingSubmitter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}

func registry(t *testing.T, adapters ...*fakeAdapter) *exchanges.Registry {
	t.Helper()
	entries := make([]exchanges.Entry, 0, len(adapters))
	for _, a := range adapters {
		entries = append(entries, exchanges.Entry{ID: a.ID(), Priority: int(a.ID()), Adapter: a})
	}
	r, err := exchanges.NewRegistry(entries)
	require.NoError(t, err)
	return r
}

func defaultConfig() Config {
	return Config{
		UpdateInterval:       10,
		MaxExchangesPerBlock: 3,
		FetchTimeout:         50 * time.Millisecond,
	}
}

func newCollector(t *testing.T, cfg Config, src Source, sub Submitter) *Collector {
	t.Helper()
	c, err := New(cfg, src, validator.New(validator.Config{Pairs: validator.DefaultBounds()}), emptyReader{}, sub, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func fiveExchanges() []*fakeAdapter {
	return []*fakeAdapter{
		newFake(1, "3200"),
		newFake(2, "3201"),
		newFake(3, "3199.5"),
		newFake(4, "3202"),
		newFake(5, "3198"),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	v := validator.New(validator.Config{})
	_, err := New(Config{}, registry(t), v, emptyReader{}, &recordingSubmitter{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(defaultConfig(), registry(t), v, emptyReader{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoSubmitter)

	cfg := defaultConfig()
	cfg.DryRun = true
	_, err = New(cfg, registry(t), v, emptyReader{}, nil, zerolog.Nop())
	assert.NoError(t, err)
}

func TestOnBlockIgnoresHeightsThatAreNotDue(t *testing.T) {
	adapters := fiveExchanges()
	sub := &recordingSubmitter{}
	c := newCollector(t, defaultConfig(), registry(t, adapters...), sub)

	for _, h := range []uint64{1, 9, 11, 19} {
		report, err := c.OnBlock(context.Background(), h)
		require.NoError(t, err)
		assert.Nil(t, report)
	}
	for _, a := range adapters {
		assert.Zero(t, a.calls.Load())
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestThreeOfFiveExchangesPerEpisode(t *testing.T) {
	adapters := fiveExchanges()
	sub := &recordingSubmitter{}
	c := newCollector(t, defaultConfig(), registry(t, adapters...), sub)

	report, err := c.OnBlock(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, []pricing.ExchangeID{1, 2, 3}, report.Exchanges)
	for i, a := range adapters {
		want := int32(0)
		if i < 3 {
			want = 1
		}
		assert.Equal(t, want, a.calls.Load(), "exchange %d", a.ID())
	}
	assert.Len(t, report.Candidates, 3)
	assert.Equal(t, 3, report.Submitted)
	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, uint64(1), report.Window)

	// The next episode resumes after the last exchange taken.
	report, err = c.OnBlock(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, []pricing.ExchangeID{4, 5, 1}, report.Exchanges)
	assert.Equal(t, uint64(2), report.Candidates[0].Window)
	assert.Equal(t, report, c.LastReport())
}

func TestHungAdapterDoesNotBlockEpisode(t *testing.T) {
	adapters := fiveExchanges()
	hung := adapters[1]
	hung.release = make(chan struct{})
	defer close(hung.release)

	sub := &recordingSubmitter{}
	c := newCollector(t, defaultConfig(), registry(t, adapters...), sub)

	start := time.Now()
	report, err := c.OnBlock(context.Background(), 10)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var ids []pricing.ExchangeID
	for _, cand := range report.Candidates {
		ids = append(ids, cand.Exchange)
	}
	assert.ElementsMatch(t, []pricing.ExchangeID{1, 3}, ids)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, pricing.ExchangeID(2), report.Failures[0].Exchange)
	assert.ErrorIs(t, report.Failures[0].Err, exchanges.ErrTimeout)
	assert.Equal(t, 2, sub.Len())
}

func TestInvalidObservationsAreDropped(t *testing.T) {
	adapters := []*fakeAdapter{newFake(1, "3200"), newFake(2, "50"), newFake(3, "999999")}
	sub := &recordingSubmitter{}
	c := newCollector(t, defaultConfig(), registry(t, adapters...), sub)

	report, err := c.OnBlock(context.Background(), 30)
	require.NoError(t, err)
	assert.Len(t, report.Candidates, 1)
	require.Len(t, report.Failures, 2)
	for _, f := range report.Failures {
		assert.ErrorIs(t, f.Err, validator.ErrOutOfBounds)
	}
	assert.Equal(t, 1, sub.Len())
}

func TestDryRunDoesNotSubmit(t *testing.T) {
	cfg := defaultConfig()
	cfg.DryRun = true
	c := newCollector(t, cfg, registry(t, fiveExchanges()...), nil)

	report, err := c.OnBlock(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Candidates, 3)
	assert.Zero(t, report.Submitted)
}

func TestPairFilter(t *testing.T) {
	cfg := defaultConfig()
	cfg.Pairs = []pricing.TokenPair{pricing.PairBTCUSD}
	adapters := fiveExchanges()
	c := newCollector(t, cfg, registry(t, adapters...), &recordingSubmitter{})

	report, err := c.OnBlock(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, report.Candidates)
	assert.Zero(t, adapters[0].calls.Load())
}

func TestOverlappingEpisodeIsSkipped(t *testing.T) {
	adapters := fiveExchanges()
	for _, a := range adapters {
		a.delay = 30 * time.Millisecond
	}
	cfg := defaultConfig()
	cfg.FetchTimeout = time.Second
	c := newCollector(t, cfg, registry(t, adapters...), &recordingSubmitter{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.OnBlock(context.Background(), 10)
	}()

	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, time.Millisecond)
	_, err := c.OnBlock(context.Background(), 20)
	assert.ErrorIs(t, err, ErrEpisodeRunning)
	<-done
	assert.Equal(t, StateIdle, c.State())
}

func TestEpisodeDeadlineKeepsPartialResults(t *testing.T) {
	adapters := fiveExchanges()
	adapters[2].delay = time.Second
	cfg := defaultConfig()
	cfg.FetchTimeout = 5 * time.Second
	cfg.EpisodeDeadline = 50 * time.Millisecond
	sub := &recordingSubmitter{}
	c := newCollector(t, cfg, registry(t, adapters...), sub)

	report, err := c.OnBlock(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, report.Candidates, 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, pricing.ExchangeID(3), report.Failures[0].Exchange)
	assert.Equal(t, 2, sub.Len())
}

type chanStream struct {
	ch chan eventstream.HeightEvent
}

func (s *chanStream) Start(context.Context) error             { return nil }
func (s *chanStream) Heights() <-chan eventstream.HeightEvent { return s.ch }
func (s *chanStream) Close()                                  { close(s.ch) }

func TestStartRunsDueEpisodes(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newCollector(t, defaultConfig(), registry(t, fiveExchanges()...), sub)
	stream := &chanStream{ch: make(chan eventstream.HeightEvent, 4)}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background(), stream) }()

	stream.ch <- eventstream.HeightEvent{Height: 9}
	stream.ch <- eventstream.HeightEvent{Height: 10}
	require.Eventually(t, func() bool { return c.LastReport() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(10), c.LastReport().Height)

	stream.Close()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after the stream closed")
	}
	assert.Equal(t, 3, sub.Len())
}

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/admission"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/store/badgerstore"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

type exchangeSet map[pricing.ExchangeID]bool

func (s exchangeSet) Has(id pricing.ExchangeID) bool { return s[id] }

type chanStream struct {
	ch chan eventstream.HeightEvent
}

func (s *chanStream) Start(context.Context) error             { return nil }
func (s *chanStream) Heights() <-chan eventstream.HeightEvent { return s.ch }
func (s *chanStream) Close()                                  { close(s.ch) }

func newGate(t *testing.T) (*admission.Protocol, store.Store) {
	t.Helper()
	st, err := badgerstore.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gate, err := admission.New(admission.Config{UpdateInterval: 10, Longevity: 5},
		exchangeSet{1: true, 2: true, 3: true},
		validator.New(validator.Config{Pairs: validator.DefaultBounds()}), st, zerolog.Nop())
	require.NoError(t, err)
	return gate, st
}

func candidate(ex pricing.ExchangeID, price string, height uint64) pricing.Candidate {
	return pricing.Candidate{
		Pair:      pricing.PairETHUSD,
		Exchange:  ex,
		Price:     decimal.RequireFromString(price),
		Timestamp: time.Unix(1_700_000_000+int64(height), 0),
		Height:    height,
		Window:    height / 10,
	}
}

func TestSubmitAndInclude(t *testing.T) {
	gate, st := newGate(t)
	l := New(Config{}, gate, &chanStream{}, zerolog.Nop())
	ctx := context.Background()

	l.OnBlock(ctx, 10)
	require.NoError(t, l.Submit(ctx, candidate(1, "3200", 10)))
	require.NoError(t, l.Submit(ctx, candidate(2, "3201", 10)))
	assert.Len(t, l.Pending(), 2)

	results := l.OnBlock(ctx, 11)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, uint64(11), r.Entry.UpdatedAt)
	}
	assert.Empty(t, l.Pending())

	all, err := st.GetAll(ctx, pricing.PairETHUSD)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubmitRejections(t *testing.T) {
	gate, _ := newGate(t)
	l := New(Config{}, gate, &chanStream{}, zerolog.Nop())
	ctx := context.Background()
	l.OnBlock(ctx, 10)

	forged := candidate(1, "3200", 10)
	forged.Window = 7
	err := l.Submit(ctx, forged)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, admission.ErrWindowMismatch)

	require.NoError(t, l.Submit(ctx, candidate(1, "3200", 10)))
	err = l.Submit(ctx, candidate(1, "3300", 10))
	assert.ErrorIs(t, err, ErrAlreadyPooled, "same tag, different payload")
}

func TestPoolCapacity(t *testing.T) {
	gate, _ := newGate(t)
	l := New(Config{MaxPool: 1}, gate, &chanStream{}, zerolog.Nop())
	ctx := context.Background()
	l.OnBlock(ctx, 10)

	require.NoError(t, l.Submit(ctx, candidate(1, "3200", 10)))
	assert.ErrorIs(t, l.Submit(ctx, candidate(2, "3200", 10)), ErrPoolFull)
}

func TestExpiredSubmissionsAreDropped(t *testing.T) {
	gate, st := newGate(t)
	l := New(Config{}, gate, &chanStream{}, zerolog.Nop())
	ctx := context.Background()
	l.OnBlock(ctx, 10)

	require.NoError(t, l.Submit(ctx, candidate(1, "3200", 10)))
	results := l.OnBlock(ctx, 16)
	assert.Empty(t, results)
	assert.Empty(t, l.Pending())

	entry, err := st.Get(ctx, pricing.PairETHUSD, 1)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

// priorityGate accepts everything with the candidate's exchange id as priority.
type priorityGate struct {
	applied []pricing.ExchangeID
}

func (g *priorityGate) Validate(_ context.Context, c pricing.Candidate, _ uint64) admission.Decision {
	return admission.Accept(uint64(c.Exchange), 5, admission.Tag(c.Key()))
}

func (g *priorityGate) Apply(_ context.Context, c pricing.Candidate, height uint64) (pricing.PriceEntry, error) {
	g.applied = append(g.applied, c.Exchange)
	if c.Exchange == 2 {
		return pricing.PriceEntry{}, errors.New("boom")
	}
	return pricing.PriceEntry{Price: c.Price, Timestamp: c.Timestamp, UpdatedAt: height}, nil
}

func TestInclusionOrderAndCapacity(t *testing.T) {
	gate := &priorityGate{}
	l := New(Config{BlockCapacity: 2}, gate, &chanStream{}, zerolog.Nop())
	ctx := context.Background()
	l.OnBlock(ctx, 10)

	for _, ex := range []pricing.ExchangeID{1, 3, 2} {
		require.NoError(t, l.Submit(ctx, candidate(ex, "3200", 10)))
	}

	results := l.OnBlock(ctx, 11)
	require.Len(t, results, 2)
	assert.Equal(t, []pricing.ExchangeID{3, 2}, gate.applied)
	assert.Error(t, results[1].Err)

	results = l.OnBlock(ctx, 12)
	require.Len(t, results, 1)
	assert.Equal(t, pricing.ExchangeID(1), results[0].Candidate.Exchange)
}

func TestStartForwardsHeightsAfterInclusion(t *testing.T) {
	gate, st := newGate(t)
	src := &chanStream{ch: make(chan eventstream.HeightEvent, 2)}
	l := New(Config{}, gate, src, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Start(ctx))

	src.ch <- eventstream.HeightEvent{Height: 10}
	ev := <-l.Heights()
	assert.Equal(t, uint64(10), ev.Height)
	assert.Equal(t, uint64(10), l.Height())

	require.NoError(t, l.Submit(ctx, candidate(3, "3200", 10)))
	src.ch <- eventstream.HeightEvent{Height: 11}
	<-l.Heights()

	entry, err := st.Get(ctx, pricing.PairETHUSD, 3)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, uint64(11), entry.UpdatedAt)

	l.Close()
	_, open := <-l.Heights()
	assert.False(t, open)
}

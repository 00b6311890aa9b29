package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/store/badgerstore"
	"github.com/StrathCole/price-oracle/pkg/validator"
)

const (
	interval  = 10
	longevity = 5
	uniswapV3 = pricing.ExchangeID(1)
	sushiswap = pricing.ExchangeID(2)
)

type exchangeSet map[pricing.ExchangeID]bool

func (s exchangeSet) Has(id pricing.ExchangeID) bool { return s[id] }

func ethBounds() *validator.Validator {
	return validator.New(validator.Config{
		Pairs: map[pricing.TokenPair]validator.Bounds{
			pricing.PairETHUSD: {
				Min:             decimal.NewFromInt(100),
				Max:             decimal.NewFromInt(100000),
				MaxDeviationPct: decimal.NewFromInt(5),
			},
		},
	})
}

func newProtocol(t *testing.T) (*Protocol, store.Store) {
	t.Helper()
	st, err := badgerstore.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p, err := New(Config{UpdateInterval: interval, Longevity: longevity},
		exchangeSet{uniswapV3: true, sushiswap: true}, ethBounds(), st, zerolog.Nop())
	require.NoError(t, err)
	return p, st
}

func candidate(ex pricing.ExchangeID, price string, ts int64, height uint64) pricing.Candidate {
	return pricing.Candidate{
		Pair:      pricing.PairETHUSD,
		Exchange:  ex,
		Price:     decimal.RequireFromString(price),
		Timestamp: time.Unix(ts, 0),
		Height:    height,
		Window:    pricing.WindowFor(height, interval),
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{UpdateInterval: 10, Longevity: 5}, true},
		{"longevity one", Config{UpdateInterval: 2, Longevity: 1}, true},
		{"zero interval", Config{Longevity: 1}, false},
		{"zero longevity", Config{UpdateInterval: 10}, false},
		{"longevity spans windows", Config{UpdateInterval: 10, Longevity: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	p, _ := newProtocol(t)

	d := p.Validate(context.Background(), candidate(uniswapV3, "3200", 100, 10), 12)
	require.True(t, d.Accepted, d.Err)
	assert.Equal(t, MaxPriority, d.Priority)
	assert.Equal(t, uint64(longevity), d.Longevity)
	assert.Equal(t, "price:ETH/USD:1:1", d.Provides)
	assert.Equal(t, "accepted", d.Reason())
}

func TestValidateWindowRules(t *testing.T) {
	p, _ := newProtocol(t)
	ctx := context.Background()

	forged := candidate(uniswapV3, "3200", 100, 10)
	forged.Window = 2

	tests := []struct {
		name    string
		c       pricing.Candidate
		current uint64
		want    error
	}{
		{"forged window", forged, 10, ErrWindowMismatch},
		{"future height", candidate(uniswapV3, "3200", 100, 20), 15, ErrWindowMismatch},
		{"expired", candidate(uniswapV3, "3200", 100, 10), 16, ErrExpired},
		{"last includable height", candidate(uniswapV3, "3200", 100, 10), 15, nil},
		{"next window", candidate(uniswapV3, "3200", 100, 18), 21, ErrWindowMismatch},
		{"unknown pair", pricing.Candidate{Pair: "DOGE/USD", Exchange: uniswapV3, Height: 10, Window: 1}, 10, ErrMalformedCandidate},
		{"unregistered exchange", candidate(9, "3200", 100, 10), 10, ErrMalformedCandidate},
		{"out of bounds", candidate(uniswapV3, "50", 100, 10), 10, ErrBoundsViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Validate(ctx, tt.c, tt.current)
			if tt.want == nil {
				assert.True(t, d.Accepted, d.Err)
				return
			}
			assert.False(t, d.Accepted)
			assert.ErrorIs(t, d.Err, tt.want)
		})
	}
}

func TestUniswapScenario(t *testing.T) {
	p, st := newProtocol(t)
	ctx := context.Background()

	_, err := p.Apply(ctx, candidate(uniswapV3, "3200.00", 100, 10), 11)
	require.NoError(t, err)

	entry, err := p.Apply(ctx, candidate(uniswapV3, "3201.20", 110, 20), 21)
	require.NoError(t, err)
	assert.Equal(t, "3201.2", entry.Price.String())
	assert.Equal(t, int64(110), entry.Timestamp.Unix())

	d := p.Validate(ctx, candidate(uniswapV3, "4000.00", 111, 30), 30)
	require.False(t, d.Accepted)
	assert.ErrorIs(t, d.Err, ErrBoundsViolation)
	assert.ErrorIs(t, d.Err, validator.ErrExcessiveDeviation)

	_, err = p.Apply(ctx, candidate(uniswapV3, "3205.00", 90, 30), 31)
	assert.ErrorIs(t, err, ErrBoundsViolation)
	assert.ErrorIs(t, err, validator.ErrStaleObservation)

	stored, err := st.Get(ctx, pricing.PairETHUSD, uniswapV3)
	require.NoError(t, err)
	assert.Equal(t, "3201.2", stored.Price.String())
	assert.Equal(t, int64(110), stored.Timestamp.Unix())
	assert.Equal(t, uint64(21), stored.UpdatedAt)

	ok, err := st.HasAdmission(ctx, pricing.AdmissionKey{Pair: pricing.PairETHUSD, Exchange: uniswapV3, Window: 3})
	require.NoError(t, err)
	assert.False(t, ok, "rejected submissions leave no record")
}

func TestDuplicateWithDifferentPayload(t *testing.T) {
	p, st := newProtocol(t)
	ctx := context.Background()

	_, err := p.Apply(ctx, candidate(sushiswap, "3200", 100, 10), 11)
	require.NoError(t, err)

	other := candidate(sushiswap, "3210", 105, 12)
	d := p.Validate(ctx, other, 13)
	assert.ErrorIs(t, d.Err, ErrDuplicateWindow)

	_, err = p.Apply(ctx, other, 13)
	assert.ErrorIs(t, err, ErrDuplicateWindow)

	entry, err := st.Get(ctx, pricing.PairETHUSD, sushiswap)
	require.NoError(t, err)
	assert.Equal(t, "3200", entry.Price.String())
}

func TestReplayIsIdempotent(t *testing.T) {
	episode := []pricing.Candidate{
		candidate(uniswapV3, "3200", 100, 10),
		candidate(sushiswap, "3199.5", 101, 10),
	}
	replay := func(p *Protocol) {
		for _, c := range episode {
			_, _ = p.Apply(context.Background(), c, 11)
		}
	}

	once, onceStore := newProtocol(t)
	replay(once)

	twice, twiceStore := newProtocol(t)
	replay(twice)
	for _, c := range episode {
		_, err := twice.Apply(context.Background(), c, 12)
		assert.ErrorIs(t, err, ErrDuplicateWindow)
	}

	a, err := onceStore.GetAll(context.Background(), pricing.PairETHUSD)
	require.NoError(t, err)
	b, err := twiceStore.GetAll(context.Background(), pricing.PairETHUSD)
	require.NoError(t, err)
	require.Len(t, b, len(a))
	for id, entry := range a {
		assert.True(t, entry.Price.Equal(b[id].Price))
		assert.True(t, entry.Timestamp.Equal(b[id].Timestamp))
		assert.Equal(t, entry.UpdatedAt, b[id].UpdatedAt)
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	p, st := newProtocol(t)
	ctx := context.Background()

	timestamps := []int64{100, 130, 120, 150, 149, 160}
	last := int64(0)
	for i, ts := range timestamps {
		height := uint64(10 * (i + 1))
		_, err := p.Apply(ctx, candidate(uniswapV3, "3200", ts, height), height+1)
		if ts < last {
			assert.ErrorIs(t, err, validator.ErrStaleObservation)
			continue
		}
		require.NoError(t, err)
		last = ts

		entry, err := st.Get(ctx, pricing.PairETHUSD, uniswapV3)
		require.NoError(t, err)
		assert.Equal(t, last, entry.Timestamp.Unix())
	}
}

func TestFutureTimestampCannotFreezeKey(t *testing.T) {
	p, st := newProtocol(t)
	ctx := context.Background()
	p.now = func() time.Time { return time.Unix(1000, 0) }

	_, err := p.Apply(ctx, candidate(uniswapV3, "3200", 990, 10), 11)
	require.NoError(t, err)

	forged := candidate(uniswapV3, "3201", time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), 20)
	d := p.Validate(ctx, forged, 21)
	require.False(t, d.Accepted)
	assert.ErrorIs(t, d.Err, ErrBoundsViolation)
	assert.ErrorIs(t, d.Err, validator.ErrFutureTimestamp)

	_, err = p.Apply(ctx, forged, 21)
	assert.ErrorIs(t, err, ErrBoundsViolation)
	assert.ErrorIs(t, err, validator.ErrFutureTimestamp)

	entry, err := st.Get(ctx, pricing.PairETHUSD, uniswapV3)
	require.NoError(t, err)
	assert.Equal(t, int64(990), entry.Timestamp.Unix())
	assert.Equal(t, uint64(11), entry.UpdatedAt)

	p.now = func() time.Time { return time.Unix(1010, 0) }
	_, err = p.Apply(ctx, candidate(uniswapV3, "3202", 1005, 30), 31)
	require.NoError(t, err)

	entry, err = st.Get(ctx, pricing.PairETHUSD, uniswapV3)
	require.NoError(t, err)
	assert.Equal(t, int64(1005), entry.Timestamp.Unix())
	assert.True(t, entry.Price.Equal(decimal.RequireFromString("3202")))
}

func TestApplyNotifiesListeners(t *testing.T) {
	p, _ := newProtocol(t)

	var events []pricing.PriceUpdated
	p.Subscribe(func(e pricing.PriceUpdated) { events = append(events, e) })

	_, err := p.Apply(context.Background(), candidate(uniswapV3, "3200.1234567", 100, 10), 14)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, pricing.PairETHUSD, events[0].Pair)
	assert.Equal(t, pricing.PairETHUSD.HashHex(), events[0].PairHash)
	assert.Equal(t, "3200.123457", events[0].Price.String())
	assert.Equal(t, uint64(14), events[0].Height)
}

// MockStore mocks store.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, pair pricing.TokenPair, ex pricing.ExchangeID) (*pricing.PriceEntry, error) {
	args := m.Called(ctx, pair, ex)
	entry, _ := args.Get(0).(*pricing.PriceEntry)
	return entry, args.Error(1)
}

func (m *MockStore) GetAll(ctx context.Context, pair pricing.TokenPair) (map[pricing.ExchangeID]pricing.PriceEntry, error) {
	args := m.Called(ctx, pair)
	entries, _ := args.Get(0).(map[pricing.ExchangeID]pricing.PriceEntry)
	return entries, args.Error(1)
}

func (m *MockStore) HasAdmission(ctx context.Context, key pricing.AdmissionKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Commit(ctx context.Context, u store.Update, pre store.Precondition) error {
	args := m.Called(ctx, u, pre)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()
	c := candidate(uniswapV3, "3200", 100, 10)

	t.Run("read failure rejects", func(t *testing.T) {
		st := new(MockStore)
		st.On("HasAdmission", mock.Anything, c.Key()).Return(false, errors.New("connection reset"))

		p, err := New(Config{UpdateInterval: interval, Longevity: longevity}, exchangeSet{uniswapV3: true}, ethBounds(), st, zerolog.Nop())
		require.NoError(t, err)

		d := p.Validate(ctx, c, 10)
		assert.ErrorIs(t, d.Err, ErrStateUnavailable)
		st.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("commit race reports duplicate", func(t *testing.T) {
		st := new(MockStore)
		st.On("HasAdmission", mock.Anything, c.Key()).Return(false, nil)
		st.On("Get", mock.Anything, c.Pair, c.Exchange).Return(nil, nil)
		st.On("Commit", mock.Anything, mock.Anything, mock.Anything).Return(store.ErrDuplicateAdmission)

		p, err := New(Config{UpdateInterval: interval, Longevity: longevity}, exchangeSet{uniswapV3: true}, ethBounds(), st, zerolog.Nop())
		require.NoError(t, err)

		_, err = p.Apply(ctx, c, 11)
		assert.ErrorIs(t, err, ErrDuplicateWindow)
		assert.Equal(t, "duplicate_window", Reason(err))
	})
}

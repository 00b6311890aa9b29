// Package storetest holds the behaviour every store.Store backend must show.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var errRegression = errors.New("timestamp regression")

func update(pair pricing.TokenPair, ex pricing.ExchangeID, window uint64, price string, ts time.Time) store.Update {
	return store.Update{
		Key: pricing.AdmissionKey{Pair: pair, Exchange: ex, Window: window},
		Entry: pricing.PriceEntry{
			Price:     decimal.RequireFromString(price),
			Timestamp: ts,
			UpdatedAt: window*10 + 1,
		},
		RecordTTL: time.Minute,
	}
}

func monotonic(next time.Time) store.Precondition {
	return func(current *pricing.PriceEntry) error {
		if current != nil && next.Before(current.Timestamp) {
			return errRegression
		}
		return nil
	}
}

// Run exercises a backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("empty reads", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		entry, err := s.Get(ctx, pricing.PairETHUSD, 1)
		require.NoError(t, err)
		assert.Nil(t, entry)

		all, err := s.GetAll(ctx, pricing.PairETHUSD)
		require.NoError(t, err)
		assert.Empty(t, all)

		ok, err := s.HasAdmission(ctx, pricing.AdmissionKey{Pair: pricing.PairETHUSD, Exchange: 1, Window: 1})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("commit writes entry and record", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		ts := time.UnixMilli(1_700_000_000_000).UTC()

		u := update(pricing.PairETHUSD, 1, 3, "3200.5", ts)
		require.NoError(t, s.Commit(ctx, u, nil))

		entry, err := s.Get(ctx, pricing.PairETHUSD, 1)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.True(t, entry.Price.Equal(decimal.RequireFromString("3200.5")))
		assert.True(t, entry.Timestamp.Equal(ts))
		assert.Equal(t, uint64(31), entry.UpdatedAt)

		ok, err := s.HasAdmission(ctx, u.Key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("duplicate admission is rejected without overwrite", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		ts := time.UnixMilli(1_700_000_000_000)

		require.NoError(t, s.Commit(ctx, update(pricing.PairETHUSD, 1, 3, "3200", ts), nil))
		err := s.Commit(ctx, update(pricing.PairETHUSD, 1, 3, "3300", ts.Add(time.Second)), nil)
		require.ErrorIs(t, err, store.ErrDuplicateAdmission)

		entry, err := s.Get(ctx, pricing.PairETHUSD, 1)
		require.NoError(t, err)
		assert.True(t, entry.Price.Equal(decimal.NewFromInt(3200)))
	})

	t.Run("failed precondition writes nothing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		ts := time.UnixMilli(1_700_000_100_000)

		require.NoError(t, s.Commit(ctx, update(pricing.PairBTCUSD, 2, 1, "65000", ts), nil))

		older := ts.Add(-time.Minute)
		u := update(pricing.PairBTCUSD, 2, 2, "64000", older)
		require.ErrorIs(t, s.Commit(ctx, u, monotonic(older)), errRegression)

		ok, err := s.HasAdmission(ctx, u.Key)
		require.NoError(t, err)
		assert.False(t, ok, "record must not land without the entry")

		entry, err := s.Get(ctx, pricing.PairBTCUSD, 2)
		require.NoError(t, err)
		assert.True(t, entry.Price.Equal(decimal.NewFromInt(65000)))
	})

	t.Run("precondition sees the current entry", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		ts := time.UnixMilli(1_700_000_000_000)

		var seen []*pricing.PriceEntry
		capture := func(current *pricing.PriceEntry) error {
			seen = append(seen, current)
			return nil
		}
		require.NoError(t, s.Commit(ctx, update(pricing.PairSOLUSD, 4, 1, "150", ts), capture))
		require.NoError(t, s.Commit(ctx, update(pricing.PairSOLUSD, 4, 2, "151", ts.Add(time.Second)), capture))

		require.Len(t, seen, 2)
		assert.Nil(t, seen[0])
		require.NotNil(t, seen[1])
		assert.True(t, seen[1].Price.Equal(decimal.NewFromInt(150)))
	})

	t.Run("get all groups by pair", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		ts := time.UnixMilli(1_700_000_000_000)

		require.NoError(t, s.Commit(ctx, update(pricing.PairETHUSD, 1, 1, "3200", ts), nil))
		require.NoError(t, s.Commit(ctx, update(pricing.PairETHUSD, 2, 1, "3201", ts), nil))
		require.NoError(t, s.Commit(ctx, update(pricing.PairAVAXUSD, 5, 1, "35", ts), nil))

		all, err := s.GetAll(ctx, pricing.PairETHUSD)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all[1].Price.Equal(decimal.NewFromInt(3200)))
		assert.True(t, all[2].Price.Equal(decimal.NewFromInt(3201)))
	})

	t.Run("concurrent commits admit once", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		ts := time.UnixMilli(1_700_000_000_000)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			committed int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.Commit(ctx, update(pricing.PairETHUSD, 3, 7, decimal.NewFromInt(int64(3200+i)).String(), ts), nil)
				if err == nil {
					mu.Lock()
					committed++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, store.ErrDuplicateAdmission) || errors.Is(err, store.ErrCommitConflict), err)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, committed)
	})
}

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
	"github.com/StrathCole/price-oracle/pkg/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "", nil), mr
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestAdmissionRecordExpires(t *testing.T) {
	s, mr := newTestStore(t)
	defer s.Close()
	ctx := context.Background()
	key := pricing.AdmissionKey{Pair: pricing.PairAVAXUSD, Exchange: 5, Window: 9}

	require.NoError(t, s.Commit(ctx, store.Update{
		Key:       key,
		Entry:     pricing.PriceEntry{Price: decimal.NewFromInt(35), Timestamp: time.Now(), UpdatedAt: 91},
		RecordTTL: 50 * time.Second,
	}, nil))

	assert.True(t, mr.Exists("price-oracle:admission:AVAX/USD:5:9"))
	assert.Equal(t, 50*time.Second, mr.TTL("price-oracle:admission:AVAX/USD:5:9"))

	mr.FastForward(time.Minute)
	ok, err := s.HasAdmission(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// The entry itself never expires.
	entry, err := s.Get(ctx, pricing.PairAVAXUSD, 5)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Price.Equal(decimal.NewFromInt(35)))
}

func TestMalformedFieldsAreSkipped(t *testing.T) {
	s, mr := newTestStore(t)
	defer s.Close()

	mr.HSet("price-oracle:prices:ETH/USD", "bogus", "{}")
	all, err := s.GetAll(context.Background(), pricing.PairETHUSD)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0", "test", nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "test", s.prefix)

	_, err = Dial(context.Background(), "://bad", "", nil)
	assert.Error(t, err)
}

package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/StrathCole/price-oracle/pkg/circuitbreaker"
	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

const (
	defaultMaxSourceAge = 2 * time.Minute
	dialTimeout         = 10 * time.Second
	// decodePrecision is the number of fractional digits kept before normalization.
	decodePrecision = 18
)

// ContractCaller is the subset of *ethclient.Client the adapters use.
type ContractCaller interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// dial is replaced in tests.
var dial = func(ctx context.Context, rawURL string) (ContractCaller, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// decoder encodes the contract call and turns its output into a price.
type decoder interface {
	callData() ([]byte, error)
	decode(out []byte, pool Pool) (decimal.Decimal, error)
}

// Options tune an Adapter.
type Options struct {
	// MaxSourceAge is the oldest block time accepted. Zero disables the check.
	MaxSourceAge time.Duration
	Breaker      circuitbreaker.Settings
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Adapter reads one DEX deployment. The contract call is pinned to the latest
// header so the observation carries the block it was read at.
type Adapter struct {
	*exchanges.BaseAdapter
	client       ContractCaller
	breaker      *gobreaker.CircuitBreaker
	decoder      decoder
	pools        map[pricing.TokenPair]Pool
	maxSourceAge time.Duration
	now          func() time.Time
}

var _ exchanges.Adapter = (*Adapter)(nil)

func newAdapter(base *exchanges.BaseAdapter, client ContractCaller, dec decoder, pools map[pricing.TokenPair]Pool, opts Options) *Adapter {
	pairs := make([]pricing.TokenPair, 0, len(pools))
	for _, p := range pricing.KnownPairs() {
		if _, ok := pools[p]; ok {
			pairs = append(pairs, p)
		}
	}
	base.SetPairs(pairs)

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := base.Logger()
	settings := opts.Breaker
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("RPC circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
	}

	return &Adapter{
		BaseAdapter:  base,
		client:       client,
		breaker:      circuitbreaker.NewCircuitBreaker(base.Name(), settings),
		decoder:      dec,
		pools:        pools,
		maxSourceAge: opts.MaxSourceAge,
		now:          now,
	}
}

// newFromConfig parses the shared EVM options and dials the endpoint.
func newFromConfig(base *exchanges.BaseAdapter, config map[string]interface{}, dec decoder) (*Adapter, error) {
	rpcURL := exchanges.GetString(config, "rpc_url", "")
	if rpcURL == "" {
		return nil, fmt.Errorf("%w", ErrRPCURLRequired)
	}

	pools, err := parsePools(config)
	if err != nil {
		return nil, err
	}

	maxAge, err := exchanges.GetDuration(config, "max_source_age", defaultMaxSourceAge)
	if err != nil {
		return nil, err
	}
	openTimeout, err := exchanges.GetDuration(config, "breaker_open_timeout", 0)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	client, err := dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return newAdapter(base, client, dec, pools, Options{
		MaxSourceAge: maxAge,
		Breaker: circuitbreaker.Settings{
			MinRequests:  exchanges.GetInt(config, "breaker_min_requests", 0),
			FailingRatio: exchanges.GetFloat(config, "breaker_failure_ratio", 0),
			OpenTimeout:  openTimeout,
		},
	}), nil
}

type callResult struct {
	header *types.Header
	out    []byte
}

// Fetch reads the current price of pair.
func (a *Adapter) Fetch(ctx context.Context, pair pricing.TokenPair) (pricing.Observation, error) {
	obs, err := a.fetch(ctx, pair)
	a.MarkFetch(err)
	return obs, err
}

func (a *Adapter) fetch(ctx context.Context, pair pricing.TokenPair) (pricing.Observation, error) {
	pool, ok := a.pools[pair]
	if !ok {
		return pricing.Observation{}, fmt.Errorf("%w: %s on %s", exchanges.ErrPairNotSupported, pair, a.Name())
	}

	data, err := a.decoder.callData()
	if err != nil {
		return pricing.Observation{}, fmt.Errorf("failed to pack call: %w", err)
	}

	res, err := a.breaker.Execute(func() (interface{}, error) {
		header, err := a.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest header: %w", err)
		}
		if header == nil || header.Number == nil {
			return nil, ErrNoHeader
		}

		out, err := a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &pool.Address,
			Data: data,
		}, header.Number)
		if err != nil {
			return nil, fmt.Errorf("failed to call contract: %w", err)
		}
		return callResult{header: header, out: out}, nil
	})
	if err != nil {
		return pricing.Observation{}, exchanges.NewFetchError(a.ID(), pair, exchanges.ClassifyCallError(ctx, err), err)
	}
	result := res.(callResult)

	price, err := a.decoder.decode(result.out, pool)
	if err != nil {
		return pricing.Observation{}, exchanges.NewFetchError(a.ID(), pair, exchanges.ErrMalformedResponse, err)
	}

	observedAt := time.Unix(int64(result.header.Time), 0) // #nosec G115 -- block times fit in int64
	if a.maxSourceAge > 0 {
		if age := a.now().Sub(observedAt); age > a.maxSourceAge {
			return pricing.Observation{}, exchanges.NewFetchError(a.ID(), pair, exchanges.ErrStaleSource,
				fmt.Errorf("block %s is %s old (max %s)", result.header.Number, age.Truncate(time.Second), a.maxSourceAge))
		}
	}

	a.Logger().Debug("Fetched price",
		"pair", pair, "price", price.String(), "block", result.header.Number.Uint64())

	return pricing.Observation{
		Pair:        pair,
		Exchange:    a.ID(),
		Price:       pricing.Normalize(price),
		ObservedAt:  observedAt,
		SourceBlock: result.header.Number.Uint64(),
	}, nil
}

// Close closes the RPC client.
func (a *Adapter) Close() error {
	if a.client != nil {
		a.client.Close()
	}
	return nil
}

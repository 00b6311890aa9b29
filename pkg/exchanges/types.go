package exchanges

import (
	"context"

	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// Protocol names a contract read pattern.
type Protocol string

const (
	// ProtocolUniswapV3 reads slot0 of a concentrated-liquidity pool.
	ProtocolUniswapV3 Protocol = "uniswap_v3"
	// ProtocolUniswapV2 reads getReserves of a constant-product pair.
	ProtocolUniswapV2 Protocol = "uniswap_v2"
)

// Adapter produces price observations from one exchange deployment.
type Adapter interface {
	// ID returns the configured exchange id
	ID() pricing.ExchangeID

	// Name returns a human readable name (e.g. "uniswap_v3_ethereum")
	Name() string

	// Protocol returns the contract read pattern
	Protocol() Protocol

	// Chain returns the chain the contracts live on
	Chain() string

	// Pairs returns the pairs the adapter has pools for
	Pairs() []pricing.TokenPair

	// Fetch reads the current price for pair. The deadline of ctx bounds the call;
	// failures are returned as *FetchError.
	Fetch(ctx context.Context, pair pricing.TokenPair) (pricing.Observation, error)

	// Close releases the endpoint connection
	Close() error
}

// Spec describes one configured exchange.
type Spec struct {
	ID       pricing.ExchangeID
	Name     string
	Protocol Protocol
	Chain    string
	Priority int
	Enabled  bool
	Config   map[string]interface{}
}

// Factory builds an adapter from its base identity and protocol specific config.
type Factory func(base *BaseAdapter, config map[string]interface{}) (Adapter, error)

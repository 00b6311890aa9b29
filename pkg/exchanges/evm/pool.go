package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

const maxDecimals = 36

// Pool holds configuration for one pool contract.
type Pool struct {
	Pair      pricing.TokenPair
	Address   common.Address
	Decimals0 int
	Decimals1 int
	// Invert reports the price of token1 in token0 units instead of token0 in token1.
	Invert bool
}

// parsePools reads the "pools" list of an exchange config.
//
//	pools:
//	  - pair: ETH/USD
//	    address: 0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8
//	    decimals0: 6
//	    decimals1: 18
//	    invert: true
func parsePools(config map[string]interface{}) (map[pricing.TokenPair]Pool, error) {
	raw := exchanges.GetMapSlice(config, "pools")
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w", ErrPoolsConfigRequired)
	}

	pools := make(map[pricing.TokenPair]Pool, len(raw))
	for i, m := range raw {
		pair, err := pricing.ParseTokenPair(exchanges.GetString(m, "pair", ""))
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}

		addr := exchanges.GetString(m, "address", "")
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: pool %d: %q", ErrInvalidPoolAddress, i, addr)
		}

		d0 := exchanges.GetInt(m, "decimals0", 18)
		d1 := exchanges.GetInt(m, "decimals1", 18)
		if d0 < 0 || d0 > maxDecimals || d1 < 0 || d1 > maxDecimals {
			return nil, fmt.Errorf("%w: pool %d: decimals0=%d decimals1=%d", ErrInvalidDecimals, i, d0, d1)
		}

		if _, dup := pools[pair]; dup {
			return nil, fmt.Errorf("%w: pool %d: pair %s configured twice", exchanges.ErrInvalidConfig, i, pair)
		}
		pools[pair] = Pool{
			Pair:      pair,
			Address:   common.HexToAddress(addr),
			Decimals0: d0,
			Decimals1: d1,
			Invert:    exchanges.GetBool(m, "invert", false),
		}
	}

	return pools, nil
}

func pow10(d int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}

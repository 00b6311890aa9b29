package evm

import (
	"github.com/StrathCole/price-oracle/pkg/exchanges"
)

func init() {
	exchanges.Register(exchanges.ProtocolUniswapV3, NewUniswapV3)
	exchanges.Register(exchanges.ProtocolUniswapV2, NewUniswapV2)
}

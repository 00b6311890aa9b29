package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
)

// Uniswap V2 Pair ABI (only getReserves function). SushiSwap, PancakeSwap,
// QuickSwap and Trader Joe pairs share it.
const pairABIJSON = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"internalType": "uint112", "name": "reserve0", "type": "uint112"},
		{"internalType": "uint112", "name": "reserve1", "type": "uint112"},
		{"internalType": "uint32", "name": "blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

// Reserves holds the pair reserves.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

type reservesDecoder struct {
	abi abi.ABI
}

func newReservesDecoder() (reservesDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return reservesDecoder{}, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	return reservesDecoder{abi: parsed}, nil
}

func (d reservesDecoder) callData() ([]byte, error) {
	return d.abi.Pack("getReserves")
}

func (d reservesDecoder) decode(out []byte, pool Pool) (decimal.Decimal, error) {
	var reserves Reserves
	if err := d.abi.UnpackIntoInterface(&reserves, "getReserves", out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unpack getReserves result: %w", err)
	}
	if reserves.Reserve0 == nil || reserves.Reserve1 == nil ||
		reserves.Reserve0.Sign() == 0 || reserves.Reserve1.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%w: reserves", ErrZeroValue)
	}

	return ReservesToPrice(reserves.Reserve0, reserves.Reserve1, pool.Decimals0, pool.Decimals1, pool.Invert), nil
}

// ReservesToPrice calculates the spot price of token0 in token1 units:
//
//	price = (reserve1 / 10^decimals1) / (reserve0 / 10^decimals0)
func ReservesToPrice(reserve0, reserve1 *big.Int, decimals0, decimals1 int, invert bool) decimal.Decimal {
	num := new(big.Int).Mul(reserve1, pow10(decimals0))
	den := new(big.Int).Mul(reserve0, pow10(decimals1))
	if invert {
		num, den = den, num
	}
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), decodePrecision)
}

// NewUniswapV2 creates an adapter reading getReserves of constant-product pairs.
func NewUniswapV2(base *exchanges.BaseAdapter, config map[string]interface{}) (exchanges.Adapter, error) {
	dec, err := newReservesDecoder()
	if err != nil {
		return nil, err
	}
	return newFromConfig(base, config, dec)
}

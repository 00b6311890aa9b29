package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
)

// Uniswap V3 pool ABI (only slot0).
const slot0ABIJSON = `[{
	"inputs": [],
	"name": "slot0",
	"outputs": [
		{"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
		{"internalType": "int24", "name": "tick", "type": "int24"},
		{"internalType": "uint16", "name": "observationIndex", "type": "uint16"},
		{"internalType": "uint16", "name": "observationCardinality", "type": "uint16"},
		{"internalType": "uint16", "name": "observationCardinalityNext", "type": "uint16"},
		{"internalType": "uint8", "name": "feeProtocol", "type": "uint8"},
		{"internalType": "bool", "name": "unlocked", "type": "bool"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

// q192 is 2^192, the square of the Q64.96 fixed-point scale.
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

type slot0Decoder struct {
	abi abi.ABI
}

func newSlot0Decoder() (slot0Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(slot0ABIJSON))
	if err != nil {
		return slot0Decoder{}, fmt.Errorf("failed to parse slot0 ABI: %w", err)
	}
	return slot0Decoder{abi: parsed}, nil
}

func (d slot0Decoder) callData() ([]byte, error) {
	return d.abi.Pack("slot0")
}

func (d slot0Decoder) decode(out []byte, pool Pool) (decimal.Decimal, error) {
	values, err := d.abi.Unpack("slot0", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to unpack slot0 result: %w", err)
	}
	if len(values) == 0 {
		return decimal.Zero, fmt.Errorf("empty slot0 result")
	}

	sqrtPriceX96, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected sqrtPriceX96 type %T", values[0])
	}
	if sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: sqrtPriceX96", ErrZeroValue)
	}

	return SqrtPriceX96ToPrice(sqrtPriceX96, pool.Decimals0, pool.Decimals1, pool.Invert), nil
}

// SqrtPriceX96ToPrice converts a pool's sqrtPriceX96 into the price of token0
// in token1 units, adjusted for token decimals:
//
//	price = sqrtPriceX96^2 * 10^decimals0 / (2^192 * 10^decimals1)
//
// With invert the reciprocal is computed exactly from the same integers.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 int, invert bool) decimal.Decimal {
	ratio := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	num := new(big.Int).Mul(ratio, pow10(decimals0))
	den := new(big.Int).Mul(q192, pow10(decimals1))
	if invert {
		num, den = den, num
	}
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), decodePrecision)
}

// NewUniswapV3 creates an adapter reading slot0 of Uniswap V3 style pools.
func NewUniswapV3(base *exchanges.BaseAdapter, config map[string]interface{}) (exchanges.Adapter, error) {
	dec, err := newSlot0Decoder()
	if err != nil {
		return nil, err
	}
	return newFromConfig(base, config, dec)
}

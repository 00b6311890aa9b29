// Package evm provides exchange adapters reading DEX contracts over EVM JSON-RPC.
package evm

import "errors"

var (
	// ErrRPCURLRequired indicates that rpc_url configuration is required.
	ErrRPCURLRequired = errors.New("rpc_url is required")
	// ErrPoolsConfigRequired indicates that pools configuration is required.
	ErrPoolsConfigRequired = errors.New("pools configuration is required")
	// ErrInvalidPoolAddress indicates a pool address that is not a hex address.
	ErrInvalidPoolAddress = errors.New("invalid pool address")
	// ErrInvalidDecimals indicates token decimals outside 0..36.
	ErrInvalidDecimals = errors.New("invalid token decimals")
	// ErrZeroValue indicates a zero reserve or zero sqrt price.
	ErrZeroValue = errors.New("zero value in contract response")
	// ErrNoHeader indicates the node returned no header for the latest block.
	ErrNoHeader = errors.New("no block header")
)

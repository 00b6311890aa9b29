// Package eventstream delivers block heights from a chain node (or a local ticker).
package eventstream

import "errors"

var (
	// ErrNoRPCEndpointRequired indicates that at least one RPC endpoint is required.
	ErrNoRPCEndpointRequired = errors.New("at least one RPC endpoint required")
	// ErrUnknownKind indicates an unsupported stream kind.
	ErrUnknownKind = errors.New("unknown event stream kind")
	// ErrInvalidBlockTime indicates a non-positive local block time.
	ErrInvalidBlockTime = errors.New("invalid block time: must be positive")
	// ErrNoConnection indicates that there is no active WebSocket connection.
	ErrNoConnection = errors.New("no connection")
	// ErrNoHeight indicates a message that carries no block height.
	ErrNoHeight = errors.New("message carries no block height")
)

package eventstream

import (
	"context"
	"time"
)

// Kind selects the node protocol.
type Kind string

const (
	KindTendermint Kind = "tendermint"
	KindSubstrate  Kind = "substrate"
	KindEVM        Kind = "evm"
	KindLocal      Kind = "local"
)

// HeightEvent is emitted once per new block.
type HeightEvent struct {
	Height uint64
	// Time is when the event was received.
	Time time.Time
}

// EventStream defines the interface for receiving block heights.
type EventStream interface {
	// Start connects and begins emitting heights.
	Start(ctx context.Context) error
	// Heights returns a channel that receives every new block height in increasing order.
	Heights() <-chan HeightEvent
	// Close shuts down the event stream
	Close()
}

// Config selects and tunes a stream.
type Config struct {
	Kind      Kind
	Endpoints []string
	// BlockTime is the local tick interval.
	BlockTime time.Duration
	// StartHeight is the first local height.
	StartHeight uint64
}

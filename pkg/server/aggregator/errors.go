package aggregator

import "errors"

var (
	// ErrNoPrices indicates that no exchange prices were provided.
	ErrNoPrices = errors.New("no exchange prices provided")
	// ErrUnknownMode indicates that the aggregation mode is unknown.
	ErrUnknownMode = errors.New("unknown aggregation mode")
)

// Package validator enforces plausibility bounds and freshness on price observations.
package validator

import "errors"

var (
	// ErrOutOfBounds indicates a non-positive price or one outside the pair's band.
	ErrOutOfBounds = errors.New("price out of bounds")
	// ErrExcessiveDeviation indicates the price moved too far from the stored entry.
	ErrExcessiveDeviation = errors.New("excessive deviation from reference price")
	// ErrStaleObservation indicates an observation older than the freshness threshold
	// or older than the stored entry.
	ErrStaleObservation = errors.New("stale observation")
	// ErrFutureTimestamp indicates an observation timestamped in the future.
	ErrFutureTimestamp = errors.New("observation timestamp in the future")
	// ErrNoBounds indicates that no bounds are configured for the pair.
	ErrNoBounds = errors.New("no bounds configured for pair")
)

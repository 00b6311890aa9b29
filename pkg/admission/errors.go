package admission

import "errors"

var (
	// ErrDuplicateWindow is returned when (pair, exchange, window) was already admitted.
	ErrDuplicateWindow = errors.New("duplicate window")
	// ErrWindowMismatch is returned for forged windows or windows other than the current one.
	ErrWindowMismatch = errors.New("window mismatch")
	// ErrBoundsViolation wraps the validator error that rejected the price.
	ErrBoundsViolation = errors.New("bounds violation")
	// ErrExpired is returned once the longevity has passed before inclusion.
	ErrExpired = errors.New("submission expired")
	// ErrMalformedCandidate is returned for unknown pairs or unregistered exchanges.
	ErrMalformedCandidate = errors.New("malformed candidate")
	// ErrStateUnavailable is returned when the store could not be read.
	ErrStateUnavailable = errors.New("price state unavailable")
	// ErrInvalidConfig is returned by New for inconsistent window settings.
	ErrInvalidConfig = errors.New("invalid admission config")
)

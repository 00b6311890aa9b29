package admission

import (
	"errors"
	"math"
)

// MaxPriority is assigned to every accepted price submission.
const MaxPriority uint64 = math.MaxUint64

// Decision is the outcome of Validate: either Accept with pool parameters or a rejection.
type Decision struct {
	Accepted bool
	Priority uint64
	// Longevity is the number of blocks after the candidate height it stays includable.
	Longevity uint64
	// Provides is the pool tag; two submissions with the same tag never coexist.
	Provides string
	// Err is the rejection reason; nil when accepted.
	Err error
}

// Accept builds an accepting decision.
func Accept(priority, longevity uint64, provides string) Decision {
	return Decision{Accepted: true, Priority: priority, Longevity: longevity, Provides: provides}
}

// Reject builds a rejecting decision.
func Reject(err error) Decision {
	return Decision{Err: err}
}

// Reason returns the metrics label of the decision.
func (d Decision) Reason() string {
	if d.Accepted {
		return "accepted"
	}
	return Reason(d.Err)
}

// Reason maps an admission error to a short label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrDuplicateWindow):
		return "duplicate_window"
	case errors.Is(err, ErrWindowMismatch):
		return "window_mismatch"
	case errors.Is(err, ErrBoundsViolation):
		return "bounds_violation"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMalformedCandidate):
		return "malformed"
	default:
		return "error"
	}
}

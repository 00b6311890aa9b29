// Package circuitbreaker builds gobreaker instances guarding exchange RPC endpoints.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

var (
	// MaxNumOfFailingRequests is the request count that must be exceeded before the breaker may trip.
	MaxNumOfFailingRequests = 10
	// FailingRatio is the failure ratio that trips the breaker.
	FailingRatio = 0.6
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout = 60 * time.Second
)

// Settings tune a breaker. Zero values fall back to the package defaults.
type Settings struct {
	MinRequests  int
	FailingRatio float64
	OpenTimeout  time.Duration
	// OnStateChange is invoked on every transition; optional.
	OnStateChange func(name string, from, to gobreaker.State)
}

// NewCircuitBreaker returns a *gobreaker.CircuitBreaker that opens once more than
// MinRequests requests were seen in the current window and the failing ratio is
// at least FailingRatio.
func NewCircuitBreaker(name string, s Settings) *gobreaker.CircuitBreaker {
	minRequests := s.MinRequests
	if minRequests <= 0 {
		minRequests = MaxNumOfFailingRequests
	}
	threshold := s.FailingRatio
	if threshold <= 0 {
		threshold = FailingRatio
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = OpenTimeout
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > minRequests && ratio >= threshold
		},
		OnStateChange: s.OnStateChange,
	})
}

// Package exchanges defines exchange adapters and the registry that holds them.
package exchanges

import (
	"context"
	"errors"
	"fmt"

	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// Fetch error kinds.
var (
	// ErrTimeout indicates the fetch did not complete before its deadline.
	ErrTimeout = errors.New("fetch timeout")
	// ErrUnreachable indicates the endpoint could not be reached or refused the call.
	ErrUnreachable = errors.New("endpoint unreachable")
	// ErrMalformedResponse indicates the contract returned data that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrStaleSource indicates the source block is older than the accepted recency bound.
	ErrStaleSource = errors.New("stale source block")
)

// Registry and configuration errors.
var (
	// ErrExchangeNotFound indicates that no adapter is registered under the id.
	ErrExchangeNotFound = errors.New("exchange not found")
	// ErrDuplicateExchange indicates two adapters configured with the same id.
	ErrDuplicateExchange = errors.New("duplicate exchange id")
	// ErrUnknownProtocol indicates that no factory is registered for the protocol.
	ErrUnknownProtocol = errors.New("unknown exchange protocol")
	// ErrPairNotSupported indicates that the adapter has no pool for the pair.
	ErrPairNotSupported = errors.New("pair not supported by exchange")
	// ErrInvalidConfig indicates an invalid adapter configuration.
	ErrInvalidConfig = errors.New("invalid exchange configuration")
	// ErrNoExchanges indicates that no adapter could be built.
	ErrNoExchanges = errors.New("no exchanges configured")
)

// FetchError is returned by Adapter.Fetch. Kind is one of the fetch error kinds.
type FetchError struct {
	Exchange pricing.ExchangeID
	Pair     pricing.TokenPair
	Kind     error
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange %d %s: %v", e.Exchange, e.Pair, e.Kind)
	}
	return fmt.Sprintf("exchange %d %s: %v: %v", e.Exchange, e.Pair, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewFetchError builds a FetchError of the given kind.
func NewFetchError(exchange pricing.ExchangeID, pair pricing.TokenPair, kind, err error) *FetchError {
	return &FetchError{Exchange: exchange, Pair: pair, Kind: kind, Err: err}
}

// ClassifyCallError maps a transport error to a fetch error kind.
func ClassifyCallError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	// Open breaker, refused connection and RPC-level errors all count as unreachable.
	return ErrUnreachable
}

// Outcome returns the metrics label for a fetch result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrStaleSource):
		return "stale"
	default:
		return "error"
	}
}

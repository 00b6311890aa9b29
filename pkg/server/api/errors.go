package api

import "errors"

var (
	// ErrInvalidExchange indicates that an exchange path segment is not a valid id.
	ErrInvalidExchange = errors.New("invalid exchange id")
	// ErrPriceNotFound indicates that no price was admitted for the requested key.
	ErrPriceNotFound = errors.New("price not found")
)

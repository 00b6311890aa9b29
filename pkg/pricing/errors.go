package pricing

import "errors"

var (
	// ErrUnknownPair indicates that the pair is not in the supported set.
	ErrUnknownPair = errors.New("unknown token pair")
	// ErrInvalidPairFormat indicates that a pair string is not BASE/QUOTE.
	ErrInvalidPairFormat = errors.New("invalid pair format (expected BASE/QUOTE)")
	// ErrInvalidExchangeID indicates that an exchange id is out of range.
	ErrInvalidExchangeID = errors.New("invalid exchange id")
)

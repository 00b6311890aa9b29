// Package config provides configuration loading and validation for the price oracle.
package config

import "errors"

var (
	// ErrInvalidMode indicates that the mode is invalid.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidOracle indicates invalid collection or admission timing.
	ErrInvalidOracle = errors.New("invalid oracle config")
	// ErrInvalidPair indicates an unknown or malformed pair.
	ErrInvalidPair = errors.New("invalid pair")
	// ErrInvalidBounds indicates inconsistent price bounds.
	ErrInvalidBounds = errors.New("invalid bounds")
	// ErrNoExchangesEnabled indicates that no exchange is enabled.
	ErrNoExchangesEnabled = errors.New("no exchanges enabled")
	// ErrInvalidExchange indicates a malformed exchange entry.
	ErrInvalidExchange = errors.New("invalid exchange")
	// ErrDuplicateExchangeID indicates that two exchanges share an id.
	ErrDuplicateExchangeID = errors.New("duplicate exchange id")
	// ErrInvalidStore indicates an unusable store configuration.
	ErrInvalidStore = errors.New("invalid store config")
	// ErrInvalidEventStream indicates an unusable event stream configuration.
	ErrInvalidEventStream = errors.New("invalid event_stream config")
	// ErrInvalidAggregateMode indicates that the aggregation mode is invalid.
	ErrInvalidAggregateMode = errors.New("invalid aggregate_mode")
	// ErrSourceWeightMustBeNonNegative indicates that exchange weight must be >= 0.
	ErrSourceWeightMustBeNonNegative = errors.New("weight must be >= 0")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)

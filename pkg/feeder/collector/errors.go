// Package collector runs the block-driven price collection episodes.
package collector

import "errors"

// Collector errors.
var (
	ErrEpisodeRunning = errors.New("collection episode already running")
	ErrInvalidConfig  = errors.New("invalid collector config")
	ErrNoSubmitter    = errors.New("submitter is required unless dry-run is enabled")
)

// Package ledger is a minimal host for unsigned price submissions: a pool ordered
// by priority and an inclusion step run on every block.
package ledger

import "errors"

var (
	// ErrRejected wraps the admission error of a submission refused by the pool.
	ErrRejected = errors.New("submission rejected")
	// ErrAlreadyPooled is returned when a submission providing the same tag is pending.
	ErrAlreadyPooled = errors.New("submission with the same tag already pooled")
	// ErrPoolFull is returned when the pool reached its capacity.
	ErrPoolFull = errors.New("submission pool is full")
)

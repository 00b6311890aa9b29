package store

import "errors"

var (
	// ErrDuplicateAdmission is returned by Commit when the admission record already exists.
	ErrDuplicateAdmission = errors.New("admission record already exists")
	// ErrUnknownBackend is returned for an unsupported store backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
	// ErrCommitConflict is returned when a concurrent writer raced the commit and retries ran out.
	ErrCommitConflict = errors.New("store commit conflict")
)

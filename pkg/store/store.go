// Package store defines the keyed price state shared by admission and the read API.
//
// Two tables are kept: the latest PriceEntry per (pair, exchange) and a presence
// record per (pair, exchange, window). Both are only ever written together by Commit.
package store

import (
	"context"
	"time"

	"github.com/StrathCole/price-oracle/pkg/pricing"
)

// Backend names accepted in configuration.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Update is one admitted candidate ready to be written.
type Update struct {
	Key   pricing.AdmissionKey
	Entry pricing.PriceEntry
	// RecordTTL bounds how long the admission record is kept. Zero keeps it forever.
	RecordTTL time.Duration
}

// Precondition is evaluated inside the commit transaction against the current entry
// (nil when absent). A non-nil error aborts the commit without writing anything.
type Precondition func(current *pricing.PriceEntry) error

// Reader is the read side of the store.
type Reader interface {
	// Get returns the latest entry, or nil when none was admitted yet.
	Get(ctx context.Context, pair pricing.TokenPair, exchange pricing.ExchangeID) (*pricing.PriceEntry, error)
	// GetAll returns every exchange's entry for pair.
	GetAll(ctx context.Context, pair pricing.TokenPair) (map[pricing.ExchangeID]pricing.PriceEntry, error)
}

// Store is the full price state.
type Store interface {
	Reader
	// HasAdmission reports whether key was already admitted.
	HasAdmission(ctx context.Context, key pricing.AdmissionKey) (bool, error)
	// Commit writes the entry and the admission record atomically. It returns
	// ErrDuplicateAdmission if the record exists, or the precondition's error.
	Commit(ctx context.Context, update Update, precondition Precondition) error
	Close() error
}

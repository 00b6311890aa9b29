// Package badgerstore keeps the price state in an embedded badger database.
package badgerstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"

	"github.com/StrathCole/price-oracle/pkg/logging"
	"github.com/StrathCole/price-oracle/pkg/metrics"
	"github.com/StrathCole/price-oracle/pkg/pricing"
	"github.com/StrathCole/price-oracle/pkg/store"
)

const (
	gcInterval     = 30 * time.Minute
	gcDiscardRatio = 0.5
	maxCommitTries = 3
)

type priceRecord struct {
	Pair      string `badgerhold:"index"`
	Exchange  uint8
	Price     decimal.Decimal
	Timestamp time.Time
	UpdatedAt uint64
}

func (r priceRecord) entry() pricing.PriceEntry {
	return pricing.PriceEntry{Price: r.Price, Timestamp: r.Timestamp, UpdatedAt: r.UpdatedAt}
}

type admissionRecord struct {
	Pair       string
	Exchange   uint8
	Window     uint64
	IncludedAt uint64
}

// Store is a badgerhold backed store.Store.
type Store struct {
	db     *badgerhold.Store
	logger *logging.Logger
	done   chan struct{}
	once   sync.Once
}

var _ store.Store = (*Store)(nil)

// New opens the database under baseDir/prices. An empty baseDir keeps everything in memory.
func New(baseDir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, "prices")
	}

	s := &Store{logger: logger, done: make(chan struct{})}
	db, err := s.createDb(dir)
	if err != nil {
		return nil, fmt.Errorf("opening price db: %w", err)
	}
	s.db = db
	return s, nil
}

func (s *Store) createDb(dbDir string) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = badgerLogger{s.logger}

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		go s.runValueLogGC(db)
	}

	return db, nil
}

func (s *Store) runValueLogGC(db *badgerhold.Store) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := db.Badger().RunValueLogGC(gcDiscardRatio); err != nil &&
				err != badger.ErrNoRewrite {
				s.logger.Error("Value log GC failed", "error", err)
			}
		}
	}
}

func priceKey(pair pricing.TokenPair, exchange pricing.ExchangeID) string {
	return fmt.Sprintf("%s/%d", pair, exchange)
}

func admissionKey(key pricing.AdmissionKey) string {
	return key.String()
}

// Get returns the latest entry for (pair, exchange), or nil.
func (s *Store) Get(_ context.Context, pair pricing.TokenPair, exchange pricing.ExchangeID) (*pricing.PriceEntry, error) {
	var rec priceRecord
	if err := s.db.Get(priceKey(pair, exchange), &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	entry := rec.entry()
	return &entry, nil
}

// GetAll returns all entries stored for pair.
func (s *Store) GetAll(_ context.Context, pair pricing.TokenPair) (map[pricing.ExchangeID]pricing.PriceEntry, error) {
	var records []priceRecord
	if err := s.db.Find(&records, badgerhold.Where("Pair").Eq(string(pair))); err != nil {
		return nil, err
	}

	entries := make(map[pricing.ExchangeID]pricing.PriceEntry, len(records))
	for _, rec := range records {
		entries[pricing.ExchangeID(rec.Exchange)] = rec.entry()
	}
	return entries, nil
}

// HasAdmission reports whether key has a record.
func (s *Store) HasAdmission(_ context.Context, key pricing.AdmissionKey) (bool, error) {
	var rec admissionRecord
	err := s.db.Get(admissionKey(key), &rec)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Commit writes the entry and the admission record in one badger transaction.
// Serializable conflicts with a concurrent commit are retried.
func (s *Store) Commit(ctx context.Context, u store.Update, precondition store.Precondition) error {
	var err error
	for try := 0; try < maxCommitTries; try++ {
		if err = ctx.Err(); err != nil {
			break
		}
		err = s.db.Badger().Update(func(tx *badger.Txn) error {
			return s.commitTx(tx, u, precondition)
		})
		if err != badger.ErrConflict {
			break
		}
		s.logger.Debug("Retrying conflicting commit", "key", u.Key.String(), "try", try+1)
	}
	if err == badger.ErrConflict {
		err = fmt.Errorf("%w: %s", store.ErrCommitConflict, u.Key)
	}

	metrics.RecordStoreCommit(store.BackendBadger, commitStatus(err))
	return err
}

func (s *Store) commitTx(tx *badger.Txn, u store.Update, precondition store.Precondition) error {
	var existing admissionRecord
	err := s.db.TxGet(tx, admissionKey(u.Key), &existing)
	if err == nil {
		return fmt.Errorf("%w: %s", store.ErrDuplicateAdmission, u.Key)
	}
	if err != badgerhold.ErrNotFound {
		return err
	}

	pk := priceKey(u.Key.Pair, u.Key.Exchange)
	var current *pricing.PriceEntry
	var rec priceRecord
	switch err := s.db.TxGet(tx, pk, &rec); err {
	case nil:
		entry := rec.entry()
		current = &entry
	case badgerhold.ErrNotFound:
	default:
		return err
	}

	if precondition != nil {
		if err := precondition(current); err != nil {
			return err
		}
	}

	if err := s.db.TxUpsert(tx, pk, &priceRecord{
		Pair:      string(u.Key.Pair),
		Exchange:  uint8(u.Key.Exchange),
		Price:     u.Entry.Price,
		Timestamp: u.Entry.Timestamp,
		UpdatedAt: u.Entry.UpdatedAt,
	}); err != nil {
		return err
	}

	return s.db.TxInsert(tx, admissionKey(u.Key), &admissionRecord{
		Pair:       string(u.Key.Pair),
		Exchange:   uint8(u.Key.Exchange),
		Window:     u.Key.Window,
		IncludedAt: u.Entry.UpdatedAt,
	})
}

func commitStatus(err error) string {
	if err != nil {
		return "rejected"
	}
	return "committed"
}

// Close stops housekeeping and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.db.Close()
	})
	return err
}

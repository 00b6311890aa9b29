package pricing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits every admitted price carries (micro units).
const PriceScale int32 = 6

// ExchangeID identifies one configured adapter instance (protocol x chain).
type ExchangeID uint8

func (id ExchangeID) String() string {
	return strconv.Itoa(int(id))
}

// ParseExchangeID parses a decimal exchange id; zero is reserved.
func ParseExchangeID(s string) (ExchangeID, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExchangeID, s)
	}
	return ExchangeID(n), nil
}

// Normalize rounds a price to PriceScale digits.
func Normalize(price decimal.Decimal) decimal.Decimal {
	return price.Round(PriceScale)
}

// Observation is the raw output of one adapter fetch.
type Observation struct {
	Pair        TokenPair
	Exchange    ExchangeID
	Price       decimal.Decimal
	ObservedAt  time.Time
	SourceBlock uint64
}

// Candidate is a validated observation packaged for admission.
type Candidate struct {
	Pair      TokenPair       `json:"pair"`
	Exchange  ExchangeID      `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	// Height is the block height the candidate was collected at.
	Height uint64 `json:"height"`
	Window uint64 `json:"window"`
}

// Key returns the anti-replay key of the candidate.
func (c Candidate) Key() AdmissionKey {
	return AdmissionKey{Pair: c.Pair, Exchange: c.Exchange, Window: c.Window}
}

// NewCandidate builds a candidate for obs collected at height.
func NewCandidate(obs Observation, height, interval uint64) Candidate {
	return Candidate{
		Pair:      obs.Pair,
		Exchange:  obs.Exchange,
		Price:     Normalize(obs.Price),
		Timestamp: obs.ObservedAt,
		Height:    height,
		Window:    WindowFor(height, interval),
	}
}

// PriceEntry is the latest accepted price for one (pair, exchange).
type PriceEntry struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	// UpdatedAt is the inclusion height of the admission that wrote the entry.
	UpdatedAt uint64 `json:"updated_at"`
}

// AdmissionKey is the (pair, exchange, window) anti-replay triple.
type AdmissionKey struct {
	Pair     TokenPair
	Exchange ExchangeID
	Window   uint64
}

func (k AdmissionKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Pair, k.Exchange, k.Window)
}

// PriceUpdated is emitted after an admission has been applied to the store.
type PriceUpdated struct {
	Pair      TokenPair       `json:"pair"`
	PairHash  string          `json:"pair_hash"`
	Exchange  ExchangeID      `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Height    uint64          `json:"height"`
}

// NewPriceUpdated builds the event for an applied candidate.
func NewPriceUpdated(c Candidate, entry PriceEntry) PriceUpdated {
	return PriceUpdated{
		Pair:      c.Pair,
		PairHash:  c.Pair.HashHex(),
		Exchange:  c.Exchange,
		Price:     entry.Price,
		Timestamp: entry.Timestamp,
		Height:    entry.UpdatedAt,
	}
}

// WindowFor maps a block height to its admission window.
// Windows are aligned to multiples of interval: heights [k*interval, (k+1)*interval) share window k.
func WindowFor(height, interval uint64) uint64 {
	if interval == 0 {
		return height
	}
	return height / interval
}

// IsDue reports whether a collection episode runs at height.
func IsDue(height, interval uint64) bool {
	return interval > 0 && height%interval == 0
}

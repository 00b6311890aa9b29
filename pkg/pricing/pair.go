// Package pricing holds the domain types shared by the adapters, the
// collector, the admission gate and the price store.
package pricing

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// TokenPair identifies a trading pair in BASE/QUOTE form.
type TokenPair string

// Known pairs.
const (
	PairETHUSD  TokenPair = "ETH/USD"
	PairBTCUSD  TokenPair = "BTC/USD"
	PairSOLUSD  TokenPair = "SOL/USD"
	PairAVAXUSD TokenPair = "AVAX/USD"
)

var knownPairs = []TokenPair{PairETHUSD, PairBTCUSD, PairSOLUSD, PairAVAXUSD}

// KnownPairs returns the fixed set of supported pairs.
func KnownPairs() []TokenPair {
	out := make([]TokenPair, len(knownPairs))
	copy(out, knownPairs)
	return out
}

// ParseTokenPair accepts "ETH/USD" as well as the URL form "eth-usd".
func ParseTokenPair(s string) (TokenPair, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.Replace(normalized, "-", "/", 1)

	parts := strings.Split(normalized, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPairFormat, s)
	}

	pair := TokenPair(normalized)
	if !pair.IsKnown() {
		return "", fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return pair, nil
}

// IsKnown reports whether p is one of the supported pairs.
func (p TokenPair) IsKnown() bool {
	for _, k := range knownPairs {
		if k == p {
			return true
		}
	}
	return false
}

// Base returns the base asset symbol.
func (p TokenPair) Base() string {
	base, _, _ := strings.Cut(string(p), "/")
	return base
}

// Quote returns the quote asset symbol.
func (p TokenPair) Quote() string {
	_, quote, _ := strings.Cut(string(p), "/")
	return quote
}

// Slug is the path-safe form used by the HTTP API (ETH-USD).
func (p TokenPair) Slug() string {
	return strings.Replace(string(p), "/", "-", 1)
}

// Hash is the fixed-width storage key of the pair: BLAKE2b-256 of its symbol.
func (p TokenPair) Hash() [32]byte {
	return blake2b.Sum256([]byte(p))
}

// HashHex returns Hash hex-encoded with a 0x prefix.
func (p TokenPair) HashHex() string {
	h := p.Hash()
	return "0x" + hex.EncodeToString(h[:])
}

func (p TokenPair) String() string {
	return string(p)
}

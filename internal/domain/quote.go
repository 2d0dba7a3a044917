// Package domain defines the core data model shared by the aggregation,
// detection, and execution layers: quotes, snapshots, matched instruments,
// arbitrage opportunities, and hedge units. All numeric market fields use
// shopspring decimals; venue fixed-point scaling never crosses the adapter
// boundary.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentQuote is one venue's view of one perpetual instrument, produced
// fresh on every aggregation cycle and immutable afterwards. FundingRate is
// unit-normalized to a fraction per funding interval before it reaches the
// detector; the adapter owns that conversion.
type InstrumentQuote struct {
	Exchange     string          `json:"exchange"`
	NativeSymbol string          `json:"native_symbol"`
	Canonical    string          `json:"canonical_symbol"`
	Price        decimal.Decimal `json:"price"`
	FundingRate  decimal.Decimal `json:"funding_rate"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// ExchangeSnapshot maps exchange id to the quotes captured from that venue
// within a single aggregation cycle. Venues that failed or timed out are
// simply absent. The snapshot is owned by the cycle that produced it.
type ExchangeSnapshot map[string][]InstrumentQuote

// Exchanges returns the ids of the venues present in the snapshot.
func (s ExchangeSnapshot) Exchanges() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// QuoteCount returns the total number of quotes across all venues.
func (s ExchangeSnapshot) QuoteCount() int {
	n := 0
	for _, quotes := range s {
		n += len(quotes)
	}
	return n
}

// MatchedInstrument groups the quotes for one canonical symbol across venues.
// Invariant: every quote shares Canonical, and there is at most one quote per
// exchange (last seen wins when a venue reports duplicates). Quotes are kept
// in deterministic exchange-id order.
type MatchedInstrument struct {
	Canonical string            `json:"canonical_symbol"`
	Quotes    []InstrumentQuote `json:"quotes"`
}

// Package symbol canonicalizes venue-native perp symbols so quotes from
// different exchanges can be compared. Matching is equality of canonical keys
// only; prefix tests on raw symbols are unsound (BTC is a textual prefix of
// BTCDOM) and deliberately not offered.
package symbol

import (
	"sort"
	"strings"

	"github.com/levmarch/fundarb/internal/domain"
)

// suffixes lists known quote-currency and contract suffixes, longest first so
// compound forms ("-USDT") strip before their substrings ("USDT"). Kept as
// data: a venue quirk is a one-line addition.
var suffixes = []string{
	"-USDT", "_USDT", "USDT",
	"-USDC", "_USDC", "USDC",
	"-PERP", "_PERP", "PERP",
	"-USD", "_USD", "USD",
	".P",
}

// Canonical maps a venue-native symbol to the canonical base-asset ticker.
// Pure and idempotent: Canonical(Canonical(s)) == Canonical(s).
func Canonical(native string) string {
	s := strings.ToUpper(strings.TrimSpace(native))
	for {
		trimmed := s
		for _, suf := range suffixes {
			if len(s) > len(suf) && strings.HasSuffix(s, suf) {
				trimmed = strings.TrimSuffix(s, suf)
				break
			}
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// Match groups every quote in the snapshot by canonical symbol. At most one
// quote per exchange survives per instrument (last seen wins); participants
// are ordered by exchange id so downstream output is deterministic.
// Instruments seen on a single venue are retained; the detector simply yields
// no opportunities for them.
func Match(snapshot domain.ExchangeSnapshot) []domain.MatchedInstrument {
	byKey := make(map[string]map[string]domain.InstrumentQuote)

	for exchange, quotes := range snapshot {
		for _, q := range quotes {
			key := q.Canonical
			if key == "" {
				key = Canonical(q.NativeSymbol)
				q.Canonical = key
			}
			if byKey[key] == nil {
				byKey[key] = make(map[string]domain.InstrumentQuote)
			}
			byKey[key][exchange] = q
		}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	matched := make([]domain.MatchedInstrument, 0, len(keys))
	for _, key := range keys {
		perVenue := byKey[key]
		venues := make([]string, 0, len(perVenue))
		for v := range perVenue {
			venues = append(venues, v)
		}
		sort.Strings(venues)

		mi := domain.MatchedInstrument{
			Canonical: key,
			Quotes:    make([]domain.InstrumentQuote, 0, len(venues)),
		}
		for _, v := range venues {
			mi.Quotes = append(mi.Quotes, perVenue[v])
		}
		matched = append(matched, mi)
	}
	return matched
}

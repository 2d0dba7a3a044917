package execute

import "github.com/levmarch/fundarb/internal/symbol"

// symbolMatches reports whether a venue-native symbol refers to the same
// instrument as a canonical key. Venues report positions under their own
// naming, so comparison happens in canonical space.
func symbolMatches(native, canonical string) bool {
	return symbol.Canonical(native) == canonical
}

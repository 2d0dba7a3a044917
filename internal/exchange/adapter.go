// Package exchange defines the uniform adapter capability set that every
// venue implements, plus the startup registry that maps venue ids to adapter
// constructors. The aggregation and execution layers depend only on this
// package, never on a concrete venue.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
)

// Adapter is the capability set the core needs from a venue. Implementations
// wrap the venue's wire protocol and convert every numeric field to a
// human-readable decimal before returning it; fixed-point lot scaling never
// leaks past this boundary.
//
// Error contract: transport/auth failures wrap domain.ErrAdapterUnavailable,
// venue-side order validation failures wrap domain.ErrOrderRejected, and
// closing a position the venue no longer reports wraps
// domain.ErrPositionNotFound. Balance never silently returns zero on failure.
type Adapter interface {
	// Name returns the venue id this adapter was registered under.
	Name() string

	// Quotes returns the venue's current perp market snapshot: one quote per
	// instrument with mark price and unit-normalized funding rate (fraction
	// per funding interval).
	Quotes(ctx context.Context) ([]domain.InstrumentQuote, error)

	// FundingRate returns the current funding rate for a single native symbol.
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Balance returns account equity in quote-currency units.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// OpenPositions returns the venue's live positions keyed by native symbol.
	OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error)

	// OpenPosition places an order and returns the venue's opaque order or
	// position identifier. Each call may place a real order; it is not
	// idempotent.
	OpenPosition(ctx context.Context, params domain.OrderParams) (string, error)

	// ClosePosition flattens the live position for the given native symbol.
	// Callers must re-fetch positions first rather than trust a stale handle.
	ClosePosition(ctx context.Context, symbol string) error
}

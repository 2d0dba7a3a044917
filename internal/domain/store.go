package domain

import (
	"context"
	"time"
)

// HedgeStore journals hedge attempts and their state transitions. The journal
// is an operational audit of executed trades, not market-data history; the
// coordinator treats store failures as log-worthy but never trade-blocking.
type HedgeStore interface {
	Create(ctx context.Context, h Hedge) error
	UpdateState(ctx context.Context, id string, state HedgeState, reason string) error
	ListRecent(ctx context.Context, limit int) ([]Hedge, error)
}

// OpportunityCache holds the most recent ranked opportunity list so
// presentation consumers can poll without forcing a fresh aggregation cycle.
type OpportunityCache interface {
	SetLatest(ctx context.Context, opps []ArbitrageOpportunity, ttl time.Duration) error
	GetLatest(ctx context.Context) ([]ArbitrageOpportunity, error)
}

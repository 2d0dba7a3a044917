package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HedgeState is the execution coordinator's per-hedge state machine.
//
//	Idle → LongPending → BothPending → Hedged → Closed
//	                 ↘ Failed    ↘ UnwindingLong → Failed
//	Hedged → PartiallyClosed → Closed | Failed
type HedgeState string

const (
	HedgeIdle            HedgeState = "idle"
	HedgeLongPending     HedgeState = "long_pending"
	HedgeBothPending     HedgeState = "both_pending"
	HedgeHedged          HedgeState = "hedged"
	HedgeUnwindingLong   HedgeState = "unwinding_long"
	HedgePartiallyClosed HedgeState = "partially_closed"
	HedgeClosed          HedgeState = "closed"
	HedgeFailed          HedgeState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s HedgeState) Terminal() bool {
	return s == HedgeClosed || s == HedgeFailed
}

// HedgeLeg is one side of a hedge: a position handle on a single venue.
// Status tracks the leg independently so a partially closed hedge can name
// the leg still carrying exposure.
type HedgeLeg struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Size     decimal.Decimal `json:"size"`
	OrderID  string          `json:"order_id,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Open     bool            `json:"open"`
}

// Hedge is one paired long/short unit created from an opportunity. It is
// created and mutated only by the execution coordinator and retained for the
// lifetime of the open pair.
type Hedge struct {
	ID        string               `json:"id"`
	Canonical string               `json:"canonical_symbol"`
	Long      HedgeLeg             `json:"long"`
	Short     HedgeLeg             `json:"short"`
	State     HedgeState           `json:"state"`
	Reason    string               `json:"reason,omitempty"`
	Source    ArbitrageOpportunity `json:"source"`
	OpenedAt  time.Time            `json:"opened_at"`
	ClosedAt  *time.Time           `json:"closed_at,omitempty"`
}

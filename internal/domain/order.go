package domain

import "github.com/shopspring/decimal"

// Side is the direction of a position or order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the flattening direction for a side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType selects limit or market execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderParams carries everything an adapter needs to place an order. Price is
// ignored for market orders; a zero price on a limit order tells the adapter
// to quote at the current mark.
type OrderParams struct {
	Symbol    string
	Side      Side
	Size      decimal.Decimal
	Leverage  decimal.Decimal
	OrderType OrderType
	Price     decimal.Decimal
}

// PositionInfo is a read-only view of one live position, fetched on demand
// from an adapter and never cached authoritatively by the core.
type PositionInfo struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	Leverage      decimal.Decimal `json:"leverage"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Balance is a venue's account equity in quote-currency units.
type Balance struct {
	Exchange string          `json:"exchange"`
	Equity   decimal.Decimal `json:"equity"`
}

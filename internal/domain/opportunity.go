package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbitrageOpportunity is one direction-normalized venue pair for one
// instrument whose price or funding divergence cleared the configured
// thresholds. ExchangeLong is the venue whose leg profits from convergence
// (lower price, or more negative funding when funding drives the signal).
//
// Invariants: PriceDiff = |PriceLong - PriceShort|, FundingDiff =
// |FundingLong - FundingShort|, and Score is monotonic in both diffs so the
// ranked list has a stable total order (ties broken by Canonical).
type ArbitrageOpportunity struct {
	Canonical     string          `json:"canonical_symbol"`
	ExchangeLong  string          `json:"exchange_long"`
	ExchangeShort string          `json:"exchange_short"`
	PriceLong     decimal.Decimal `json:"price_long"`
	PriceShort    decimal.Decimal `json:"price_short"`
	FundingLong   decimal.Decimal `json:"funding_long"`
	FundingShort  decimal.Decimal `json:"funding_short"`
	PriceDiff     decimal.Decimal `json:"price_diff"`
	FundingDiff   decimal.Decimal `json:"funding_diff"`
	Score         decimal.Decimal `json:"score"`
	DetectedAt    time.Time       `json:"detected_at"`
}

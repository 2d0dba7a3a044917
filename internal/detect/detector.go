// Package detect computes ranked cross-venue arbitrage opportunities from
// matched instruments, and bundles the aggregate→normalize→detect pipeline
// behind a Scanner for callers that poll.
package detect

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
)

// Thresholds are the inclusive entry filters for an opportunity. A venue pair
// qualifies when its price diff reaches PriceDiff (quote-currency units) or
// its funding diff reaches FundingDiff (fraction per interval).
type Thresholds struct {
	PriceDiff   decimal.Decimal
	FundingDiff decimal.Decimal
}

// DefaultThresholds mirror the documented defaults: $2.00 price divergence or
// 0.4% funding divergence.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PriceDiff:   decimal.RequireFromString("2.00"),
		FundingDiff: decimal.RequireFromString("0.004"),
	}
}

// Detector ranks venue-pair divergences. It is stateless; every call works
// only on its input.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(t Thresholds) *Detector {
	return &Detector{thresholds: t}
}

// Detect enumerates every unordered venue pair of every instrument with at
// least two participating venues, filters by the inclusive thresholds, and
// returns the full list sorted by score descending with ties broken by
// canonical symbol. Selecting "best" or top-N is the caller's policy.
func (d *Detector) Detect(matched []domain.MatchedInstrument) []domain.ArbitrageOpportunity {
	now := time.Now().UTC()
	var opps []domain.ArbitrageOpportunity

	for _, mi := range matched {
		for i := 0; i < len(mi.Quotes); i++ {
			for j := i + 1; j < len(mi.Quotes); j++ {
				if opp, ok := d.pair(mi.Canonical, mi.Quotes[i], mi.Quotes[j], now); ok {
					opps = append(opps, opp)
				}
			}
		}
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if c := opps[i].Score.Cmp(opps[j].Score); c != 0 {
			return c > 0
		}
		return opps[i].Canonical < opps[j].Canonical
	})
	return opps
}

// pair evaluates one unordered venue pair and assigns the long and short
// legs. The venue with the lower price takes the long leg; when funding is
// the driving signal (its threshold-normalized diff exceeds the price one),
// the venue with the lower funding rate takes it instead, since that leg
// collects the funding spread as the rates converge.
func (d *Detector) pair(canonical string, a, b domain.InstrumentQuote, now time.Time) (domain.ArbitrageOpportunity, bool) {
	priceDiff := a.Price.Sub(b.Price).Abs()
	fundingDiff := a.FundingRate.Sub(b.FundingRate).Abs()

	priceHit := priceDiff.Cmp(d.thresholds.PriceDiff) >= 0
	fundingHit := fundingDiff.Cmp(d.thresholds.FundingDiff) >= 0
	if !priceHit && !fundingHit {
		return domain.ArbitrageOpportunity{}, false
	}

	priceScore := normalize(priceDiff, d.thresholds.PriceDiff)
	fundingScore := normalize(fundingDiff, d.thresholds.FundingDiff)
	score := priceScore
	fundingDriven := fundingScore.Cmp(priceScore) > 0
	if fundingDriven {
		score = fundingScore
	}

	long, short := a, b
	if fundingDriven {
		if b.FundingRate.Cmp(a.FundingRate) < 0 {
			long, short = b, a
		}
	} else if b.Price.Cmp(a.Price) < 0 {
		long, short = b, a
	}

	return domain.ArbitrageOpportunity{
		Canonical:     canonical,
		ExchangeLong:  long.Exchange,
		ExchangeShort: short.Exchange,
		PriceLong:     long.Price,
		PriceShort:    short.Price,
		FundingLong:   long.FundingRate,
		FundingShort:  short.FundingRate,
		PriceDiff:     priceDiff,
		FundingDiff:   fundingDiff,
		Score:         score,
		DetectedAt:    now,
	}, true
}

// normalize divides a diff by its threshold so price and funding scores share
// a dimensionless scale: exactly 1 at the boundary, >1 beyond it.
func normalize(diff, threshold decimal.Decimal) decimal.Decimal {
	if threshold.IsZero() {
		return diff
	}
	return diff.Div(threshold)
}

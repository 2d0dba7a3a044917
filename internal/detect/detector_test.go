package detect

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levmarch/fundarb/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testQuote(exchange string, price, funding string) domain.InstrumentQuote {
	return domain.InstrumentQuote{
		Exchange:    exchange,
		Price:       dec(price),
		FundingRate: dec(funding),
	}
}

func matched(canonical string, quotes ...domain.InstrumentQuote) domain.MatchedInstrument {
	return domain.MatchedInstrument{Canonical: canonical, Quotes: quotes}
}

func TestDetectPriceDriven(t *testing.T) {
	d := NewDetector(Thresholds{PriceDiff: dec("5"), FundingDiff: dec("0.004")})

	opps := d.Detect([]domain.MatchedInstrument{
		matched("BTC",
			testQuote("alpha", "50000", "0.0001"),
			testQuote("beta", "50010", "0.0001"),
		),
	})
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "BTC", opp.Canonical)
	// Cheaper venue takes the long leg.
	assert.Equal(t, "alpha", opp.ExchangeLong)
	assert.Equal(t, "beta", opp.ExchangeShort)
	assert.True(t, opp.PriceDiff.Equal(dec("10")))
	assert.True(t, opp.Score.Equal(dec("2")), "score %s", opp.Score)
	assert.False(t, opp.DetectedAt.IsZero())
}

func TestDetectFundingDrivenLegAssignment(t *testing.T) {
	d := NewDetector(Thresholds{PriceDiff: dec("5"), FundingDiff: dec("0.004")})

	// Prices nearly equal; funding divergence drives the signal. The venue
	// with the lower funding rate takes the long leg even though its price
	// is the higher one.
	opps := d.Detect([]domain.MatchedInstrument{
		matched("ETH",
			testQuote("alpha", "3000.5", "0.009"),
			testQuote("beta", "3000", "0.001"),
		),
	})
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "beta", opp.ExchangeLong)
	assert.Equal(t, "alpha", opp.ExchangeShort)
	assert.True(t, opp.FundingDiff.Equal(dec("0.008")))
	assert.True(t, opp.FundingLong.Equal(dec("0.001")))
	assert.True(t, opp.FundingShort.Equal(dec("0.009")))
	assert.True(t, opp.Score.Equal(dec("2")), "score %s", opp.Score)
}

func TestDetectCombinedPriceAndFundingDivergence(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	// Price and funding diverge together, and in the same direction: the
	// cheap venue also carries the lower funding rate.
	opps := d.Detect([]domain.MatchedInstrument{
		matched("BTC",
			testQuote("alpha", "50000", "0.001"),
			testQuote("beta", "50010", "0.009"),
		),
	})
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "alpha", opp.ExchangeLong)
	assert.Equal(t, "beta", opp.ExchangeShort)
	assert.True(t, opp.PriceDiff.Equal(dec("10")))
	assert.True(t, opp.FundingDiff.Equal(dec("0.008")))
	assert.True(t, opp.PriceLong.Equal(dec("50000")))
	assert.True(t, opp.PriceShort.Equal(dec("50010")))
}

func TestDetectThresholdsAreInclusive(t *testing.T) {
	d := NewDetector(Thresholds{PriceDiff: dec("2"), FundingDiff: dec("0.004")})

	exactly := d.Detect([]domain.MatchedInstrument{
		matched("BTC",
			testQuote("alpha", "50000", "0"),
			testQuote("beta", "50002", "0"),
		),
	})
	require.Len(t, exactly, 1)
	assert.True(t, exactly[0].Score.Equal(dec("1")))

	below := d.Detect([]domain.MatchedInstrument{
		matched("BTC",
			testQuote("alpha", "50000", "0"),
			testQuote("beta", "50001.99", "0"),
		),
	})
	assert.Empty(t, below)
}

func TestDetectSingleVenueYieldsNothing(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	opps := d.Detect([]domain.MatchedInstrument{
		matched("BTC", testQuote("alpha", "50000", "0.05")),
	})
	assert.Empty(t, opps)
}

func TestDetectEnumeratesAllPairs(t *testing.T) {
	d := NewDetector(Thresholds{PriceDiff: dec("1"), FundingDiff: dec("1")})

	opps := d.Detect([]domain.MatchedInstrument{
		matched("BTC",
			testQuote("alpha", "50000", "0"),
			testQuote("beta", "50010", "0"),
			testQuote("gamma", "50020", "0"),
		),
	})
	// Three venues, three unordered pairs, all clearing the threshold.
	require.Len(t, opps, 3)
}

func TestDetectRankingAndTieBreak(t *testing.T) {
	d := NewDetector(Thresholds{PriceDiff: dec("1"), FundingDiff: dec("1")})

	opps := d.Detect([]domain.MatchedInstrument{
		matched("ETH",
			testQuote("alpha", "3000", "0"),
			testQuote("beta", "3002", "0"),
		),
		matched("BTC",
			testQuote("alpha", "50000", "0"),
			testQuote("beta", "50010", "0"),
		),
		// Same diff as ETH: the tie breaks on canonical symbol.
		matched("SOL",
			testQuote("alpha", "100", "0"),
			testQuote("beta", "102", "0"),
		),
	})
	require.Len(t, opps, 3)
	assert.Equal(t, "BTC", opps[0].Canonical)
	assert.Equal(t, "ETH", opps[1].Canonical)
	assert.Equal(t, "SOL", opps[2].Canonical)
}

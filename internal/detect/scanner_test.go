package detect

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
	"github.com/levmarch/fundarb/internal/exchange/paper"
	"github.com/levmarch/fundarb/internal/feed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryCache is an in-process OpportunityCache for tests.
type memoryCache struct {
	opps     []domain.ArbitrageOpportunity
	set      int
	hasValue bool
}

func (m *memoryCache) SetLatest(ctx context.Context, opps []domain.ArbitrageOpportunity, ttl time.Duration) error {
	m.opps = opps
	m.set++
	m.hasValue = true
	return nil
}

func (m *memoryCache) GetLatest(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	if !m.hasValue {
		return nil, domain.ErrNotFound
	}
	return m.opps, nil
}

func newScannerStack(cache domain.OpportunityCache, venues ...*paper.Adapter) *Scanner {
	adapters := make([]exchange.Adapter, len(venues))
	for i, v := range venues {
		adapters[i] = v
	}
	aggregator := feed.NewAggregator(adapters, feed.Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: time.Second,
		MinExchanges: 2,
	}, discardLogger())
	detector := NewDetector(Thresholds{
		PriceDiff:   decimal.NewFromInt(5),
		FundingDiff: decimal.RequireFromString("0.004"),
	})
	return NewScanner(aggregator, detector, cache, time.Minute, discardLogger())
}

func seeded(name string, price int64) *paper.Adapter {
	v := paper.New(name, decimal.NewFromInt(10000))
	v.SetQuote("BTC", decimal.NewFromInt(price), decimal.RequireFromString("0.0001"))
	return v
}

func TestScanPublishesToCacheAndMemory(t *testing.T) {
	cache := &memoryCache{}
	s := newScannerStack(cache, seeded("alpha", 50000), seeded("beta", 50010))

	opps, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "BTC", opps[0].Canonical)

	assert.Equal(t, 1, cache.set)
	assert.False(t, s.LastScannedAt().IsZero())

	latest := s.Latest(context.Background())
	require.Len(t, latest, 1)
}

func TestLatestPrefersCache(t *testing.T) {
	cache := &memoryCache{}
	s := newScannerStack(cache, seeded("alpha", 50000), seeded("beta", 50010))

	// Another process's scan result sits in the shared cache.
	cached := []domain.ArbitrageOpportunity{{Canonical: "ETH"}}
	require.NoError(t, cache.SetLatest(context.Background(), cached, time.Minute))

	latest := s.Latest(context.Background())
	require.Len(t, latest, 1)
	assert.Equal(t, "ETH", latest[0].Canonical)
}

func TestLatestFallsBackToMemoryOnCacheMiss(t *testing.T) {
	s := newScannerStack(&memoryCache{}, seeded("alpha", 50000), seeded("beta", 50010))

	assert.Empty(t, s.Latest(context.Background()))

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Latest(context.Background()), 1)
}

func TestScanUnderQuorumIsNoData(t *testing.T) {
	cache := &memoryCache{}
	// Only one venue against a quorum of two.
	s := newScannerStack(cache, seeded("alpha", 50000))

	opps, err := s.Scan(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Empty(t, opps)

	// The empty result still overwrites stale state everywhere.
	assert.Equal(t, 1, cache.set)
	assert.False(t, s.LastScannedAt().IsZero())
}

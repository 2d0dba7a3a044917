package feed

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
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brokenVenue fails every call; used to exercise venue-omission paths.
type brokenVenue struct {
	name string
	err  error
	// hang makes Quotes block until the per-fetch timeout fires.
	hang bool
}

func (b *brokenVenue) Name() string { return b.name }

func (b *brokenVenue) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	if b.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, b.err
}

func (b *brokenVenue) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, b.err
}

func (b *brokenVenue) Balance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, b.err
}

func (b *brokenVenue) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	return nil, b.err
}

func (b *brokenVenue) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	return "", b.err
}

func (b *brokenVenue) ClosePosition(ctx context.Context, symbol string) error {
	return b.err
}

func seededVenue(name string) *paper.Adapter {
	v := paper.New(name, decimal.NewFromInt(10000))
	v.SetQuote("BTCUSDT", decimal.NewFromInt(50000), decimal.RequireFromString("0.0001"))
	return v
}

func TestSnapshotMergesAllVenues(t *testing.T) {
	agg := NewAggregator([]exchange.Adapter{
		seededVenue("alpha"),
		seededVenue("beta"),
	}, Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: time.Second,
		MinExchanges: 2,
	}, discardLogger())

	snapshot, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	for _, name := range []string{"alpha", "beta"} {
		quotes := snapshot[name]
		require.Len(t, quotes, 1, "venue %s", name)
		assert.Equal(t, "BTC", quotes[0].Canonical)
		assert.False(t, quotes[0].ObservedAt.IsZero())
	}
}

func TestSnapshotOmitsFailedVenue(t *testing.T) {
	agg := NewAggregator([]exchange.Adapter{
		seededVenue("alpha"),
		seededVenue("beta"),
		&brokenVenue{name: "gamma", err: domain.ErrAdapterUnavailable},
	}, Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: time.Second,
		MinExchanges: 2,
	}, discardLogger())

	snapshot, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.NotContains(t, snapshot, "gamma")
}

func TestSnapshotQuorumShortfall(t *testing.T) {
	agg := NewAggregator([]exchange.Adapter{
		seededVenue("alpha"),
		&brokenVenue{name: "beta", err: domain.ErrAdapterUnavailable},
	}, Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: time.Second,
		MinExchanges: 2,
	}, discardLogger())

	snapshot, err := agg.Snapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Empty(t, snapshot)
}

func TestSnapshotSevenVenuesWithQuorumOfFive(t *testing.T) {
	cfg := Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: time.Second,
		MinExchanges: 5,
	}

	// Five of seven respond: quorum holds, failed venues are omitted.
	agg := NewAggregator([]exchange.Adapter{
		seededVenue("alpha"),
		seededVenue("beta"),
		seededVenue("gamma"),
		seededVenue("delta"),
		seededVenue("epsilon"),
		&brokenVenue{name: "zeta", err: domain.ErrAdapterUnavailable},
		&brokenVenue{name: "eta", err: domain.ErrAdapterUnavailable},
	}, cfg, discardLogger())

	snapshot, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 5)
	assert.NotContains(t, snapshot, "zeta")
	assert.NotContains(t, snapshot, "eta")

	// Four responders miss the quorum of five.
	agg = NewAggregator([]exchange.Adapter{
		seededVenue("alpha"),
		seededVenue("beta"),
		seededVenue("gamma"),
		seededVenue("delta"),
		&brokenVenue{name: "epsilon", err: domain.ErrAdapterUnavailable},
		&brokenVenue{name: "zeta", err: domain.ErrAdapterUnavailable},
		&brokenVenue{name: "eta", err: domain.ErrAdapterUnavailable},
	}, cfg, discardLogger())

	snapshot, err = agg.Snapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Empty(t, snapshot)
}

func TestSnapshotSlowVenueIsCutOff(t *testing.T) {
	agg := NewAggregator([]exchange.Adapter{
		seededVenue("alpha"),
		seededVenue("beta"),
		&brokenVenue{name: "gamma", hang: true},
	}, Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: 25 * time.Millisecond,
		MinExchanges: 2,
	}, discardLogger())

	start := time.Now()
	snapshot, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.NotContains(t, snapshot, "gamma")
	// The hanging venue was bounded by its fetch timeout, not left to block
	// the cycle.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSnapshotHonorsContextCancel(t *testing.T) {
	agg := NewAggregator([]exchange.Adapter{seededVenue("alpha")}, Config{
		RateFloor:    time.Hour, // second cycle would block on the floor
		FetchTimeout: time.Second,
		MinExchanges: 1,
	}, discardLogger())

	_, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = agg.Snapshot(ctx)
	require.Error(t, err)
}

func TestExchangesAreSorted(t *testing.T) {
	agg := NewAggregator([]exchange.Adapter{
		seededVenue("zeta"),
		seededVenue("alpha"),
		seededVenue("mid"),
	}, Config{RateFloor: time.Nanosecond, FetchTimeout: time.Second, MinExchanges: 1}, discardLogger())

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, agg.Exchanges())
}

package execute

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVenue is a scriptable adapter: opens and closes can be made to fail a
// set number of times or permanently, and every call is counted.
type fakeVenue struct {
	name      string
	positions map[string]domain.PositionInfo

	openErr        error
	closeErr       error
	closeFailures  int // fail this many closes before succeeding
	openCalls      int
	closeCalls     int
	positionsCalls int
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{name: name, positions: make(map[string]domain.PositionInfo)}
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	return nil, nil
}

func (f *fakeVenue) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeVenue) Balance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func (f *fakeVenue) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	f.positionsCalls++
	out := make(map[string]domain.PositionInfo, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

func (f *fakeVenue) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	f.openCalls++
	if f.openErr != nil {
		return "", f.openErr
	}
	f.positions[params.Symbol] = domain.PositionInfo{
		Symbol: params.Symbol,
		Side:   params.Side,
		Size:   params.Size,
	}
	return fmt.Sprintf("%s-order-%d", f.name, f.openCalls), nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, symbol string) error {
	f.closeCalls++
	if f.closeFailures > 0 {
		f.closeFailures--
		return fmt.Errorf("%s: close %s: %w", f.name, symbol, domain.ErrAdapterUnavailable)
	}
	if f.closeErr != nil {
		return f.closeErr
	}
	delete(f.positions, symbol)
	return nil
}

func testOpportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		Canonical:     "BTC",
		ExchangeLong:  "alpha",
		ExchangeShort: "beta",
		PriceLong:     decimal.NewFromInt(50000),
		PriceShort:    decimal.NewFromInt(50010),
		PriceDiff:     decimal.NewFromInt(10),
		Score:         decimal.NewFromInt(2),
		DetectedAt:    time.Now().UTC(),
	}
}

func newTestCoordinator(long, short exchange.Adapter) *Coordinator {
	return NewCoordinator(map[string]exchange.Adapter{
		"alpha": long,
		"beta":  short,
	}, Config{
		OrderSize:       decimal.RequireFromString("0.01"),
		Leverage:        decimal.NewFromInt(1),
		CloseRetries:    3,
		CloseRetryDelay: time.Millisecond,
	}, nil, nil, discardLogger())
}

func TestExecuteOpensBothLegs(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)
	require.NotNil(t, hedge)

	assert.Equal(t, domain.HedgeHedged, hedge.State)
	assert.True(t, hedge.Long.Open)
	assert.True(t, hedge.Short.Open)
	assert.NotEmpty(t, hedge.Long.OrderID)
	assert.NotEmpty(t, hedge.Short.OrderID)
	assert.Equal(t, domain.SideLong, hedge.Long.Side)
	assert.Equal(t, domain.SideShort, hedge.Short.Side)
	assert.Equal(t, 1, long.openCalls)
	assert.Equal(t, 1, short.openCalls)

	open := c.Open()
	require.Len(t, open, 1)
	assert.Equal(t, hedge.ID, open[0].ID)
}

func TestExecuteLongFailureStopsBeforeShort(t *testing.T) {
	long := newFakeVenue("alpha")
	long.openErr = domain.ErrOrderRejected
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	// The short leg was never attempted; no exposure anywhere.
	assert.Equal(t, 0, short.openCalls)
	assert.Equal(t, domain.HedgeFailed, hedge.State)
	assert.False(t, hedge.Long.Open)
	assert.Empty(t, c.Open())
}

func TestExecuteShortFailureUnwindsLong(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	short.openErr = domain.ErrOrderRejected
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.NotErrorIs(t, err, domain.ErrCriticalUnwind)

	// The live long leg was flattened exactly once.
	assert.Equal(t, 1, long.closeCalls)
	assert.Empty(t, long.positions)
	assert.Equal(t, domain.HedgeFailed, hedge.State)
	assert.False(t, hedge.Long.Open)
	assert.Empty(t, c.Open())
}

func TestExecuteUnwindFailureEscalates(t *testing.T) {
	long := newFakeVenue("alpha")
	long.closeErr = domain.ErrAdapterUnavailable
	short := newFakeVenue("beta")
	short.openErr = domain.ErrOrderRejected
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.ErrorIs(t, err, domain.ErrCriticalUnwind)

	// The long leg is still live and the hedge stays visible for manual
	// intervention.
	assert.True(t, hedge.Long.Open)
	assert.Equal(t, domain.HedgeFailed, hedge.State)
	assert.NotEmpty(t, hedge.Reason)
	require.Len(t, c.Open(), 1)
}

func TestExecuteRejectsDuplicateInstrument(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	_, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), testOpportunity())
	require.ErrorIs(t, err, domain.ErrDuplicateHedge)
	assert.Equal(t, 1, long.openCalls)
}

func TestExecuteRejectsLivePositionOnVenue(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	// A position opened outside the coordinator, reported under the venue's
	// native symbol.
	short.positions["BTCUSDT"] = domain.PositionInfo{Symbol: "BTCUSDT", Side: domain.SideShort}
	c := newTestCoordinator(long, short)

	_, err := c.Execute(context.Background(), testOpportunity())
	require.ErrorIs(t, err, domain.ErrDuplicateHedge)
	assert.Equal(t, 0, long.openCalls)
	assert.Equal(t, 0, short.openCalls)
}

func TestExecuteUnknownExchange(t *testing.T) {
	c := newTestCoordinator(newFakeVenue("alpha"), newFakeVenue("beta"))

	opp := testOpportunity()
	opp.ExchangeShort = "nowhere"
	_, err := c.Execute(context.Background(), opp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestCloseFlattensBothLegs(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background(), hedge.ID))
	assert.Equal(t, 1, long.closeCalls)
	assert.Equal(t, 1, short.closeCalls)
	assert.Empty(t, c.Open())
}

func TestClosePartialRetriesRemainingLeg(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	// First close attempt on the short leg fails twice, then succeeds on
	// the second retry.
	short.closeFailures = 2

	require.NoError(t, c.Close(context.Background(), hedge.ID))
	assert.Equal(t, 1, long.closeCalls)
	assert.Equal(t, 3, short.closeCalls)
	assert.Empty(t, c.Open())
}

func TestCloseRetriesExhaustedEscalates(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	short.closeErr = domain.ErrAdapterUnavailable

	err = c.Close(context.Background(), hedge.ID)
	require.ErrorIs(t, err, domain.ErrCriticalUnwind)
	open := c.Open()
	require.Len(t, open, 1)
	assert.Equal(t, domain.HedgePartiallyClosed, open[0].State)
	// 1 initial attempt + CloseRetries retries.
	assert.Equal(t, 4, short.closeCalls)
}

func TestCloseBothLegsFailedIsRetryable(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	// Neither leg moves; the book stays balanced so the failure is plain
	// and retryable, never a critical escalation.
	long.closeErr = domain.ErrAdapterUnavailable
	short.closeErr = domain.ErrAdapterUnavailable

	err = c.Close(context.Background(), hedge.ID)
	require.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	assert.NotErrorIs(t, err, domain.ErrCriticalUnwind)
	open := c.Open()
	require.Len(t, open, 1)
	assert.Equal(t, domain.HedgeHedged, open[0].State)
}

func TestCloseTreatsVanishedPositionAsFlat(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	// The venue no longer reports the position (manual close or
	// liquidation); that counts as flat, not as exposure.
	short.closeErr = fmt.Errorf("beta: %w", domain.ErrPositionNotFound)

	require.NoError(t, c.Close(context.Background(), hedge.ID))
	assert.Empty(t, c.Open())
}

func TestCloseRecoversFailedUnwind(t *testing.T) {
	long := newFakeVenue("alpha")
	long.closeErr = domain.ErrAdapterUnavailable
	short := newFakeVenue("beta")
	short.openErr = domain.ErrOrderRejected
	c := newTestCoordinator(long, short)

	hedge, err := c.Execute(context.Background(), testOpportunity())
	require.ErrorIs(t, err, domain.ErrCriticalUnwind)
	require.Len(t, c.Open(), 1)

	// The long venue comes back; the failed unit is still closable, so the
	// stranded leg can be flattened without a restart.
	long.closeErr = nil
	require.NoError(t, c.Close(context.Background(), hedge.ID))
	assert.Empty(t, c.Open())
	assert.Empty(t, long.positions)
}

func TestOpenObservesExecutionSafely(t *testing.T) {
	long := newFakeVenue("alpha")
	short := newFakeVenue("beta")
	c := newTestCoordinator(long, short)

	// A reader hammers Open while hedges execute and close; the race detector
	// checks the copies against the in-flight field mutations.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, h := range c.Open() {
				_ = h.State
				_ = h.Long.Open
				_ = h.Short.OrderID
			}
		}
	}()

	for i := 0; i < 50; i++ {
		hedge, err := c.Execute(context.Background(), testOpportunity())
		require.NoError(t, err)
		require.NoError(t, c.Close(context.Background(), hedge.ID))
	}
	close(stop)
	<-done
}

func TestCloseUnknownHedge(t *testing.T) {
	c := newTestCoordinator(newFakeVenue("alpha"), newFakeVenue("beta"))
	err := c.Close(context.Background(), "no-such-id")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

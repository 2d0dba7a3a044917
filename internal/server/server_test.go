package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levmarch/fundarb/internal/detect"
	"github.com/levmarch/fundarb/internal/exchange"
	"github.com/levmarch/fundarb/internal/exchange/paper"
	"github.com/levmarch/fundarb/internal/execute"
	"github.com/levmarch/fundarb/internal/feed"
	"github.com/levmarch/fundarb/internal/scheduler"
	"github.com/levmarch/fundarb/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAPI builds the full API over two diverging paper venues and runs
// one scan so the opportunity list is populated.
func newTestAPI(t *testing.T, cfg Config) http.Handler {
	t.Helper()

	alpha := paper.New("alpha", decimal.NewFromInt(10000))
	alpha.SetQuote("BTC", decimal.NewFromInt(50000), decimal.RequireFromString("0.0001"))
	beta := paper.New("beta", decimal.NewFromInt(10000))
	beta.SetQuote("BTC", decimal.NewFromInt(50010), decimal.RequireFromString("0.0001"))

	adapters := map[string]exchange.Adapter{"alpha": alpha, "beta": beta}
	logger := discardLogger()

	aggregator := feed.NewAggregator([]exchange.Adapter{alpha, beta}, feed.Config{
		RateFloor:    time.Nanosecond,
		FetchTimeout: time.Second,
		MinExchanges: 2,
	}, logger)
	detector := detect.NewDetector(detect.Thresholds{
		PriceDiff:   decimal.NewFromInt(5),
		FundingDiff: decimal.RequireFromString("0.004"),
	})
	scanner := detect.NewScanner(aggregator, detector, nil, time.Minute, logger)

	_, err := scanner.Scan(context.Background())
	require.NoError(t, err)

	coordinator := execute.NewCoordinator(adapters, execute.Config{
		OrderSize:       decimal.RequireFromString("0.01"),
		Leverage:        decimal.NewFromInt(1),
		CloseRetries:    1,
		CloseRetryDelay: time.Millisecond,
	}, nil, nil, logger)

	sched := scheduler.New(scanner, coordinator, nil, scheduler.Config{Interval: time.Minute}, logger)

	srv := NewServer(cfg, Handlers{
		Health:    handler.NewHealthHandler(logger),
		Arbitrage: handler.NewArbitrageHandler(scanner, logger),
		Hedges:    handler.NewHedgeHandler(coordinator, scanner, nil, logger),
		Account:   handler.NewAccountHandler(adapters, logger),
		AutoTrade: handler.NewAutoTradeHandler(sched, logger),
	}, logger)

	return srv.httpServer.Handler
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0})

	rec, body := doJSON(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestArbitrageListReturnsScanResults(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0})

	rec, body := doJSON(t, h, http.MethodGet, "/api/arbitrage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.NotNil(t, body["scanned_at"])

	opps, ok := body["opportunities"].([]any)
	require.True(t, ok)
	require.Len(t, opps, 1)
	opp := opps[0].(map[string]any)
	assert.Equal(t, "BTC", opp["canonical_symbol"])
	assert.Equal(t, "alpha", opp["exchange_long"])
	assert.Equal(t, "beta", opp["exchange_short"])
}

func TestHedgeLifecycleOverAPI(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0})

	rec, body := doJSON(t, h, http.MethodPost, "/api/hedges", `{"symbol":"BTC"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hedgeID, _ := body["id"].(string)
	require.NotEmpty(t, hedgeID)
	assert.Equal(t, "hedged", body["state"])

	// A second open for the same instrument conflicts.
	rec, _ = doJSON(t, h, http.MethodPost, "/api/hedges", `{"symbol":"BTC"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = doJSON(t, h, http.MethodGet, "/api/hedges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	open, ok := body["open"].([]any)
	require.True(t, ok)
	assert.Len(t, open, 1)

	rec, body = doJSON(t, h, http.MethodDelete, "/api/hedges/"+hedgeID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "closed", body["status"])

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/hedges/"+hedgeID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHedgeOpenUnknownSymbol(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/hedges", `{"symbol":"DOGE"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountEndpoints(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0})

	rec, body := doJSON(t, h, http.MethodGet, "/api/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	balances, ok := body["balances"].([]any)
	require.True(t, ok)
	require.Len(t, balances, 2)
	first := balances[0].(map[string]any)
	assert.Equal(t, "alpha", first["exchange"])
	assert.Equal(t, "10000", first["equity"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	positions, ok := body["positions"].([]any)
	require.True(t, ok)
	assert.Len(t, positions, 2)
}

func TestAutoTradeToggle(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0})

	rec, body := doJSON(t, h, http.MethodGet, "/api/autotrade", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])

	rec, body = doJSON(t, h, http.MethodPut, "/api/autotrade", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["enabled"])

	rec, _ = doJSON(t, h, http.MethodPut, "/api/autotrade", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0, APIKey: "sekrit"})

	rec, _ := doJSON(t, h, http.MethodGet, "/api/arbitrage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/arbitrage", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/arbitrage", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/arbitrage", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestAPI(t, Config{Port: 0, CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/arbitrage", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	// A different origin gets no CORS grant.
	req = httptest.NewRequest(http.MethodOptions, "/api/arbitrage", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// Package bybit implements the venue adapter for Bybit USDT-margined
// perpetuals over the v5 REST API, with an optional public websocket stream
// that keeps quotes fresh between REST cycles.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

const (
	defaultBaseURL = "https://api.bybit.com"
	recvWindow     = "5000"
	category       = "linear"
)

// Adapter is the Bybit venue adapter.
type Adapter struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	mu     sync.RWMutex
	stream map[string]domain.InstrumentQuote // live quotes from the websocket, keyed by native symbol
}

// FromCredentials builds the adapter from a credential map. Recognized keys:
// api_key, api_secret, base_url (optional, defaults to production).
func FromCredentials(creds map[string]string) (exchange.Adapter, error) {
	base := creds["base_url"]
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     creds["api_key"],
		apiSecret:  creds["api_secret"],
		httpClient: &http.Client{Timeout: 15 * time.Second},
		stream:     make(map[string]domain.InstrumentQuote),
	}, nil
}

// Name returns the venue id.
func (a *Adapter) Name() string { return "bybit" }

// nativeSymbol maps a canonical base ticker to Bybit's linear perp naming.
func nativeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}

// Quotes returns one quote per linear perp instrument. Quotes seen on the
// websocket stream within the last minute take precedence over the REST
// snapshot for the same symbol.
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	var resp struct {
		Result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				LastPrice   string `json:"lastPrice"`
				MarkPrice   string `json:"markPrice"`
				FundingRate string `json:"fundingRate"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := a.get(ctx, "/v5/market/tickers", url.Values{"category": {category}}, false, &resp); err != nil {
		return nil, fmt.Errorf("bybit: tickers: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]domain.InstrumentQuote, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		price, err := decimal.NewFromString(pick(t.MarkPrice, t.LastPrice))
		if err != nil {
			continue
		}
		funding, err := decimal.NewFromString(t.FundingRate)
		if err != nil {
			// Some instruments (expiring futures) carry no funding field.
			funding = decimal.Zero
		}
		q := domain.InstrumentQuote{
			Exchange:     a.Name(),
			NativeSymbol: t.Symbol,
			Price:        price,
			FundingRate:  funding,
			ObservedAt:   now,
		}
		if live, ok := a.liveQuote(t.Symbol, now); ok {
			q = live
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// FundingRate returns the current funding rate for one symbol as a fraction
// per funding interval.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp struct {
		Result struct {
			List []struct {
				FundingRate string `json:"fundingRate"`
			} `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {category}, "symbol": {nativeSymbol(symbol)}}
	if err := a.get(ctx, "/v5/market/tickers", params, false, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit: funding rate %s: %w", symbol, err)
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: funding rate %s: symbol not listed", symbol)
	}
	rate, err := decimal.NewFromString(resp.Result.List[0].FundingRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: funding rate %s: parse %q: %w", symbol, resp.Result.List[0].FundingRate, err)
	}
	return rate, nil
}

// Balance returns unified-account total equity in USD terms.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Result struct {
			List []struct {
				TotalEquity string `json:"totalEquity"`
			} `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"accountType": {"UNIFIED"}}
	if err := a.get(ctx, "/v5/account/wallet-balance", params, true, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit: wallet balance: %w", err)
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: wallet balance: empty account list")
	}
	equity, err := decimal.NewFromString(resp.Result.List[0].TotalEquity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: wallet balance: parse %q: %w", resp.Result.List[0].TotalEquity, err)
	}
	return equity, nil
}

// OpenPositions returns live linear positions keyed by native symbol.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
			} `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {category}, "settleCoin": {"USDT"}}
	if err := a.get(ctx, "/v5/position/list", params, true, &resp); err != nil {
		return nil, fmt.Errorf("bybit: position list: %w", err)
	}

	out := make(map[string]domain.PositionInfo)
	for _, p := range resp.Result.List {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || size.IsZero() {
			continue
		}
		side := domain.SideLong
		if strings.EqualFold(p.Side, "Sell") {
			side = domain.SideShort
		}
		out[p.Symbol] = domain.PositionInfo{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    mustDecimal(p.AvgPrice),
			MarkPrice:     mustDecimal(p.MarkPrice),
			Leverage:      mustDecimal(p.Leverage),
			UnrealizedPnL: mustDecimal(p.UnrealisedPnl),
		}
	}
	return out, nil
}

// OpenPosition places an order and returns Bybit's order id. Limit orders
// without an explicit price fall back to the current mark so the order rests
// near the book.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	sym := nativeSymbol(params.Symbol)

	side := "Buy"
	if params.Side == domain.SideShort {
		side = "Sell"
	}

	body := map[string]any{
		"category":    category,
		"symbol":      sym,
		"side":        side,
		"qty":         params.Size.String(),
		"timeInForce": "GTC",
	}
	switch params.OrderType {
	case domain.OrderTypeMarket:
		body["orderType"] = "Market"
		body["timeInForce"] = "IOC"
	default:
		body["orderType"] = "Limit"
		price := params.Price
		if price.IsZero() {
			quote, err := a.markPrice(ctx, sym)
			if err != nil {
				return "", err
			}
			price = quote
		}
		body["price"] = price.String()
	}

	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := a.post(ctx, "/v5/order/create", body, &resp); err != nil {
		return "", fmt.Errorf("bybit: create order %s %s: %w", side, sym, err)
	}
	return resp.Result.OrderID, nil
}

// ClosePosition flattens the live position with a reduce-only market order.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	sym := nativeSymbol(symbol)

	positions, err := a.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("bybit: close %s: %w", sym, err)
	}
	pos, ok := positions[sym]
	if !ok {
		return fmt.Errorf("bybit: close %s: %w", sym, domain.ErrPositionNotFound)
	}

	side := "Sell"
	if pos.Side == domain.SideShort {
		side = "Buy"
	}
	body := map[string]any{
		"category":    category,
		"symbol":      sym,
		"side":        side,
		"orderType":   "Market",
		"qty":         pos.Size.Abs().String(),
		"timeInForce": "IOC",
		"reduceOnly":  true,
	}
	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := a.post(ctx, "/v5/order/create", body, &resp); err != nil {
		return fmt.Errorf("bybit: close %s: %w", sym, err)
	}
	return nil
}

func (a *Adapter) markPrice(ctx context.Context, sym string) (decimal.Decimal, error) {
	var resp struct {
		Result struct {
			List []struct {
				MarkPrice string `json:"markPrice"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {category}, "symbol": {sym}}
	if err := a.get(ctx, "/v5/market/tickers", params, false, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit: mark price %s: %w", sym, err)
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: mark price %s: symbol not listed", sym)
	}
	return decimal.NewFromString(pick(resp.Result.List[0].MarkPrice, resp.Result.List[0].LastPrice))
}

// get issues a GET request, signing it when signed is true.
func (a *Adapter) get(ctx context.Context, path string, params url.Values, signed bool, out any) error {
	query := params.Encode()
	full := a.baseURL + path
	if query != "" {
		full += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if signed {
		a.sign(req, query)
	}
	return a.do(req, out)
}

// post issues a signed POST with a JSON body.
func (a *Adapter) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.sign(req, string(payload))
	return a.do(req, out)
}

// sign applies v5 header authentication: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload.
func (a *Adapter) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(ts + a.apiKey + recvWindow + payload))

	req.Header.Set("X-BAPI-API-KEY", a.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func (a *Adapter) do(req *http.Request, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrAdapterUnavailable, resp.StatusCode, truncate(body))
	}

	var envelope struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.RetCode != 0 {
		// Non-zero retCode on a 200 is the venue rejecting the request itself.
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrOrderRejected, envelope.RetCode, envelope.RetMsg)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (a *Adapter) liveQuote(sym string, now time.Time) (domain.InstrumentQuote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.stream[sym]
	if !ok || now.Sub(q.ObservedAt) > time.Minute {
		return domain.InstrumentQuote{}, false
	}
	return q, true
}

func pick(first, second string) string {
	if first != "" {
		return first
	}
	return second
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Package mexc implements the venue adapter for MEXC perpetual contracts
// over the contract REST API.
package mexc

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
	"time"

	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

const defaultBaseURL = "https://contract.mexc.com"

// MEXC encodes order intent as numeric codes.
const (
	sideOpenLong   = 1
	sideCloseShort = 2
	sideOpenShort  = 3
	sideCloseLong  = 4

	orderTypeLimit  = 1
	orderTypeMarket = 5

	openTypeCross = 2
)

// Adapter is the MEXC venue adapter.
type Adapter struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// FromCredentials builds the adapter from a credential map. Recognized keys:
// api_key, api_secret, base_url (optional).
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
	}, nil
}

// Name returns the venue id.
func (a *Adapter) Name() string { return "mexc" }

func nativeContract(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "_") {
		return s
	}
	return s + "_USDT"
}

// Quotes lists every contract ticker. The fundingRate field is a fraction
// per interval despite the percent-sounding name.
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	var resp struct {
		Data []tickerData `json:"data"`
	}
	if err := a.request(ctx, http.MethodGet, "/api/v1/contract/ticker", nil, nil, false, &resp); err != nil {
		return nil, fmt.Errorf("mexc: ticker: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]domain.InstrumentQuote, 0, len(resp.Data))
	for _, t := range resp.Data {
		if t.LastPrice.IsZero() {
			continue
		}
		quotes = append(quotes, domain.InstrumentQuote{
			Exchange:     a.Name(),
			NativeSymbol: t.Symbol,
			Price:        t.LastPrice,
			FundingRate:  t.FundingRate,
			ObservedAt:   now,
		})
	}
	return quotes, nil
}

type tickerData struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	FundingRate decimal.Decimal `json:"fundingRate"`
}

// FundingRate returns the current funding rate for one contract.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	contract := nativeContract(symbol)
	var resp struct {
		Data struct {
			FundingRate decimal.Decimal `json:"fundingRate"`
		} `json:"data"`
	}
	if err := a.request(ctx, http.MethodGet, "/api/v1/contract/funding_rate/"+contract, nil, nil, false, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("mexc: funding rate %s: %w", contract, err)
	}
	return resp.Data.FundingRate, nil
}

// Balance returns USDT futures equity.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Data []struct {
			Currency string          `json:"currency"`
			Equity   decimal.Decimal `json:"equity"`
		} `json:"data"`
	}
	if err := a.request(ctx, http.MethodGet, "/api/v1/private/account/assets", nil, nil, true, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("mexc: account assets: %w", err)
	}
	for _, asset := range resp.Data {
		if asset.Currency == "USDT" {
			return asset.Equity, nil
		}
	}
	return decimal.Zero, fmt.Errorf("mexc: account assets: no USDT entry")
}

// OpenPositions returns live positions keyed by contract name.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	var resp struct {
		Data []struct {
			Symbol       string          `json:"symbol"`
			PositionType int             `json:"positionType"` // 1 long, 2 short
			HoldVol      decimal.Decimal `json:"holdVol"`
			OpenAvgPrice decimal.Decimal `json:"openAvgPrice"`
			Leverage     decimal.Decimal `json:"leverage"`
			Realised     decimal.Decimal `json:"realised"`
		} `json:"data"`
	}
	if err := a.request(ctx, http.MethodGet, "/api/v1/private/position/open_positions", nil, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("mexc: open positions: %w", err)
	}

	out := make(map[string]domain.PositionInfo)
	for _, p := range resp.Data {
		if p.HoldVol.IsZero() {
			continue
		}
		side := domain.SideLong
		if p.PositionType == 2 {
			side = domain.SideShort
		}
		out[p.Symbol] = domain.PositionInfo{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       p.HoldVol,
			EntryPrice: p.OpenAvgPrice,
			Leverage:   p.Leverage,
		}
	}
	return out, nil
}

// OpenPosition submits a contract order and returns the order id.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	contract := nativeContract(params.Symbol)

	side := sideOpenLong
	if params.Side == domain.SideShort {
		side = sideOpenShort
	}
	orderType := orderTypeLimit
	if params.OrderType == domain.OrderTypeMarket {
		orderType = orderTypeMarket
	}

	body := map[string]any{
		"symbol":   contract,
		"vol":      params.Size.InexactFloat64(),
		"side":     side,
		"type":     orderType,
		"openType": openTypeCross,
	}
	if !params.Leverage.IsZero() {
		body["leverage"] = params.Leverage.IntPart()
	}
	if orderType == orderTypeLimit {
		price := params.Price
		if price.IsZero() {
			last, err := a.lastPrice(ctx, contract)
			if err != nil {
				return "", err
			}
			price = last
		}
		body["price"] = price.InexactFloat64()
	}

	var resp struct {
		Data json.Number `json:"data"`
	}
	if err := a.request(ctx, http.MethodPost, "/api/v1/private/order/submit", nil, body, true, &resp); err != nil {
		return "", fmt.Errorf("mexc: submit order %s: %w", contract, err)
	}
	return resp.Data.String(), nil
}

// ClosePosition flattens the contract with a market close order on the
// opposite intent code.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	contract := nativeContract(symbol)

	positions, err := a.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("mexc: close %s: %w", contract, err)
	}
	pos, ok := positions[contract]
	if !ok {
		return fmt.Errorf("mexc: close %s: %w", contract, domain.ErrPositionNotFound)
	}

	side := sideCloseLong
	if pos.Side == domain.SideShort {
		side = sideCloseShort
	}
	body := map[string]any{
		"symbol":   contract,
		"vol":      pos.Size.InexactFloat64(),
		"side":     side,
		"type":     orderTypeMarket,
		"openType": openTypeCross,
	}
	if err := a.request(ctx, http.MethodPost, "/api/v1/private/order/submit", nil, body, true, nil); err != nil {
		return fmt.Errorf("mexc: close %s: %w", contract, err)
	}
	return nil
}

func (a *Adapter) lastPrice(ctx context.Context, contract string) (decimal.Decimal, error) {
	params := url.Values{"symbol": {contract}}
	var resp struct {
		Data tickerData `json:"data"`
	}
	if err := a.request(ctx, http.MethodGet, "/api/v1/contract/ticker", params, nil, false, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("mexc: ticker %s: %w", contract, err)
	}
	if resp.Data.LastPrice.IsZero() {
		return decimal.Zero, fmt.Errorf("mexc: ticker %s: not listed", contract)
	}
	return resp.Data.LastPrice, nil
}

// request issues one REST call. Signed requests carry HMAC-SHA256 over
// accessKey + timestamp + parameter string (query for GET, JSON body for
// POST) in the Signature header.
func (a *Adapter) request(ctx context.Context, method, path string, params url.Values, body any, signed bool, out any) error {
	query := ""
	if params != nil {
		query = params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	full := a.baseURL + path
	if query != "" {
		full += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, full, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		paramString := query
		if method == http.MethodPost {
			paramString = string(payload)
		}
		mac := hmac.New(sha256.New, []byte(a.apiSecret))
		mac.Write([]byte(a.apiKey + ts + paramString))

		req.Header.Set("ApiKey", a.apiKey)
		req.Header.Set("Request-Time", ts)
		req.Header.Set("Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrAdapterUnavailable, resp.StatusCode, string(raw[:min(len(raw), 512)]))
	}

	var envelope struct {
		Success bool   `json:"success"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && !envelope.Success && envelope.Code != 0 {
		return fmt.Errorf("%w: code %d: %s", domain.ErrOrderRejected, envelope.Code, envelope.Message)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Package gate implements the venue adapter for Gate.io USDT-settled
// perpetual futures over the v4 REST API.
package gate

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
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

const (
	defaultBaseURL = "https://api.gateio.ws"
	apiPrefix      = "/api/v4"
	settle         = "usdt"
)

// Adapter is the Gate.io venue adapter.
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
func (a *Adapter) Name() string { return "gate" }

// nativeContract maps a canonical base ticker to Gate's contract naming.
func nativeContract(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "_") {
		return s
	}
	return s + "_USDT"
}

// Quotes lists every USDT-settled contract with its last price and current
// funding rate. Gate reports the rate as a fraction per interval already.
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	var contracts []struct {
		Name        string `json:"name"`
		LastPrice   string `json:"last_price"`
		MarkPrice   string `json:"mark_price"`
		FundingRate string `json:"funding_rate"`
		InDelisting bool   `json:"in_delisting"`
	}
	if err := a.request(ctx, http.MethodGet, "/futures/"+settle+"/contracts", nil, nil, false, &contracts); err != nil {
		return nil, fmt.Errorf("gate: contracts: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]domain.InstrumentQuote, 0, len(contracts))
	for _, c := range contracts {
		if c.InDelisting {
			continue
		}
		priceStr := c.MarkPrice
		if priceStr == "" {
			priceStr = c.LastPrice
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil || price.IsZero() {
			continue
		}
		funding, err := decimal.NewFromString(c.FundingRate)
		if err != nil {
			funding = decimal.Zero
		}
		quotes = append(quotes, domain.InstrumentQuote{
			Exchange:     a.Name(),
			NativeSymbol: c.Name,
			Price:        price,
			FundingRate:  funding,
			ObservedAt:   now,
		})
	}
	return quotes, nil
}

// FundingRate returns the most recent funding rate for one contract.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	contract := nativeContract(symbol)
	params := url.Values{"contract": {contract}, "limit": {"1"}}
	var history []struct {
		Rate string `json:"r"`
	}
	if err := a.request(ctx, http.MethodGet, "/futures/"+settle+"/funding_rate", params, nil, false, &history); err != nil {
		return decimal.Zero, fmt.Errorf("gate: funding rate %s: %w", contract, err)
	}
	if len(history) == 0 {
		return decimal.Zero, fmt.Errorf("gate: funding rate %s: no data", contract)
	}
	rate, err := decimal.NewFromString(history[0].Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gate: funding rate %s: parse %q: %w", contract, history[0].Rate, err)
	}
	return rate, nil
}

// Balance returns the futures account total in USDT.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	var account struct {
		Total     string `json:"total"`
		Available string `json:"available"`
	}
	if err := a.request(ctx, http.MethodGet, "/futures/"+settle+"/accounts", nil, nil, true, &account); err != nil {
		return decimal.Zero, fmt.Errorf("gate: accounts: %w", err)
	}
	total, err := decimal.NewFromString(account.Total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gate: accounts: parse total %q: %w", account.Total, err)
	}
	return total, nil
}

// OpenPositions returns non-flat positions keyed by contract name. Gate
// encodes direction in the sign of size.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	var positions []struct {
		Contract      string          `json:"contract"`
		Size          int64           `json:"size"`
		Leverage      string          `json:"leverage"`
		EntryPrice    string          `json:"entry_price"`
		MarkPrice     string          `json:"mark_price"`
		UnrealisedPnl string          `json:"unrealised_pnl"`
		Mode          json.RawMessage `json:"mode"`
	}
	if err := a.request(ctx, http.MethodGet, "/futures/"+settle+"/positions", nil, nil, true, &positions); err != nil {
		return nil, fmt.Errorf("gate: positions: %w", err)
	}

	out := make(map[string]domain.PositionInfo)
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		side := domain.SideLong
		if p.Size < 0 {
			side = domain.SideShort
		}
		out[p.Contract] = domain.PositionInfo{
			Symbol:        p.Contract,
			Side:          side,
			Size:          decimal.NewFromInt(p.Size).Abs(),
			EntryPrice:    parseOrZero(p.EntryPrice),
			MarkPrice:     parseOrZero(p.MarkPrice),
			Leverage:      parseOrZero(p.Leverage),
			UnrealizedPnL: parseOrZero(p.UnrealisedPnl),
		}
	}
	return out, nil
}

// OpenPosition sets leverage then places the order. Gate wants a signed
// integer size: positive opens long, negative opens short.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	contract := nativeContract(params.Symbol)

	if !params.Leverage.IsZero() {
		lev := map[string]any{"leverage": params.Leverage.String()}
		if err := a.request(ctx, http.MethodPost, "/futures/"+settle+"/positions/"+contract+"/leverage", nil, lev, true, nil); err != nil {
			return "", fmt.Errorf("gate: set leverage %s: %w", contract, err)
		}
	}

	size := params.Size.IntPart()
	if size == 0 {
		size = 1
	}
	if params.Side == domain.SideShort {
		size = -size
	}

	order := map[string]any{
		"contract": contract,
		"size":     size,
		"tif":      "gtc",
	}
	switch params.OrderType {
	case domain.OrderTypeMarket:
		// Price 0 with IOC is Gate's market order form.
		order["price"] = "0"
		order["tif"] = "ioc"
	default:
		price := params.Price
		if price.IsZero() {
			quote, err := a.lastPrice(ctx, contract)
			if err != nil {
				return "", err
			}
			price = quote
		}
		order["price"] = price.String()
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := a.request(ctx, http.MethodPost, "/futures/"+settle+"/orders", nil, order, true, &resp); err != nil {
		return "", fmt.Errorf("gate: create order %s: %w", contract, err)
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

// ClosePosition flattens the contract with a close-position IOC order.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	contract := nativeContract(symbol)

	positions, err := a.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("gate: close %s: %w", contract, err)
	}
	if _, ok := positions[contract]; !ok {
		return fmt.Errorf("gate: close %s: %w", contract, domain.ErrPositionNotFound)
	}

	order := map[string]any{
		"contract": contract,
		"size":     0,
		"price":    "0",
		"tif":      "ioc",
		"close":    true,
	}
	if err := a.request(ctx, http.MethodPost, "/futures/"+settle+"/orders", nil, order, true, nil); err != nil {
		return fmt.Errorf("gate: close %s: %w", contract, err)
	}
	return nil
}

func (a *Adapter) lastPrice(ctx context.Context, contract string) (decimal.Decimal, error) {
	params := url.Values{"contract": {contract}}
	var tickers []struct {
		Last string `json:"last"`
	}
	if err := a.request(ctx, http.MethodGet, "/futures/"+settle+"/tickers", params, nil, false, &tickers); err != nil {
		return decimal.Zero, fmt.Errorf("gate: ticker %s: %w", contract, err)
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("gate: ticker %s: not listed", contract)
	}
	return decimal.NewFromString(tickers[0].Last)
}

// request issues one REST call. Signed requests carry Gate's v4 signature:
// HMAC-SHA512 over "method\npath\nquery\nsha512(body)\ntimestamp".
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

	full := a.baseURL + apiPrefix + path
	if query != "" {
		full += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, full, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if signed {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		bodyHash := sha512.Sum512(payload)
		toSign := strings.Join([]string{
			method,
			apiPrefix + path,
			query,
			hex.EncodeToString(bodyHash[:]),
			ts,
		}, "\n")
		mac := hmac.New(sha512.New, []byte(a.apiSecret))
		mac.Write([]byte(toSign))

		req.Header.Set("KEY", a.apiKey)
		req.Header.Set("Timestamp", ts)
		req.Header.Set("SIGN", hex.EncodeToString(mac.Sum(nil)))
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
		var apiErr struct {
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if resp.StatusCode == http.StatusBadRequest && apiErr.Label != "" {
			return fmt.Errorf("%w: %s: %s", domain.ErrOrderRejected, apiErr.Label, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d: %s", domain.ErrAdapterUnavailable, resp.StatusCode, apiErr.Message)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func parseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Package dydx implements the venue adapter for dYdX v4 over the indexer
// REST API. Reads are keyed by wallet address; orders go through the
// configured trading gateway, which signs on the chain side.
package dydx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

const defaultBaseURL = "https://indexer.dydx.trade/v4"

// Adapter is the dYdX venue adapter.
type Adapter struct {
	baseURL    string
	wallet     string
	httpClient *http.Client
}

// FromCredentials builds the adapter from a credential map. Recognized keys:
// wallet (required for account reads), base_url (optional).
func FromCredentials(creds map[string]string) (exchange.Adapter, error) {
	base := creds["base_url"]
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		baseURL:    strings.TrimRight(base, "/"),
		wallet:     creds["wallet"],
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Name returns the venue id.
func (a *Adapter) Name() string { return "dydx" }

// nativeMarket maps a canonical base ticker to dYdX market naming.
func nativeMarket(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "-") {
		return s
	}
	return s + "-USD"
}

// Quotes lists every perpetual market with its oracle price and next funding
// rate (already a fraction per interval).
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	var resp struct {
		Markets map[string]struct {
			Ticker          string `json:"ticker"`
			OraclePrice     string `json:"oraclePrice"`
			NextFundingRate string `json:"nextFundingRate"`
			Status          string `json:"status"`
		} `json:"markets"`
	}
	if err := a.get(ctx, "/perpetualMarkets", nil, &resp); err != nil {
		return nil, fmt.Errorf("dydx: perpetual markets: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]domain.InstrumentQuote, 0, len(resp.Markets))
	for ticker, m := range resp.Markets {
		if m.Status != "" && m.Status != "ACTIVE" {
			continue
		}
		price, err := decimal.NewFromString(m.OraclePrice)
		if err != nil || price.IsZero() {
			continue
		}
		funding, err := decimal.NewFromString(m.NextFundingRate)
		if err != nil {
			funding = decimal.Zero
		}
		name := m.Ticker
		if name == "" {
			name = ticker
		}
		quotes = append(quotes, domain.InstrumentQuote{
			Exchange:     a.Name(),
			NativeSymbol: name,
			Price:        price,
			FundingRate:  funding,
			ObservedAt:   now,
		})
	}
	return quotes, nil
}

// FundingRate returns the next funding rate for one market.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	market := nativeMarket(symbol)
	params := url.Values{"ticker": {market}}
	var resp struct {
		Markets map[string]struct {
			NextFundingRate string `json:"nextFundingRate"`
		} `json:"markets"`
	}
	if err := a.get(ctx, "/perpetualMarkets", params, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("dydx: funding rate %s: %w", market, err)
	}
	m, ok := resp.Markets[market]
	if !ok {
		return decimal.Zero, fmt.Errorf("dydx: funding rate %s: market not listed", market)
	}
	rate, err := decimal.NewFromString(m.NextFundingRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dydx: funding rate %s: parse %q: %w", market, m.NextFundingRate, err)
	}
	return rate, nil
}

// Balance returns subaccount 0 equity.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	if a.wallet == "" {
		return decimal.Zero, fmt.Errorf("dydx: balance: %w: no wallet configured", domain.ErrAdapterUnavailable)
	}
	var resp struct {
		Subaccount struct {
			Equity string `json:"equity"`
		} `json:"subaccount"`
	}
	path := "/addresses/" + url.PathEscape(a.wallet) + "/subaccountNumber/0"
	if err := a.get(ctx, path, nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("dydx: subaccount: %w", err)
	}
	equity, err := decimal.NewFromString(resp.Subaccount.Equity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("dydx: subaccount: parse equity %q: %w", resp.Subaccount.Equity, err)
	}
	return equity, nil
}

// OpenPositions returns open perpetual positions keyed by market ticker.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	if a.wallet == "" {
		return map[string]domain.PositionInfo{}, nil
	}
	params := url.Values{
		"address":          {a.wallet},
		"subaccountNumber": {"0"},
		"status":           {"OPEN"},
	}
	var resp struct {
		Positions []struct {
			Market        string `json:"market"`
			Side          string `json:"side"` // LONG or SHORT
			Size          string `json:"size"`
			EntryPrice    string `json:"entryPrice"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"positions"`
	}
	if err := a.get(ctx, "/perpetualPositions", params, &resp); err != nil {
		return nil, fmt.Errorf("dydx: positions: %w", err)
	}

	out := make(map[string]domain.PositionInfo)
	for _, p := range resp.Positions {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || size.IsZero() {
			continue
		}
		side := domain.SideLong
		if strings.EqualFold(p.Side, "SHORT") {
			side = domain.SideShort
		}
		out[p.Market] = domain.PositionInfo{
			Symbol:        p.Market,
			Side:          side,
			Size:          size.Abs(),
			EntryPrice:    parseOrZero(p.EntryPrice),
			UnrealizedPnL: parseOrZero(p.UnrealizedPnl),
		}
	}
	return out, nil
}

// OpenPosition is not supported on this adapter: dYdX v4 orders are Cosmos
// transactions signed by a validator-side gateway, not indexer calls. The
// venue still participates fully in quote aggregation and detection.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	return "", fmt.Errorf("dydx: open %s: %w: venue is read-only, orders require a chain signer",
		nativeMarket(params.Symbol), domain.ErrOrderRejected)
}

// ClosePosition is not supported; see OpenPosition.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	return fmt.Errorf("dydx: close %s: %w: venue is read-only, orders require a chain signer",
		nativeMarket(symbol), domain.ErrOrderRejected)
}

func (a *Adapter) get(ctx context.Context, path string, params url.Values, out any) error {
	full := a.baseURL + path
	if params != nil && len(params) > 0 {
		full += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

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
		return fmt.Errorf("%w: status %d", domain.ErrAdapterUnavailable, resp.StatusCode)
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

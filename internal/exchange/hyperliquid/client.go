// Package hyperliquid implements the venue adapter for Hyperliquid
// perpetuals. Market data and orders go through the official SDK; account
// state comes from the info endpoint directly.
package hyperliquid

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	hl "github.com/sonirico/go-hyperliquid"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

const defaultBaseURL = "https://api.hyperliquid.xyz"

// Adapter is the Hyperliquid venue adapter.
type Adapter struct {
	baseURL    string
	wallet     string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client

	info *hl.Info

	mu   sync.Mutex
	exch *hl.Exchange
	meta *hl.Meta
}

// FromCredentials builds the adapter from a credential map. Recognized keys:
// private_key (hex, enables trading), wallet (defaults to the key's
// address), base_url (optional).
func FromCredentials(creds map[string]string) (exchange.Adapter, error) {
	base := creds["base_url"]
	if base == "" {
		base = defaultBaseURL
	}
	a := &Adapter{
		baseURL:    strings.TrimRight(base, "/"),
		wallet:     creds["wallet"],
		httpClient: &http.Client{Timeout: 15 * time.Second},
		info:       hl.NewInfo(context.Background(), base, true, nil, nil),
	}
	if pkHex := strings.TrimPrefix(creds["private_key"], "0x"); pkHex != "" {
		pk, err := crypto.HexToECDSA(pkHex)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: parse private key: %w", err)
		}
		a.privateKey = pk
		if a.wallet == "" {
			a.wallet = crypto.PubkeyToAddress(pk.PublicKey).Hex()
		}
	}
	return a, nil
}

// Name returns the venue id.
func (a *Adapter) Name() string { return "hyperliquid" }

// nativeCoin maps a canonical base ticker to Hyperliquid's bare coin naming.
func nativeCoin(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.TrimSuffix(s, "-USD")
	s = strings.TrimSuffix(s, "USD")
	return s
}

// Quotes returns one quote per listed perp, mid price and current hourly
// funding fraction.
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	state, err := a.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: meta and asset ctxs: %w", domainUnavailable(err))
	}

	now := time.Now().UTC()
	quotes := make([]domain.InstrumentQuote, 0, len(state.Universe))
	for i, asset := range state.Universe {
		if i >= len(state.Ctxs) {
			break
		}
		c := state.Ctxs[i]
		price, err := decimal.NewFromString(c.MidPx)
		if err != nil || price.IsZero() {
			continue
		}
		funding, err := decimal.NewFromString(c.Funding)
		if err != nil {
			funding = decimal.Zero
		}
		quotes = append(quotes, domain.InstrumentQuote{
			Exchange:     a.Name(),
			NativeSymbol: asset.Name,
			Price:        price,
			FundingRate:  funding,
			ObservedAt:   now,
		})
	}
	return quotes, nil
}

// FundingRate returns the current funding fraction for one coin.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	coin := nativeCoin(symbol)
	state, err := a.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hyperliquid: funding rate %s: %w", coin, domainUnavailable(err))
	}
	for i, asset := range state.Universe {
		if asset.Name != coin || i >= len(state.Ctxs) {
			continue
		}
		rate, err := decimal.NewFromString(state.Ctxs[i].Funding)
		if err != nil {
			return decimal.Zero, fmt.Errorf("hyperliquid: funding rate %s: parse %q: %w", coin, state.Ctxs[i].Funding, err)
		}
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("hyperliquid: funding rate %s: coin not listed", coin)
}

// clearinghouseState is the slice of the info response the adapter reads.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"`
			EntryPx  string `json:"entryPx"`
			Leverage struct {
				Value json.Number `json:"value"`
			} `json:"leverage"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// Balance returns the account value in USD.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	state, err := a.userState(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hyperliquid: balance: %w", err)
	}
	equity, err := decimal.NewFromString(state.MarginSummary.AccountValue)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hyperliquid: balance: parse %q: %w", state.MarginSummary.AccountValue, err)
	}
	return equity, nil
}

// OpenPositions returns live positions keyed by coin. Direction is the sign
// of szi.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	state, err := a.userState(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: positions: %w", err)
	}

	out := make(map[string]domain.PositionInfo)
	for _, ap := range state.AssetPositions {
		p := ap.Position
		size, err := decimal.NewFromString(p.Szi)
		if err != nil || size.IsZero() {
			continue
		}
		side := domain.SideLong
		if size.IsNegative() {
			side = domain.SideShort
		}
		lev, _ := decimal.NewFromString(p.Leverage.Value.String())
		out[p.Coin] = domain.PositionInfo{
			Symbol:        p.Coin,
			Side:          side,
			Size:          size.Abs(),
			EntryPrice:    parseOrZero(p.EntryPx),
			Leverage:      lev,
			UnrealizedPnL: parseOrZero(p.UnrealizedPnl),
		}
	}
	return out, nil
}

// OpenPosition places a GTC limit order through the SDK's signing client.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	coin := nativeCoin(params.Symbol)
	exch, err := a.signer(ctx)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: open %s: %w", coin, err)
	}

	price := params.Price
	if price.IsZero() {
		mid, err := a.midPrice(ctx, coin)
		if err != nil {
			return "", fmt.Errorf("hyperliquid: open %s: %w", coin, err)
		}
		price = mid
	}

	res, err := exch.Order(ctx, hl.CreateOrderRequest{
		Coin:  coin,
		IsBuy: params.Side == domain.SideLong,
		Size:  params.Size.InexactFloat64(),
		Price: price.InexactFloat64(),
		OrderType: hl.OrderType{
			Limit: &hl.LimitOrderType{Tif: hl.TifGtc},
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: open %s: %w", coin, domainUnavailable(err))
	}
	if res.Error != nil {
		return "", fmt.Errorf("hyperliquid: open %s: %w: %s", coin, domain.ErrOrderRejected, *res.Error)
	}
	switch {
	case res.Filled != nil:
		return strconv.Itoa(res.Filled.Oid), nil
	case res.Resting != nil:
		return strconv.FormatInt(res.Resting.Oid, 10), nil
	}
	return "", fmt.Errorf("hyperliquid: open %s: %w: order neither resting nor filled", coin, domain.ErrOrderRejected)
}

// ClosePosition flattens the coin with a reduce-only order on the opposite
// side, priced through the mid so it fills immediately.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	coin := nativeCoin(symbol)
	exch, err := a.signer(ctx)
	if err != nil {
		return fmt.Errorf("hyperliquid: close %s: %w", coin, err)
	}

	positions, err := a.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("hyperliquid: close %s: %w", coin, err)
	}
	pos, ok := positions[coin]
	if !ok {
		return fmt.Errorf("hyperliquid: close %s: %w", coin, domain.ErrPositionNotFound)
	}

	mid, err := a.midPrice(ctx, coin)
	if err != nil {
		return fmt.Errorf("hyperliquid: close %s: %w", coin, err)
	}
	// Cross the book by one percent so the reduce-only order takes.
	slip := mid.Mul(decimal.NewFromFloat(0.01))
	price := mid.Sub(slip)
	if pos.Side == domain.SideShort {
		price = mid.Add(slip)
	}

	res, err := exch.Order(ctx, hl.CreateOrderRequest{
		Coin:  coin,
		IsBuy: pos.Side == domain.SideShort,
		Size:  pos.Size.InexactFloat64(),
		Price: price.InexactFloat64(),
		OrderType: hl.OrderType{
			Limit: &hl.LimitOrderType{Tif: hl.TifGtc},
		},
		ReduceOnly: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid: close %s: %w", coin, domainUnavailable(err))
	}
	if res.Error != nil {
		return fmt.Errorf("hyperliquid: close %s: %w: %s", coin, domain.ErrOrderRejected, *res.Error)
	}
	return nil
}

// signer lazily builds the SDK trading client; the first call fetches meta.
func (a *Adapter) signer(ctx context.Context) (*hl.Exchange, error) {
	if a.privateKey == nil {
		return nil, fmt.Errorf("%w: no private key configured", domain.ErrOrderRejected)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exch != nil {
		return a.exch, nil
	}
	meta, err := a.info.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch meta: %w", domainUnavailable(err))
	}
	a.meta = meta
	a.exch = hl.NewExchange(ctx, a.privateKey, a.baseURL, meta, "", a.wallet, nil)
	return a.exch, nil
}

func (a *Adapter) midPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	state, err := a.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return decimal.Zero, domainUnavailable(err)
	}
	for i, asset := range state.Universe {
		if asset.Name == coin && i < len(state.Ctxs) {
			return decimal.NewFromString(state.Ctxs[i].MidPx)
		}
	}
	return decimal.Zero, fmt.Errorf("coin %s not listed", coin)
}

// userState fetches clearinghouse state for the configured wallet straight
// from the info endpoint.
func (a *Adapter) userState(ctx context.Context) (*clearinghouseState, error) {
	if a.wallet == "" {
		return nil, fmt.Errorf("%w: no wallet configured", domain.ErrAdapterUnavailable)
	}
	payload, _ := json.Marshal(map[string]string{
		"type": "clearinghouseState",
		"user": a.wallet,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrAdapterUnavailable, resp.StatusCode)
	}
	var state clearinghouseState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode clearinghouse state: %w", err)
	}
	return &state, nil
}

func domainUnavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
}

func parseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

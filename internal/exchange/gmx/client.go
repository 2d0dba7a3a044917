// Package gmx implements the venue adapter for GMX perpetuals on Arbitrum.
// Prices and funding come from the public price API; equity is read from the
// USDC token contract; positions are opened and closed by sending signed
// transactions to the position router.
package gmx

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

const (
	defaultAPIURL = "https://arbitrum-api.gmxinfra.io"
	defaultRouter = "0xb87a436B93fFE9D75c5cFA7bAcFff96430b09868"
	defaultUSDC   = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
)

// positionRouterABI covers the two entrypoints the adapter calls.
const positionRouterABI = `[
  {"name":"createIncreasePosition","type":"function","stateMutability":"payable","inputs":[
    {"name":"_path","type":"address[]"},{"name":"_indexToken","type":"address"},
    {"name":"_amountIn","type":"uint256"},{"name":"_minOut","type":"uint256"},
    {"name":"_sizeDelta","type":"uint256"},{"name":"_isLong","type":"bool"},
    {"name":"_acceptablePrice","type":"uint256"},{"name":"_executionFee","type":"uint256"},
    {"name":"_referralCode","type":"bytes32"},{"name":"_callbackTarget","type":"address"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"name":"createDecreasePosition","type":"function","stateMutability":"payable","inputs":[
    {"name":"_path","type":"address[]"},{"name":"_indexToken","type":"address"},
    {"name":"_collateralDelta","type":"uint256"},{"name":"_sizeDelta","type":"uint256"},
    {"name":"_isLong","type":"bool"},{"name":"_receiver","type":"address"},
    {"name":"_acceptablePrice","type":"uint256"},{"name":"_minOut","type":"uint256"},
    {"name":"_executionFee","type":"uint256"},{"name":"_withdrawETH","type":"bool"},
    {"name":"_callbackTarget","type":"address"}],
   "outputs":[{"name":"","type":"bytes32"}]}
]`

// indexTokens maps canonical tickers to Arbitrum index token addresses.
var indexTokens = map[string]string{
	"BTC":  "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", // WBTC
	"ETH":  "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", // WETH
	"LINK": "0xf97f4df75117a78c1A5a0DBb814Af92458539FB4",
	"UNI":  "0xFa7F8980b0f1E64A2062791cc3b0871572f1F7f0",
}

// tokenDecimals is used to descale API prices, which arrive multiplied by
// 10^(30-decimals).
var tokenDecimals = map[string]int32{
	"BTC": 8, "ETH": 18, "LINK": 18, "UNI": 18,
}

// Adapter is the GMX venue adapter.
type Adapter struct {
	apiURL     string
	httpClient *http.Client

	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	wallet     common.Address
	router     common.Address
	usdc       common.Address
	routerABI  abi.ABI
	chainID    *big.Int

	// The position router settles keeper-side, so reads lag writes. The
	// adapter keeps its own book of positions it opened.
	mu   sync.Mutex
	book map[string]domain.PositionInfo
}

// FromCredentials builds the adapter from a credential map. Recognized keys:
// rpc_url (required for balance and trading), private_key, wallet,
// position_router, usdc_address, api_url.
func FromCredentials(creds map[string]string) (exchange.Adapter, error) {
	apiURL := creds["api_url"]
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	router := creds["position_router"]
	if router == "" {
		router = defaultRouter
	}
	usdc := creds["usdc_address"]
	if usdc == "" {
		usdc = defaultUSDC
	}

	parsed, err := abi.JSON(strings.NewReader(positionRouterABI))
	if err != nil {
		return nil, fmt.Errorf("gmx: parse router abi: %w", err)
	}

	a := &Adapter{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		router:     common.HexToAddress(router),
		usdc:       common.HexToAddress(usdc),
		routerABI:  parsed,
		book:       make(map[string]domain.PositionInfo),
	}

	if rpc := creds["rpc_url"]; rpc != "" {
		client, err := ethclient.Dial(rpc)
		if err != nil {
			return nil, fmt.Errorf("gmx: dial rpc: %w", err)
		}
		a.eth = client
	}
	if pkHex := strings.TrimPrefix(creds["private_key"], "0x"); pkHex != "" {
		pk, err := ethcrypto.HexToECDSA(pkHex)
		if err != nil {
			return nil, fmt.Errorf("gmx: parse private key: %w", err)
		}
		a.privateKey = pk
		a.wallet = ethcrypto.PubkeyToAddress(pk.PublicKey)
	}
	if w := creds["wallet"]; w != "" {
		a.wallet = common.HexToAddress(w)
	}
	return a, nil
}

// Name returns the venue id.
func (a *Adapter) Name() string { return "gmx" }

// Quotes returns one quote per tradable index token. API prices arrive as
// 1e30-scaled integers; funding factors are per second at the same scale and
// are converted to a per-hour fraction.
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	var tickers []struct {
		TokenSymbol string `json:"tokenSymbol"`
		MinPrice    string `json:"minPrice"`
		MaxPrice    string `json:"maxPrice"`
	}
	if err := a.getJSON(ctx, "/prices/tickers", &tickers); err != nil {
		return nil, fmt.Errorf("gmx: tickers: %w", err)
	}

	funding, err := a.fundingBySymbol(ctx)
	if err != nil {
		// Funding is an enrichment; prices alone still make a usable quote.
		funding = map[string]decimal.Decimal{}
	}

	now := time.Now().UTC()
	quotes := make([]domain.InstrumentQuote, 0, len(tickers))
	for _, t := range tickers {
		sym := normalizeToken(t.TokenSymbol)
		decimals, ok := tokenDecimals[sym]
		if !ok {
			continue
		}
		price := descalePrice(t.MinPrice, t.MaxPrice, decimals)
		if price.IsZero() {
			continue
		}
		quotes = append(quotes, domain.InstrumentQuote{
			Exchange:     a.Name(),
			NativeSymbol: sym,
			Price:        price,
			FundingRate:  funding[sym],
			ObservedAt:   now,
		})
	}
	return quotes, nil
}

// FundingRate returns the current per-hour funding fraction for one token.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := normalizeToken(symbol)
	funding, err := a.fundingBySymbol(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gmx: funding rate %s: %w", sym, err)
	}
	rate, ok := funding[sym]
	if !ok {
		return decimal.Zero, fmt.Errorf("gmx: funding rate %s: token not listed", sym)
	}
	return rate, nil
}

var oneE30 = decimal.New(1, 30)

func (a *Adapter) fundingBySymbol(ctx context.Context) (map[string]decimal.Decimal, error) {
	var markets []struct {
		IndexTokenSymbol        string `json:"indexTokenSymbol"`
		FundingFactorPerSecond  string `json:"fundingFactorPerSecond"`
		LongsPayShorts          bool   `json:"longsPayShorts"`
	}
	if err := a.getJSON(ctx, "/markets/info", &markets); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(markets))
	for _, m := range markets {
		factor, err := decimal.NewFromString(m.FundingFactorPerSecond)
		if err != nil {
			continue
		}
		hourly := factor.Div(oneE30).Mul(decimal.NewFromInt(3600))
		if !m.LongsPayShorts {
			hourly = hourly.Neg()
		}
		out[normalizeToken(m.IndexTokenSymbol)] = hourly
	}
	return out, nil
}

// Balance returns the wallet's USDC balance via an eth_call to balanceOf.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	if a.eth == nil {
		return decimal.Zero, fmt.Errorf("gmx: balance: %w: no rpc configured", domain.ErrAdapterUnavailable)
	}
	// balanceOf(address) selector followed by the padded wallet address.
	data := append(common.Hex2Bytes("70a08231"), common.LeftPadBytes(a.wallet.Bytes(), 32)...)
	raw, err := a.eth.CallContract(ctx, ethereum.CallMsg{To: &a.usdc, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gmx: balance: %w: %v", domain.ErrAdapterUnavailable, err)
	}
	balance := new(big.Int).SetBytes(raw)
	// USDC has 6 decimals.
	return decimal.NewFromBigInt(balance, -6), nil
}

// OpenPositions returns the adapter's own book of router-opened positions.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]domain.PositionInfo, len(a.book))
	for sym, pos := range a.book {
		out[sym] = pos
	}
	return out, nil
}

// OpenPosition sends a signed createIncreasePosition transaction and returns
// its hash. Collateral is USDC, swapped into the index token for longs.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	sym := normalizeToken(params.Symbol)
	indexAddr, ok := indexTokens[sym]
	if !ok {
		return "", fmt.Errorf("gmx: open %s: %w: token not tradable here", sym, domain.ErrOrderRejected)
	}
	if a.eth == nil || a.privateKey == nil {
		return "", fmt.Errorf("gmx: open %s: %w: rpc and private key required", sym, domain.ErrOrderRejected)
	}

	price, err := a.currentPrice(ctx, sym)
	if err != nil {
		return "", fmt.Errorf("gmx: open %s: %w", sym, err)
	}

	isLong := params.Side == domain.SideLong
	leverage := params.Leverage
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}

	notional := params.Size.Mul(price)
	collateral := notional.Div(leverage)
	amountIn := collateral.Shift(6).BigInt()   // USDC, 1e6
	sizeDelta := notional.Shift(30).BigInt()   // USD, 1e30
	acceptable := slippagePrice(price, isLong) // 1e30

	index := common.HexToAddress(indexAddr)
	path := []common.Address{a.usdc}
	if isLong {
		path = append(path, index)
	}

	input, err := a.routerABI.Pack("createIncreasePosition",
		path, index, amountIn, big.NewInt(0), sizeDelta, isLong,
		acceptable, executionFee(), [32]byte{}, common.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("gmx: open %s: pack: %w", sym, err)
	}

	txHash, err := a.sendTx(ctx, input, executionFee())
	if err != nil {
		return "", fmt.Errorf("gmx: open %s: %w", sym, err)
	}

	a.mu.Lock()
	a.book[sym] = domain.PositionInfo{
		Symbol:     sym,
		Side:       params.Side,
		Size:       params.Size,
		EntryPrice: price,
		Leverage:   leverage,
	}
	a.mu.Unlock()
	return txHash, nil
}

// ClosePosition sends a full-size createDecreasePosition for the tracked
// position.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	sym := normalizeToken(symbol)

	a.mu.Lock()
	pos, ok := a.book[sym]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("gmx: close %s: %w", sym, domain.ErrPositionNotFound)
	}
	if a.eth == nil || a.privateKey == nil {
		return fmt.Errorf("gmx: close %s: %w: rpc and private key required", sym, domain.ErrOrderRejected)
	}

	price, err := a.currentPrice(ctx, sym)
	if err != nil {
		return fmt.Errorf("gmx: close %s: %w", sym, err)
	}

	isLong := pos.Side == domain.SideLong
	sizeDelta := pos.Size.Mul(pos.EntryPrice).Shift(30).BigInt()
	acceptable := slippagePrice(price, !isLong)

	index := common.HexToAddress(indexTokens[sym])
	path := []common.Address{index}
	if !isLong {
		path = []common.Address{a.usdc}
	}

	input, err := a.routerABI.Pack("createDecreasePosition",
		path, index, big.NewInt(0), sizeDelta, isLong, a.wallet,
		acceptable, big.NewInt(0), executionFee(), false, common.Address{},
	)
	if err != nil {
		return fmt.Errorf("gmx: close %s: pack: %w", sym, err)
	}

	if _, err := a.sendTx(ctx, input, executionFee()); err != nil {
		return fmt.Errorf("gmx: close %s: %w", sym, err)
	}

	a.mu.Lock()
	delete(a.book, sym)
	a.mu.Unlock()
	return nil
}

// sendTx signs and broadcasts a call to the position router carrying the
// execution fee as tx value.
func (a *Adapter) sendTx(ctx context.Context, input []byte, value *big.Int) (string, error) {
	if a.chainID == nil {
		id, err := a.eth.ChainID(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: chain id: %v", domain.ErrAdapterUnavailable, err)
		}
		a.chainID = id
	}

	nonce, err := a.eth.PendingNonceAt(ctx, a.wallet)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", domain.ErrAdapterUnavailable, err)
	}
	gasPrice, err := a.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", domain.ErrAdapterUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.router,
		Value:    value,
		Gas:      1_500_000,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := a.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: send tx: %v", domain.ErrOrderRejected, err)
	}
	return signed.Hash().Hex(), nil
}

func (a *Adapter) currentPrice(ctx context.Context, sym string) (decimal.Decimal, error) {
	quotes, err := a.Quotes(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, q := range quotes {
		if q.NativeSymbol == sym {
			return q.Price, nil
		}
	}
	return decimal.Zero, fmt.Errorf("token %s not listed", sym)
}

func (a *Adapter) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
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
		return fmt.Errorf("%w: status %d", domain.ErrAdapterUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// descalePrice converts 1e30-scaled min/max prices to a human mid price.
func descalePrice(minStr, maxStr string, decimals int32) decimal.Decimal {
	minP, err1 := decimal.NewFromString(minStr)
	maxP, err2 := decimal.NewFromString(maxStr)
	if err1 != nil || err2 != nil {
		return decimal.Zero
	}
	mid := minP.Add(maxP).Div(decimal.NewFromInt(2))
	return mid.Shift(decimals - 30)
}

// slippagePrice pads the reference price by 1% in the direction that lets
// the keeper fill.
func slippagePrice(price decimal.Decimal, up bool) *big.Int {
	factor := decimal.NewFromFloat(0.99)
	if up {
		factor = decimal.NewFromFloat(1.01)
	}
	return price.Mul(factor).Shift(30).BigInt()
}

func executionFee() *big.Int {
	// 0.0002 ETH, comfortably above the router minimum.
	return big.NewInt(200_000_000_000_000)
}

// wrappedAliases folds wrapped token symbols onto their canonical tickers.
var wrappedAliases = map[string]string{
	"WBTC": "BTC", "WBTC.B": "BTC", "WETH": "ETH",
}

func normalizeToken(symbol string) string {
	s := strings.ToUpper(symbol)
	if alias, ok := wrappedAliases[s]; ok {
		return alias
	}
	return s
}

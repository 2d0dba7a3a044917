// Package paper implements a simulated in-memory venue. It fills every
// order instantly at the quoted price and is used for dry runs and tests;
// no network traffic leaves the process.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
)

// Adapter is the simulated venue. Quotes are seeded from configuration or
// set programmatically by tests.
type Adapter struct {
	name string

	mu        sync.Mutex
	balance   decimal.Decimal
	quotes    map[string]domain.InstrumentQuote
	positions map[string]domain.PositionInfo
}

// FromCredentials builds the venue. Recognized keys: name (defaults to
// "paper"), balance (starting equity, defaults to 10000).
func FromCredentials(creds map[string]string) (exchange.Adapter, error) {
	name := creds["name"]
	if name == "" {
		name = "paper"
	}
	balance := decimal.NewFromInt(10000)
	if b := creds["balance"]; b != "" {
		parsed, err := decimal.NewFromString(b)
		if err != nil {
			return nil, fmt.Errorf("paper: parse balance %q: %w", b, err)
		}
		balance = parsed
	}
	return New(name, balance), nil
}

// New creates a paper venue with the given id and starting equity.
func New(name string, balance decimal.Decimal) *Adapter {
	return &Adapter{
		name:      name,
		balance:   balance,
		quotes:    make(map[string]domain.InstrumentQuote),
		positions: make(map[string]domain.PositionInfo),
	}
}

// Name returns the venue id.
func (a *Adapter) Name() string { return a.name }

// SetQuote seeds or replaces the venue's quote for a symbol.
func (a *Adapter) SetQuote(symbol string, price, funding decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes[strings.ToUpper(symbol)] = domain.InstrumentQuote{
		Exchange:     a.name,
		NativeSymbol: strings.ToUpper(symbol),
		Price:        price,
		FundingRate:  funding,
	}
}

// Quotes returns the seeded quotes.
func (a *Adapter) Quotes(ctx context.Context) ([]domain.InstrumentQuote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.InstrumentQuote, 0, len(a.quotes))
	for _, q := range a.quotes {
		out = append(out, q)
	}
	return out, nil
}

// FundingRate returns the seeded funding rate for a symbol.
func (a *Adapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.quotes[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper: funding rate %s: symbol not seeded", symbol)
	}
	return q.FundingRate, nil
}

// Balance returns the simulated equity.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

// OpenPositions returns the simulated book.
func (a *Adapter) OpenPositions(ctx context.Context) (map[string]domain.PositionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]domain.PositionInfo, len(a.positions))
	for sym, pos := range a.positions {
		out[sym] = pos
	}
	return out, nil
}

// OpenPosition fills instantly at the seeded price, or the order price for
// symbols without a seeded quote.
func (a *Adapter) OpenPosition(ctx context.Context, params domain.OrderParams) (string, error) {
	sym := strings.ToUpper(params.Symbol)

	a.mu.Lock()
	defer a.mu.Unlock()

	price := params.Price
	if q, ok := a.quotes[sym]; ok {
		price = q.Price
	}
	if price.IsZero() {
		return "", fmt.Errorf("paper: open %s: %w: no price available", sym, domain.ErrOrderRejected)
	}

	a.positions[sym] = domain.PositionInfo{
		Symbol:     sym,
		Side:       params.Side,
		Size:       params.Size,
		EntryPrice: price,
		MarkPrice:  price,
		Leverage:   params.Leverage,
	}
	return uuid.New().String(), nil
}

// ClosePosition removes the position from the book.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) error {
	sym := strings.ToUpper(symbol)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.positions[sym]; !ok {
		return fmt.Errorf("paper: close %s: %w", sym, domain.ErrPositionNotFound)
	}
	delete(a.positions, sym)
	return nil
}

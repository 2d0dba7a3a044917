// Package feed produces one consistent market snapshot per aggregation cycle
// by fanning out to every configured exchange adapter under a shared global
// rate floor.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
	"github.com/levmarch/fundarb/internal/symbol"
)

// Config holds aggregation-cycle parameters.
type Config struct {
	// RateFloor is the minimum interval between cycle starts, shared across
	// all venues combined. Upstream APIs throttle aggressively; one
	// conservative global floor is the backpressure mechanism.
	RateFloor time.Duration
	// FetchTimeout bounds each individual venue fetch so a slow exchange
	// never blocks the others.
	FetchTimeout time.Duration
	// MinExchanges is the quorum below which a cycle is declared unusable.
	MinExchanges int
}

// Aggregator fans out to all configured adapters concurrently and merges the
// per-venue results into an ExchangeSnapshot. The limiter is the only state
// shared across cycles; its token is taken before the fan-out starts so
// overlapping callers cannot bypass the floor.
type Aggregator struct {
	adapters []exchange.Adapter
	limiter  *rate.Limiter
	cfg      Config
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator over the given adapters. Adapters are
// kept in sorted-by-name order so result slots and log output are stable.
func NewAggregator(adapters []exchange.Adapter, cfg Config, logger *slog.Logger) *Aggregator {
	sorted := make([]exchange.Adapter, len(adapters))
	copy(sorted, adapters)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	floor := cfg.RateFloor
	if floor <= 0 {
		floor = time.Nanosecond
	}
	return &Aggregator{
		adapters: sorted,
		limiter:  rate.NewLimiter(rate.Every(floor), 1),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

// Exchanges returns the venue ids this aggregator polls, in slot order.
func (a *Aggregator) Exchanges() []string {
	names := make([]string, len(a.adapters))
	for i, ad := range a.adapters {
		names[i] = ad.Name()
	}
	return names
}

// Snapshot runs one aggregation cycle. It blocks until the global rate floor
// allows a new cycle, then fetches every venue concurrently, each under its
// own timeout. Venue failures are absorbed here: a failed or timed-out venue
// is absent from the snapshot, never an error. Only a quorum shortfall is
// reported, as an empty snapshot alongside domain.ErrInsufficientData, which
// callers treat as a valid no-data cycle.
func (a *Aggregator) Snapshot(ctx context.Context) (domain.ExchangeSnapshot, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("aggregator: rate floor wait: %w", err)
	}

	started := time.Now().UTC()
	results := make([][]domain.InstrumentQuote, len(a.adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, ad := range a.adapters {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.cfg.FetchTimeout)
			defer cancel()

			quotes, err := ad.Quotes(fctx)
			if err != nil {
				a.logger.Warn("exchange fetch failed, omitting from cycle",
					slog.String("exchange", ad.Name()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			for j := range quotes {
				if quotes[j].Canonical == "" {
					quotes[j].Canonical = symbol.Canonical(quotes[j].NativeSymbol)
				}
				if quotes[j].ObservedAt.IsZero() {
					quotes[j].ObservedAt = time.Now().UTC()
				}
			}
			// Each task owns exactly one slot; no result is merged until
			// every task has returned.
			results[i] = quotes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregator: fan-out: %w", err)
	}

	snapshot := make(domain.ExchangeSnapshot, len(a.adapters))
	for i, quotes := range results {
		if quotes == nil {
			continue
		}
		snapshot[a.adapters[i].Name()] = quotes
	}

	elapsed := time.Since(started)
	if len(snapshot) < a.cfg.MinExchanges {
		a.logger.Warn("aggregation cycle below exchange quorum",
			slog.Int("responded", len(snapshot)),
			slog.Int("minimum", a.cfg.MinExchanges),
			slog.Duration("elapsed", elapsed),
		)
		return domain.ExchangeSnapshot{}, fmt.Errorf(
			"aggregator: %d of %d exchanges responded (minimum %d): %w",
			len(snapshot), len(a.adapters), a.cfg.MinExchanges, domain.ErrInsufficientData,
		)
	}

	a.logger.Debug("aggregation cycle complete",
		slog.Int("exchanges", len(snapshot)),
		slog.Int("quotes", snapshot.QuoteCount()),
		slog.Duration("elapsed", elapsed),
	)
	return snapshot, nil
}

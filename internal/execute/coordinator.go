// Package execute opens and closes paired long/short hedges across two
// venues, with compensating unwinds on partial failure. The long leg always
// goes first; its result gates whether the short leg is attempted at all.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
	"github.com/levmarch/fundarb/internal/notify"
)

// Config holds execution parameters.
type Config struct {
	// OrderSize is the per-leg position size in base units.
	OrderSize decimal.Decimal
	// Leverage applied to both legs.
	Leverage decimal.Decimal
	// CloseRetries bounds how many times the remaining leg of a partially
	// closed hedge is retried before escalating to manual intervention.
	CloseRetries int
	// CloseRetryDelay spaces those retries.
	CloseRetryDelay time.Duration
}

// Coordinator owns hedge units for the lifetime of each open pair. It is the
// only mutator of a Hedge after creation.
type Coordinator struct {
	adapters map[string]exchange.Adapter
	cfg      Config
	store    domain.HedgeStore
	notifier *notify.Notifier
	logger   *slog.Logger

	// mu guards the hedge map and the mutable fields of every tracked hedge
	// (State, Reason, ClosedAt, leg OrderID and Open flags), so Open can copy
	// units while an execution is mid-flight.
	mu     sync.Mutex
	hedges map[string]*domain.Hedge // by hedge ID
}

// NewCoordinator creates a Coordinator over the given adapters, keyed by
// venue id. store and notifier may be nil.
func NewCoordinator(adapters map[string]exchange.Adapter, cfg Config, store domain.HedgeStore, notifier *notify.Notifier, logger *slog.Logger) *Coordinator {
	if cfg.CloseRetries <= 0 {
		cfg.CloseRetries = 3
	}
	if cfg.CloseRetryDelay <= 0 {
		cfg.CloseRetryDelay = 2 * time.Second
	}
	return &Coordinator{
		adapters: adapters,
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "coordinator")),
		hedges:   make(map[string]*domain.Hedge),
	}
}

// Execute opens a hedged pair for the opportunity: long leg on ExchangeLong,
// then short leg on ExchangeShort. Any long-leg failure stops before the
// short is attempted. A short-leg failure triggers a mandatory compensating
// close of the live long leg; if that unwind itself fails the error wraps
// domain.ErrCriticalUnwind and the hedge is left for manual intervention,
// since automatic retries on a half-hedged book compound exposure.
//
// The duplicate guard re-checks live positions on both venues immediately
// before the long leg. There is no cross-exchange lock, so a concurrent
// manual trade can still race past the check; that narrow window is accepted.
//
// The returned hedge is a detached copy. The tracked unit keeps evolving
// through Close and is observable via Open.
func (c *Coordinator) Execute(ctx context.Context, opp domain.ArbitrageOpportunity) (*domain.Hedge, error) {
	longAdapter, ok := c.adapters[opp.ExchangeLong]
	if !ok {
		return nil, fmt.Errorf("execute: unknown long exchange %q", opp.ExchangeLong)
	}
	shortAdapter, ok := c.adapters[opp.ExchangeShort]
	if !ok {
		return nil, fmt.Errorf("execute: unknown short exchange %q", opp.ExchangeShort)
	}

	if err := c.guardDuplicate(ctx, opp, longAdapter, shortAdapter); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	hedge := &domain.Hedge{
		ID:        uuid.New().String(),
		Canonical: opp.Canonical,
		Long: domain.HedgeLeg{
			Exchange: opp.ExchangeLong,
			Symbol:   opp.Canonical,
			Side:     domain.SideLong,
			Size:     c.cfg.OrderSize,
			Price:    opp.PriceLong,
		},
		Short: domain.HedgeLeg{
			Exchange: opp.ExchangeShort,
			Symbol:   opp.Canonical,
			Side:     domain.SideShort,
			Size:     c.cfg.OrderSize,
			Price:    opp.PriceShort,
		},
		State:    domain.HedgeIdle,
		Source:   opp,
		OpenedAt: now,
	}
	c.track(hedge)

	log := c.logger.With(
		slog.String("hedge_id", hedge.ID),
		slog.String("symbol", opp.Canonical),
		slog.String("long", opp.ExchangeLong),
		slog.String("short", opp.ExchangeShort),
	)

	// Long leg.
	c.transition(ctx, hedge, domain.HedgeLongPending, "")
	longID, err := longAdapter.OpenPosition(ctx, domain.OrderParams{
		Symbol:    c.nativeSymbol(opp.Canonical),
		Side:      domain.SideLong,
		Size:      c.cfg.OrderSize,
		Leverage:  c.cfg.Leverage,
		OrderType: domain.OrderTypeLimit,
	})
	if err != nil {
		c.transition(ctx, hedge, domain.HedgeFailed, fmt.Sprintf("long leg: %v", err))
		c.untrack(hedge.ID)
		log.Error("long leg failed, no exposure taken", slog.String("error", err.Error()))
		return c.detach(hedge), fmt.Errorf("execute %s: long leg on %s: %w", opp.Canonical, opp.ExchangeLong, err)
	}
	c.mu.Lock()
	hedge.Long.OrderID = longID
	hedge.Long.Open = true
	c.mu.Unlock()
	log.Info("long leg open", slog.String("order_id", longID), slog.String("size", c.cfg.OrderSize.String()))

	// Short leg.
	c.transition(ctx, hedge, domain.HedgeBothPending, "")
	shortID, err := shortAdapter.OpenPosition(ctx, domain.OrderParams{
		Symbol:    c.nativeSymbol(opp.Canonical),
		Side:      domain.SideShort,
		Size:      c.cfg.OrderSize,
		Leverage:  c.cfg.Leverage,
		OrderType: domain.OrderTypeLimit,
	})
	if err != nil {
		log.Error("short leg failed with long leg live, unwinding",
			slog.String("error", err.Error()),
		)
		unwindErr := c.unwindLong(ctx, hedge, longAdapter, err)
		return c.detach(hedge), unwindErr
	}
	c.mu.Lock()
	hedge.Short.OrderID = shortID
	hedge.Short.Open = true
	c.mu.Unlock()

	c.transition(ctx, hedge, domain.HedgeHedged, "")
	log.Info("hedge open",
		slog.String("long_order", longID),
		slog.String("short_order", shortID),
	)
	c.notify(ctx, notify.EventHedgeOpened, "Hedge opened", fmt.Sprintf(
		"%s: long %s @ %s / short %s @ %s, size %s",
		opp.Canonical, opp.ExchangeLong, opp.PriceLong, opp.ExchangeShort, opp.PriceShort, c.cfg.OrderSize,
	))
	return c.detach(hedge), nil
}

// detach returns a point-in-time copy so callers never share memory with the
// tracked unit.
func (c *Coordinator) detach(h *domain.Hedge) *domain.Hedge {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *h
	return &cp
}

// unwindLong flattens the live long leg after a short-leg failure, then marks
// the hedge failed. This step is mandatory: a naked long after a failed short
// is the most dangerous state in this domain and is never skipped.
func (c *Coordinator) unwindLong(ctx context.Context, hedge *domain.Hedge, longAdapter exchange.Adapter, cause error) error {
	c.transition(ctx, hedge, domain.HedgeUnwindingLong, fmt.Sprintf("short leg: %v", cause))

	if err := longAdapter.ClosePosition(ctx, c.nativeSymbol(hedge.Canonical)); err != nil {
		reason := fmt.Sprintf("unwind of long %s on %s failed: %v (size %s)",
			hedge.Canonical, hedge.Long.Exchange, err, hedge.Long.Size)
		c.transition(ctx, hedge, domain.HedgeFailed, reason)
		c.notify(ctx, notify.EventCriticalUnwind, "CRITICAL: manual intervention required", reason)
		return fmt.Errorf("execute %s: short leg on %s: %v; %w: %s",
			hedge.Canonical, hedge.Short.Exchange, cause, domain.ErrCriticalUnwind, reason)
	}

	c.mu.Lock()
	hedge.Long.Open = false
	c.mu.Unlock()
	c.transition(ctx, hedge, domain.HedgeFailed, fmt.Sprintf("short leg: %v; long leg unwound", cause))
	c.untrack(hedge.ID)
	c.notify(ctx, notify.EventHedgeFailed, "Hedge failed",
		fmt.Sprintf("%s: short leg on %s rejected, long leg on %s unwound",
			hedge.Canonical, hedge.Short.Exchange, hedge.Long.Exchange))
	return fmt.Errorf("execute %s: short leg on %s: %w (long leg unwound)",
		hedge.Canonical, hedge.Short.Exchange, cause)
}

// Close flattens both legs of a hedged unit. If only one leg's close
// succeeds, the hedge enters PartiallyClosed and the remaining leg is retried
// a bounded number of times before the error escalates with
// domain.ErrCriticalUnwind. Overall success is reported only when both legs
// are flat. A Failed hedge whose unwind left a leg live is also closable, so
// an operator can retry the flatten once the venue recovers.
func (c *Coordinator) Close(ctx context.Context, hedgeID string) error {
	c.mu.Lock()
	hedge, ok := c.hedges[hedgeID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("close hedge %s: %w", hedgeID, domain.ErrNotFound)
	}
	closable := hedge.State == domain.HedgeHedged || hedge.State == domain.HedgePartiallyClosed ||
		(hedge.State == domain.HedgeFailed && (hedge.Long.Open || hedge.Short.Open))
	if !closable {
		state := hedge.State
		c.mu.Unlock()
		return fmt.Errorf("close hedge %s: state %s is not closable", hedgeID, state)
	}
	c.mu.Unlock()

	log := c.logger.With(slog.String("hedge_id", hedge.ID), slog.String("symbol", hedge.Canonical))

	legs := []*domain.HedgeLeg{&hedge.Long, &hedge.Short}
	var failed []*domain.HedgeLeg
	for _, leg := range legs {
		c.mu.Lock()
		open := leg.Open
		c.mu.Unlock()
		if !open {
			continue
		}
		if err := c.closeLeg(ctx, leg); err != nil {
			log.Warn("leg close failed",
				slog.String("exchange", leg.Exchange),
				slog.String("side", string(leg.Side)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, leg)
		}
	}

	if len(failed) == 0 {
		c.markClosed(ctx, hedge)
		log.Info("hedge closed")
		return nil
	}
	if len(failed) == len(legs) {
		// Neither leg moved; the book is still balanced, so this is a plain
		// retryable failure, not a partial close.
		return fmt.Errorf("close hedge %s: both leg closes failed: %w", hedgeID, domain.ErrAdapterUnavailable)
	}

	c.transition(ctx, hedge, domain.HedgePartiallyClosed,
		fmt.Sprintf("%s leg on %s still open", failed[0].Side, failed[0].Exchange))

	if err := c.retryLeg(ctx, hedge, failed[0]); err != nil {
		return err
	}
	c.markClosed(ctx, hedge)
	log.Info("hedge closed after retry")
	return nil
}

// retryLeg keeps attempting a leg close with a fixed delay, bounded by
// CloseRetries, then escalates.
func (c *Coordinator) retryLeg(ctx context.Context, hedge *domain.Hedge, leg *domain.HedgeLeg) error {
	for attempt := 1; attempt <= c.cfg.CloseRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.CloseRetryDelay):
		}

		if err := c.closeLeg(ctx, leg); err != nil {
			c.logger.Warn("leg close retry failed",
				slog.String("hedge_id", hedge.ID),
				slog.String("exchange", leg.Exchange),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		return nil
	}

	reason := fmt.Sprintf("%s leg of %s on %s would not close after %d retries (size %s)",
		leg.Side, hedge.Canonical, leg.Exchange, c.cfg.CloseRetries, leg.Size)
	c.notify(ctx, notify.EventCriticalUnwind, "CRITICAL: manual intervention required", reason)
	return fmt.Errorf("close hedge %s: %w: %s", hedge.ID, domain.ErrCriticalUnwind, reason)
}

func (c *Coordinator) closeLeg(ctx context.Context, leg *domain.HedgeLeg) error {
	adapter, ok := c.adapters[leg.Exchange]
	if !ok {
		return fmt.Errorf("unknown exchange %q", leg.Exchange)
	}
	if err := adapter.ClosePosition(ctx, c.nativeSymbol(leg.Symbol)); err != nil {
		// A vanished position means the leg is already flat (manual close or
		// liquidation); treat it as closed rather than exposure.
		if errors.Is(err, domain.ErrPositionNotFound) {
			c.markLegFlat(leg)
			return nil
		}
		return err
	}
	c.markLegFlat(leg)
	return nil
}

func (c *Coordinator) markLegFlat(leg *domain.HedgeLeg) {
	c.mu.Lock()
	leg.Open = false
	c.mu.Unlock()
}

// Open returns copies of every tracked hedge unit: live pairs plus any
// failed unit whose unwind left a leg carrying exposure, which stays tracked
// until a Close retry flattens it.
func (c *Coordinator) Open() []domain.Hedge {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Hedge, 0, len(c.hedges))
	for _, h := range c.hedges {
		out = append(out, *h)
	}
	return out
}

// guardDuplicate rejects a hedge when the instrument already has an open or
// in-flight unit, either in the coordinator's own book or in the live
// position lists of the two target venues.
func (c *Coordinator) guardDuplicate(ctx context.Context, opp domain.ArbitrageOpportunity, long, short exchange.Adapter) error {
	c.mu.Lock()
	for _, h := range c.hedges {
		if h.Canonical == opp.Canonical &&
			(h.State == domain.HedgeHedged || h.State == domain.HedgeBothPending || h.State == domain.HedgeLongPending) {
			c.mu.Unlock()
			return fmt.Errorf("execute %s: %w", opp.Canonical, domain.ErrDuplicateHedge)
		}
	}
	c.mu.Unlock()

	for _, adapter := range []exchange.Adapter{long, short} {
		positions, err := adapter.OpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("execute %s: position check on %s: %w", opp.Canonical, adapter.Name(), err)
		}
		for sym := range positions {
			if symbolMatches(sym, opp.Canonical) {
				return fmt.Errorf("execute %s: live position on %s: %w",
					opp.Canonical, adapter.Name(), domain.ErrDuplicateHedge)
			}
		}
	}
	return nil
}

func (c *Coordinator) markClosed(ctx context.Context, hedge *domain.Hedge) {
	now := time.Now().UTC()
	c.mu.Lock()
	hedge.ClosedAt = &now
	c.mu.Unlock()
	c.transition(ctx, hedge, domain.HedgeClosed, "")
	c.untrack(hedge.ID)
}

// transition applies a state change, logs it, and journals it. Journal
// failures are logged, never trade-blocking. The journal write happens on a
// snapshot taken under the lock so it never holds the lock across I/O.
func (c *Coordinator) transition(ctx context.Context, hedge *domain.Hedge, state domain.HedgeState, reason string) {
	c.mu.Lock()
	hedge.State = state
	hedge.Reason = reason
	snapshot := *hedge
	c.mu.Unlock()
	c.logger.Debug("hedge state",
		slog.String("hedge_id", hedge.ID),
		slog.String("state", string(state)),
	)
	if c.store == nil {
		return
	}
	var err error
	if state == domain.HedgeLongPending {
		err = c.store.Create(ctx, snapshot)
	} else {
		err = c.store.UpdateState(ctx, hedge.ID, state, reason)
	}
	if err != nil {
		c.logger.Warn("hedge journal write failed",
			slog.String("hedge_id", hedge.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) track(h *domain.Hedge) {
	c.mu.Lock()
	c.hedges[h.ID] = h
	c.mu.Unlock()
}

func (c *Coordinator) untrack(id string) {
	c.mu.Lock()
	delete(c.hedges, id)
	c.mu.Unlock()
}

func (c *Coordinator) notify(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	if event == notify.EventCriticalUnwind {
		_ = c.notifier.NotifyAll(ctx, title, message)
		return
	}
	_ = c.notifier.Notify(ctx, event, title, message)
}

// nativeSymbol maps a canonical key to the symbol sent to adapters. Adapters
// accept canonical base tickers and apply their own venue suffixing.
func (c *Coordinator) nativeSymbol(canonical string) string { return canonical }

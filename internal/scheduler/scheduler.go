// Package scheduler drives hands-free trading: on a fixed interval it takes
// the top-ranked opportunity from the latest scan and submits it for
// execution. The loop can be toggled at runtime from the HTTP API and
// disables itself when execution escalates to manual intervention.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/levmarch/fundarb/internal/detect"
	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/execute"
	"github.com/levmarch/fundarb/internal/notify"
)

// Config holds the auto-trade loop parameters.
type Config struct {
	// Interval between trade attempts.
	Interval time.Duration
	// StartEnabled decides whether the loop begins armed or waits for an
	// operator toggle.
	StartEnabled bool
}

// Scheduler runs the auto-trade loop. All methods are safe for concurrent
// use; the HTTP layer calls Enable/Disable/Enabled while Run is ticking.
type Scheduler struct {
	scanner     *detect.Scanner
	coordinator *execute.Coordinator
	notifier    *notify.Notifier
	cfg         Config
	logger      *slog.Logger

	enabled atomic.Bool
}

// New creates a Scheduler. notifier may be nil.
func New(scanner *detect.Scanner, coordinator *execute.Coordinator, notifier *notify.Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		scanner:     scanner,
		coordinator: coordinator,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "scheduler")),
	}
	s.enabled.Store(cfg.StartEnabled)
	return s
}

// Enable arms the loop.
func (s *Scheduler) Enable() {
	if !s.enabled.Swap(true) {
		s.logger.Info("auto-trade enabled")
	}
}

// Disable disarms the loop without stopping Run; ticks become no-ops.
func (s *Scheduler) Disable() {
	if s.enabled.Swap(false) {
		s.logger.Info("auto-trade disabled")
	}
}

// Enabled reports whether the loop is armed.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

// Run ticks until ctx is cancelled. A failed tick is logged and the loop
// keeps going; only a critical unwind escalation stops trading, by disarming
// the loop rather than returning, so an operator can inspect and re-arm.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("auto-trade loop starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("enabled", s.enabled.Load()),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-trade loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if !s.enabled.Load() {
				continue
			}
			s.tick(ctx)
		}
	}
}

// tick scans and, when an opportunity clears the thresholds, executes the
// highest-scoring one.
func (s *Scheduler) tick(ctx context.Context) {
	opps, err := s.scanner.Scan(ctx)
	if err != nil {
		s.logger.Warn("scan failed, skipping tick", slog.String("error", err.Error()))
		return
	}
	if len(opps) == 0 {
		s.logger.Debug("no opportunities this tick")
		return
	}

	best := opps[0]
	s.logger.Info("executing top opportunity",
		slog.String("symbol", best.Canonical),
		slog.String("long", best.ExchangeLong),
		slog.String("short", best.ExchangeShort),
		slog.String("score", best.Score.StringFixed(4)),
	)
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.EventOpportunityFound, "Opportunity",
			best.Canonical+" long "+best.ExchangeLong+" / short "+best.ExchangeShort)
	}

	hedge, err := s.coordinator.Execute(ctx, best)
	if err != nil {
		if errors.Is(err, domain.ErrCriticalUnwind) {
			// A position may be stranded on one venue. Trading on top of an
			// unknown book is worse than stopping, so disarm and wait for an
			// operator.
			s.Disable()
			s.logger.Error("critical unwind failure, auto-trade disarmed",
				slog.String("symbol", best.Canonical),
				slog.String("error", err.Error()),
			)
			return
		}
		if errors.Is(err, domain.ErrDuplicateHedge) {
			s.logger.Debug("skipping duplicate", slog.String("symbol", best.Canonical))
			return
		}
		s.logger.Warn("execution failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("hedge placed",
		slog.String("hedge_id", hedge.ID),
		slog.String("symbol", hedge.Canonical),
	)
}

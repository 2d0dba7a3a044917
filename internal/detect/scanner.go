package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/feed"
	"github.com/levmarch/fundarb/internal/symbol"
)

// Scanner runs the full aggregate → normalize → detect pipeline and remembers
// the most recent ranked list for pull-based consumers. When an opportunity
// cache is configured the list is also published there so HTTP pollers do not
// trigger fresh aggregation cycles.
type Scanner struct {
	aggregator *feed.Aggregator
	detector   *Detector
	cache      domain.OpportunityCache
	cacheTTL   time.Duration
	logger     *slog.Logger

	mu       sync.RWMutex
	latest   []domain.ArbitrageOpportunity
	scannedAt time.Time
}

// NewScanner wires the pipeline. cache may be nil.
func NewScanner(aggregator *feed.Aggregator, detector *Detector, cache domain.OpportunityCache, cacheTTL time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		aggregator: aggregator,
		detector:   detector,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger.With(slog.String("component", "scanner")),
	}
}

// Scan runs one pipeline pass and returns the full ranked opportunity list.
// An under-quorum cycle returns an empty list and domain.ErrInsufficientData;
// callers log and carry on, since no data is a valid state.
func (s *Scanner) Scan(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	snapshot, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			s.remember(ctx, nil)
			return nil, err
		}
		return nil, fmt.Errorf("scanner: %w", err)
	}

	matched := symbol.Match(snapshot)
	opps := s.detector.Detect(matched)

	s.logger.Info("scan complete",
		slog.Int("exchanges", len(snapshot)),
		slog.Int("instruments", len(matched)),
		slog.Int("opportunities", len(opps)),
	)

	s.remember(ctx, opps)
	return opps, nil
}

// Latest returns the most recent scan result without running the pipeline,
// preferring the shared cache (another process may have scanned more
// recently) and falling back to in-memory state.
func (s *Scanner) Latest(ctx context.Context) []domain.ArbitrageOpportunity {
	if s.cache != nil {
		if opps, err := s.cache.GetLatest(ctx); err == nil {
			return opps
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("opportunity cache read failed", slog.String("error", err.Error()))
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ArbitrageOpportunity, len(s.latest))
	copy(out, s.latest)
	return out
}

// LastScannedAt reports when the most recent pipeline pass finished.
func (s *Scanner) LastScannedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scannedAt
}

func (s *Scanner) remember(ctx context.Context, opps []domain.ArbitrageOpportunity) {
	s.mu.Lock()
	s.latest = opps
	s.scannedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	if err := s.cache.SetLatest(ctx, opps, s.cacheTTL); err != nil {
		s.logger.Warn("opportunity cache publish failed", slog.String("error", err.Error()))
	}
}

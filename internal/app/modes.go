package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/levmarch/fundarb/internal/detect"
	"github.com/levmarch/fundarb/internal/exchange"
	"github.com/levmarch/fundarb/internal/exchange/bybit"
	"github.com/levmarch/fundarb/internal/execute"
	"github.com/levmarch/fundarb/internal/feed"
	"github.com/levmarch/fundarb/internal/scheduler"
	"github.com/levmarch/fundarb/internal/server"
	"github.com/levmarch/fundarb/internal/server/handler"
)

// runtime bundles the services every mode builds from Dependencies.
type runtime struct {
	scanner     *detect.Scanner
	coordinator *execute.Coordinator
	scheduler   *scheduler.Scheduler
}

// buildRuntime constructs the aggregation, detection, and execution stack.
// The scheduler is built in every mode so the API can report its state, but
// only trading modes run its loop.
func (a *App) buildRuntime(deps *Dependencies) *runtime {
	adapters := make([]exchange.Adapter, 0, len(deps.Adapters))
	for _, ad := range deps.Adapters {
		adapters = append(adapters, ad)
	}

	aggregator := feed.NewAggregator(adapters, feed.Config{
		RateFloor:    a.cfg.Aggregator.RateFloor.Duration,
		FetchTimeout: a.cfg.Aggregator.FetchTimeout.Duration,
		MinExchanges: a.cfg.Aggregator.MinExchanges,
	}, a.logger)

	detector := detect.NewDetector(detect.Thresholds{
		PriceDiff:   decimal.NewFromFloat(a.cfg.Detector.PriceDiffThreshold),
		FundingDiff: decimal.NewFromFloat(a.cfg.Detector.FundingDiffThreshold),
	})

	scanner := detect.NewScanner(aggregator, detector, deps.OppCache, a.cfg.Detector.CacheTTL.Duration, a.logger)

	coordinator := execute.NewCoordinator(deps.Adapters, execute.Config{
		OrderSize:       decimal.NewFromFloat(a.cfg.Execution.OrderSize),
		Leverage:        decimal.NewFromFloat(a.cfg.Execution.Leverage),
		CloseRetries:    a.cfg.Execution.CloseRetries,
		CloseRetryDelay: a.cfg.Execution.CloseRetryDelay.Duration,
	}, deps.HedgeStore, deps.Notifier, a.logger)

	sched := scheduler.New(scanner, coordinator, deps.Notifier, scheduler.Config{
		Interval:     a.cfg.Scheduler.Interval.Duration,
		StartEnabled: a.cfg.Scheduler.StartEnabled,
	}, a.logger)

	return &runtime{scanner: scanner, coordinator: coordinator, scheduler: sched}
}

// MonitorMode runs periodic scans and the HTTP API. No orders are placed;
// the scheduler loop stays parked so the auto-trade toggle reports disabled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)

	a.startQuoteStreams(ctx, g, deps)
	g.Go(func() error {
		return a.runScanLoop(ctx, rt.scanner)
	})

	// HTTP server is always started in monitor mode.
	a.startHTTPServer(ctx, g, deps, rt)

	return g.Wait()
}

// TradeMode runs the auto-trade scheduler; each tick scans and executes the
// best opportunity when armed. The HTTP server runs if enabled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("start_enabled", a.cfg.Scheduler.StartEnabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)

	a.startQuoteStreams(ctx, g, deps)
	g.Go(func() error {
		return rt.scheduler.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt)
	}

	return g.Wait()
}

// ServerMode runs only the HTTP API. Scans happen on demand when a request
// needs fresh data.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)

	a.startHTTPServer(ctx, g, deps, rt)

	return g.Wait()
}

// FullMode runs everything: quote streams, the auto-trade scheduler, a scan
// loop keeping the cache warm between trade ticks, and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	rt := a.buildRuntime(deps)

	a.startQuoteStreams(ctx, g, deps)
	g.Go(func() error {
		return rt.scheduler.Run(ctx)
	})
	// Keep the opportunity cache warm for API consumers even while the
	// trade loop is disarmed. The aggregator's global rate floor serializes
	// the two loops' cycles.
	g.Go(func() error {
		return a.runScanLoop(ctx, rt.scanner)
	})

	a.startHTTPServer(ctx, g, deps, rt)

	return g.Wait()
}

// runScanLoop scans on the scheduler interval so the opportunity cache stays
// warm for API consumers. Scan errors are logged and the loop continues; a
// venue outage should not kill the mode.
func (a *App) runScanLoop(ctx context.Context, scanner *detect.Scanner) error {
	interval := a.cfg.Scheduler.Interval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		opps, err := scanner.Scan(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "scan cycle failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "scan cycle complete", slog.Int("opportunities", len(opps)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// startQuoteStreams starts websocket quote feeds for venues that support
// them. Currently only Bybit streams; its adapter serves websocket quotes in
// preference to the REST snapshot while the feed is fresh. The symbol list
// comes from the venue's stream_symbols credential (comma separated, native
// symbols like BTCUSDT).
func (a *App) startQuoteStreams(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	adapter, ok := deps.Adapters["bybit"]
	if !ok {
		return
	}
	bb, ok := adapter.(*bybit.Adapter)
	if !ok {
		return
	}

	raw := a.cfg.Exchanges["bybit"].Credentials["stream_symbols"]
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return
	}

	stream := bybit.NewStream(bb, a.cfg.Exchanges["bybit"].Credentials["ws_url"], symbols, a.logger)
	g.Go(func() error {
		return stream.Run(ctx)
	})
	a.logger.InfoContext(ctx, "bybit quote stream started",
		slog.Int("symbols", len(symbols)),
	)
}

// startHTTPServer adds the API server and its graceful shutdown to the given
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Arbitrage: handler.NewArbitrageHandler(rt.scanner, a.logger),
		Hedges:    handler.NewHedgeHandler(rt.coordinator, rt.scanner, deps.HedgeStore, a.logger),
		Account:   handler.NewAccountHandler(deps.Adapters, a.logger),
		AutoTrade: handler.NewAutoTradeHandler(rt.scheduler, a.logger),
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/levmarch/fundarb/internal/cache/redis"
	"github.com/levmarch/fundarb/internal/config"
	"github.com/levmarch/fundarb/internal/domain"
	"github.com/levmarch/fundarb/internal/exchange"
	"github.com/levmarch/fundarb/internal/exchange/bybit"
	"github.com/levmarch/fundarb/internal/exchange/dydx"
	"github.com/levmarch/fundarb/internal/exchange/gate"
	"github.com/levmarch/fundarb/internal/exchange/gmx"
	"github.com/levmarch/fundarb/internal/exchange/hyperliquid"
	"github.com/levmarch/fundarb/internal/exchange/mexc"
	"github.com/levmarch/fundarb/internal/exchange/paper"
	"github.com/levmarch/fundarb/internal/notify"
	"github.com/levmarch/fundarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Adapters are the enabled venues, keyed by venue id.
	Adapters map[string]exchange.Adapter

	// OppCache is nil when Redis is not configured; the scanner keeps an
	// in-process copy either way.
	OppCache domain.OpportunityCache

	// HedgeStore is nil when Postgres is not configured; hedges then live
	// only in the coordinator's memory.
	HedgeStore domain.HedgeStore

	Notifier *notify.Notifier
}

// newRegistry returns the venue registry with every known adapter
// constructor registered.
func newRegistry() *exchange.Registry {
	reg := exchange.NewRegistry()
	reg.Register("bybit", bybit.FromCredentials)
	reg.Register("gate", gate.FromCredentials)
	reg.Register("mexc", mexc.FromCredentials)
	reg.Register("dydx", dydx.FromCredentials)
	reg.Register("hyperliquid", hyperliquid.FromCredentials)
	reg.Register("gmx", gmx.FromCredentials)
	reg.Register("paper", paper.FromCredentials)
	return reg
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Adapters: make(map[string]exchange.Adapter),
	}

	// --- Exchange adapters ---
	reg := newRegistry()
	names := cfg.EnabledExchanges()
	sort.Strings(names)
	for _, name := range names {
		adapter, err := reg.Build(name, cfg.Exchanges[name].Credentials)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange %s: %w", name, err)
		}
		deps.Adapters[name] = adapter
		logger.InfoContext(ctx, "wire: exchange adapter built", slog.String("exchange", name))
	}

	// --- Redis opportunity cache (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.OppCache = redis.NewOpportunityCache(redisClient)
	}

	// --- Postgres hedge journal (optional) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.HedgeStore = postgres.NewHedgeStore(pgClient.Pool())
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

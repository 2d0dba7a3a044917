// Package config defines the top-level configuration for the funding
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDARB_* environment
// variables.
type Config struct {
	Aggregator AggregatorConfig          `toml:"aggregator"`
	Detector   DetectorConfig            `toml:"detector"`
	Execution  ExecutionConfig           `toml:"execution"`
	Scheduler  SchedulerConfig           `toml:"scheduler"`
	Server     ServerConfig              `toml:"server"`
	Redis      RedisConfig               `toml:"redis"`
	Postgres   PostgresConfig            `toml:"postgres"`
	Notify     NotifyConfig              `toml:"notify"`
	Exchanges  map[string]ExchangeConfig `toml:"exchanges"`
	Mode       string                    `toml:"mode"`
	LogLevel   string                    `toml:"log_level"`
}

// ExchangeConfig describes one venue: whether it participates and the
// credentials its adapter constructor understands. Credentials stay a flat
// map because each venue wants different keys (api_key/api_secret, wallet,
// rpc_url, private_key).
type ExchangeConfig struct {
	Enabled     bool              `toml:"enabled"`
	Credentials map[string]string `toml:"credentials"`
}

// AggregatorConfig holds the market data aggregation parameters.
type AggregatorConfig struct {
	// RateFloor is the minimum spacing between cycle starts across all venues.
	RateFloor duration `toml:"rate_floor"`
	// FetchTimeout bounds each venue's snapshot fetch.
	FetchTimeout duration `toml:"fetch_timeout"`
	// MinExchanges is the quorum below which a cycle yields no data.
	MinExchanges int `toml:"min_exchanges"`
}

// DetectorConfig holds opportunity thresholds.
type DetectorConfig struct {
	// PriceDiffThreshold is the absolute price divergence, in quote units,
	// at which a pair qualifies.
	PriceDiffThreshold float64 `toml:"price_diff_threshold"`
	// FundingDiffThreshold is the absolute funding rate divergence (fraction
	// per interval) at which a pair qualifies.
	FundingDiffThreshold float64 `toml:"funding_diff_threshold"`
	// CacheTTL bounds how long a published opportunity list stays servable.
	CacheTTL duration `toml:"cache_ttl"`
}

// ExecutionConfig holds hedge execution parameters.
type ExecutionConfig struct {
	// OrderSize is the per-leg size in base units.
	OrderSize float64 `toml:"order_size"`
	// Leverage applied to both legs.
	Leverage float64 `toml:"leverage"`
	// CloseRetries bounds retry attempts on a partially closed hedge.
	CloseRetries int `toml:"close_retries"`
	// CloseRetryDelay spaces those retries.
	CloseRetryDelay duration `toml:"close_retry_delay"`
}

// SchedulerConfig holds the auto-trade loop parameters.
type SchedulerConfig struct {
	// Interval between auto-trade ticks.
	Interval duration `toml:"interval"`
	// StartEnabled arms the loop at startup; otherwise it waits for the API
	// toggle.
	StartEnabled bool `toml:"start_enabled"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// opportunity cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds hedge journal connection parameters. An empty DSN and
// Host disables journaling.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML can parse strings like "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sane development defaults. Load
// merges the TOML file on top of this.
func Defaults() Config {
	return Config{
		Aggregator: AggregatorConfig{
			RateFloor:    duration{10 * time.Second},
			FetchTimeout: duration{8 * time.Second},
			MinExchanges: 2,
		},
		Detector: DetectorConfig{
			PriceDiffThreshold:   2.0,
			FundingDiffThreshold: 0.004,
			CacheTTL:             duration{2 * time.Minute},
		},
		Execution: ExecutionConfig{
			OrderSize:       0.01,
			Leverage:        1,
			CloseRetries:    3,
			CloseRetryDelay: duration{2 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Interval:     duration{30 * time.Second},
			StartEnabled: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Redis: RedisConfig{
			Addr:     "",
			PoolSize: 20,
		},
		Postgres: PostgresConfig{
			SSLMode:       "disable",
			PoolMaxConns:  10,
			RunMigrations: true,
		},
		Notify: NotifyConfig{
			Events: []string{"hedge_opened", "hedge_failed", "critical_unwind"},
		},
		Exchanges: map[string]ExchangeConfig{},
		Mode:      "monitor",
		LogLevel:  "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// knownExchanges enumerates the venue ids the registry can build.
var knownExchanges = map[string]bool{
	"bybit":       true,
	"gate":        true,
	"mexc":        true,
	"dydx":        true,
	"hyperliquid": true,
	"gmx":         true,
	"paper":       true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Aggregator.RateFloor.Duration <= 0 {
		errs = append(errs, "aggregator: rate_floor must be positive")
	}
	if c.Aggregator.FetchTimeout.Duration <= 0 {
		errs = append(errs, "aggregator: fetch_timeout must be positive")
	}
	if c.Aggregator.MinExchanges < 1 {
		errs = append(errs, "aggregator: min_exchanges must be at least 1")
	}

	if c.Detector.PriceDiffThreshold <= 0 {
		errs = append(errs, "detector: price_diff_threshold must be positive")
	}
	if c.Detector.FundingDiffThreshold <= 0 {
		errs = append(errs, "detector: funding_diff_threshold must be positive")
	}

	if c.Execution.OrderSize <= 0 {
		errs = append(errs, "execution: order_size must be positive")
	}
	if c.Execution.Leverage < 0 {
		errs = append(errs, "execution: leverage must not be negative")
	}

	if c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be positive")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	enabled := 0
	for name, ex := range c.Exchanges {
		if !knownExchanges[strings.ToLower(name)] {
			errs = append(errs, fmt.Sprintf("exchanges: unknown venue %q", name))
		}
		if ex.Enabled {
			enabled++
		}
	}
	tradingMode := c.Mode == "trade" || c.Mode == "full" || c.Mode == "monitor"
	if tradingMode && enabled < c.Aggregator.MinExchanges {
		errs = append(errs, fmt.Sprintf(
			"exchanges: %d venue(s) enabled but aggregator.min_exchanges is %d",
			enabled, c.Aggregator.MinExchanges))
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnabledExchanges returns the venue ids flagged enabled, in no particular
// order.
func (c *Config) EnabledExchanges() []string {
	var out []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, strings.ToLower(name))
		}
	}
	return out
}

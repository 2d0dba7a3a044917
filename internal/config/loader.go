package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Venue credentials use FUNDARB_EXCHANGE_<VENUE>_<KEY>, for example
// FUNDARB_EXCHANGE_BYBIT_API_SECRET.
func applyEnvOverrides(cfg *Config) {
	setDuration(&cfg.Aggregator.RateFloor, "FUNDARB_AGGREGATOR_RATE_FLOOR")
	setDuration(&cfg.Aggregator.FetchTimeout, "FUNDARB_AGGREGATOR_FETCH_TIMEOUT")
	setInt(&cfg.Aggregator.MinExchanges, "FUNDARB_AGGREGATOR_MIN_EXCHANGES")

	setFloat64(&cfg.Detector.PriceDiffThreshold, "FUNDARB_DETECTOR_PRICE_DIFF_THRESHOLD")
	setFloat64(&cfg.Detector.FundingDiffThreshold, "FUNDARB_DETECTOR_FUNDING_DIFF_THRESHOLD")
	setDuration(&cfg.Detector.CacheTTL, "FUNDARB_DETECTOR_CACHE_TTL")

	setFloat64(&cfg.Execution.OrderSize, "FUNDARB_EXECUTION_ORDER_SIZE")
	setFloat64(&cfg.Execution.Leverage, "FUNDARB_EXECUTION_LEVERAGE")
	setInt(&cfg.Execution.CloseRetries, "FUNDARB_EXECUTION_CLOSE_RETRIES")
	setDuration(&cfg.Execution.CloseRetryDelay, "FUNDARB_EXECUTION_CLOSE_RETRY_DELAY")

	setDuration(&cfg.Scheduler.Interval, "FUNDARB_SCHEDULER_INTERVAL")
	setBool(&cfg.Scheduler.StartEnabled, "FUNDARB_SCHEDULER_START_ENABLED")

	setBool(&cfg.Server.Enabled, "FUNDARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FUNDARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDARB_SERVER_CORS_ORIGINS")

	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDARB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "FUNDARB_REDIS_TLS_ENABLED")

	setStr(&cfg.Postgres.DSN, "FUNDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDARB_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDARB_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Notify.TelegramToken, "FUNDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDARB_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "FUNDARB_MODE")
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")

	applyExchangeEnvOverrides(cfg)
}

// applyExchangeEnvOverrides scans the environment for venue credential
// overrides of the form FUNDARB_EXCHANGE_<VENUE>_<KEY>=value.
func applyExchangeEnvOverrides(cfg *Config) {
	const prefix = "FUNDARB_EXCHANGE_"
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, prefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(entry, prefix), "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			continue
		}
		parts := strings.SplitN(kv[0], "_", 2)
		if len(parts) != 2 {
			continue
		}
		venue := strings.ToLower(parts[0])
		key := strings.ToLower(parts[1])

		if cfg.Exchanges == nil {
			cfg.Exchanges = map[string]ExchangeConfig{}
		}
		ex := cfg.Exchanges[venue]
		if ex.Credentials == nil {
			ex.Credentials = map[string]string{}
		}
		ex.Credentials[key] = kv[1]
		cfg.Exchanges[venue] = ex
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

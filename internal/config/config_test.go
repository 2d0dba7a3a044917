package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidateWithEnoughVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Exchanges = map[string]ExchangeConfig{
		"bybit": {Enabled: true},
		"gate":  {Enabled: true},
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "trade"
log_level = "debug"

[aggregator]
rate_floor = "5s"
min_exchanges = 3

[detector]
price_diff_threshold = 7.5

[scheduler]
interval = "15s"
start_enabled = true

[exchanges.bybit]
enabled = true
[exchanges.bybit.credentials]
api_key = "k"
api_secret = "s"

[exchanges.gate]
enabled = true

[exchanges.paper]
enabled = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Aggregator.RateFloor.Duration)
	assert.Equal(t, 3, cfg.Aggregator.MinExchanges)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8*time.Second, cfg.Aggregator.FetchTimeout.Duration)
	assert.Equal(t, 0.004, cfg.Detector.FundingDiffThreshold)
	assert.Equal(t, 7.5, cfg.Detector.PriceDiffThreshold)
	assert.True(t, cfg.Scheduler.StartEnabled)
	assert.Equal(t, "k", cfg.Exchanges["bybit"].Credentials["api_key"])

	require.NoError(t, cfg.Validate())
	assert.ElementsMatch(t, []string{"bybit", "gate", "paper"}, cfg.EnabledExchanges())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[exchanges.bybit]
enabled = true
[exchanges.gate]
enabled = true
`)

	t.Setenv("FUNDARB_MODE", "server")
	t.Setenv("FUNDARB_SERVER_PORT", "9100")
	t.Setenv("FUNDARB_SCHEDULER_INTERVAL", "45s")
	t.Setenv("FUNDARB_EXCHANGE_BYBIT_API_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.Interval.Duration)
	assert.Equal(t, "env-secret", cfg.Exchanges["bybit"].Credentials["api_secret"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Detector.PriceDiffThreshold = 0
	cfg.Execution.OrderSize = -1
	cfg.Notify.TelegramToken = "token-without-chat"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "unknown log_level")
	assert.Contains(t, msg, "price_diff_threshold")
	assert.Contains(t, msg, "order_size")
	assert.Contains(t, msg, "telegram_token and telegram_chat_id")
}

func TestValidateRejectsUnknownVenue(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Exchanges = map[string]ExchangeConfig{"binance": {Enabled: true}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown venue "binance"`)
}

func TestValidateQuorumAgainstEnabledVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Aggregator.MinExchanges = 2
	cfg.Exchanges = map[string]ExchangeConfig{"bybit": {Enabled: true}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_exchanges")

	// Server mode serves cached data and does not need venue quorum.
	cfg.Mode = "server"
	cfg.Exchanges = map[string]ExchangeConfig{}
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "topsecret"
	cfg.Redis.Password = "redispass"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Notify.TelegramChatID = "42"
	cfg.Exchanges = map[string]ExchangeConfig{
		"bybit": {Enabled: true, Credentials: map[string]string{
			"api_key":    "visible-id",
			"api_secret": "hidden",
		}},
	}

	red := RedactedConfig(&cfg)

	assert.NotEqual(t, "topsecret", red.Server.APIKey)
	assert.NotEqual(t, "redispass", red.Redis.Password)
	assert.NotEqual(t, "pgpass", red.Postgres.Password)
	assert.NotEqual(t, "tg-token", red.Notify.TelegramToken)
	assert.Equal(t, "visible-id", red.Exchanges["bybit"].Credentials["api_key"])
	assert.Equal(t, "***", red.Exchanges["bybit"].Credentials["api_secret"])

	// The original is untouched.
	assert.Equal(t, "topsecret", cfg.Server.APIKey)
	assert.Equal(t, "hidden", cfg.Exchanges["bybit"].Credentials["api_secret"])
}

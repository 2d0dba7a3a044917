package config

// sensitiveCredentialKeys are venue credential entries that must never reach
// a log line.
var sensitiveCredentialKeys = map[string]bool{
	"api_secret":  true,
	"private_key": true,
	"password":    true,
}

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// placeholder "***". Use this when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Server.APIKey)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for venue, ex := range cfg.Exchanges {
		copied := ExchangeConfig{Enabled: ex.Enabled}
		if ex.Credentials != nil {
			copied.Credentials = make(map[string]string, len(ex.Credentials))
			for k, v := range ex.Credentials {
				if sensitiveCredentialKeys[k] {
					copied.Credentials[k] = "***"
				} else {
					copied.Credentials[k] = v
				}
			}
		}
		out.Exchanges[venue] = copied
	}
	return out
}

func redact(field *string) {
	if *field != "" {
		*field = "***"
	}
}

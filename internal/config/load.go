package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pricewatch/internal/domain"
	logx "pricewatch/pkg/logx"
)

// Environment overrides for secrets. They win over the file.
const (
	EnvTelegramToken = "PRICEWATCH_TELEGRAM_TOKEN"
	EnvBuffCookie    = "PRICEWATCH_BUFF_SESSION_COOKIE"
	EnvHTTPToken     = "PRICEWATCH_HTTP_TOKEN"
)

// LoadDotEnv loads .env next to the config file and in the working
// directory. Variables already set in the environment are kept. Missing
// files are ignored.
func LoadDotEnv(cfgPath string) error {
	seen := map[string]bool{}
	for _, p := range []string{filepath.Join(filepath.Dir(cfgPath), ".env"), ".env"} {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return &ConfigurationError{Field: ".env", Err: err}
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBuffCookie)); v != "" {
		cfg.PriceSource.SessionCookie = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHTTPToken)); v != "" {
		cfg.HTTP.Token = v
	}
}

// Validate checks everything that can be checked without touching the
// network. It returns the first problem as a *ConfigurationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigurationError{Err: errors.New("config is nil")}
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fieldErr("telegram.token", "required (or set %s)", EnvTelegramToken)
	}
	if strings.TrimSpace(cfg.PriceSource.SessionCookie) == "" {
		return fieldErr("price_source.session_cookie", "required (or set %s)", EnvBuffCookie)
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fieldErr("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		return fieldErr("logging.telegram.min_level", "unknown level %q", cfg.Logging.Telegram.MinLevel)
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID == 0 {
		return fieldErr("telegram.log_chat_id", "required when logging.telegram.enabled")
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return fieldErr("logging.telegram.rate_per_sec", "must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "sqlite", "sqlite3":
	default:
		return fieldErr("storage.driver", "unknown driver %q", cfg.Storage.Driver)
	}

	if n := cfg.Users.DefaultInterval; n != 0 {
		if err := domain.ValidateInterval(n); err != nil {
			return &ConfigurationError{Field: "users.default_interval", Err: err}
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return &ConfigurationError{Field: "scheduler.timezone", Err: err}
		}
	}
	if cfg.Scheduler.HistorySize < 0 {
		return fieldErr("scheduler.history_size", "must be >= 0")
	}

	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 {
			return fieldErr("notifier.rate_per_sec", "must be >= 0")
		}
		if n.RetryMax < 0 {
			return fieldErr("notifier.retry_max", "must be >= 0")
		}
	}

	for k, v := range cfg.Currency.FallbackRates {
		if v <= 0 {
			return fieldErr("currency.fallback_rates."+k, "must be > 0")
		}
	}

	for path, raw := range cfg.durations() {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) durations() map[string]string {
	out := map[string]string{
		"telegram.timeout":         c.Telegram.Timeout,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
		"price_source.timeout":     c.PriceSource.Timeout,
		"currency.timeout":         c.Currency.Timeout,
		"scheduler.retention_age":  c.Scheduler.RetentionAge,
		"scheduler.job_timeout":    c.Scheduler.JobTimeout,
		"scheduler.startup_spread": c.Scheduler.StartupSpread,
		"http.read_timeout":        c.HTTP.ReadTimeout,
		"http.write_timeout":       c.HTTP.WriteTimeout,
		"http.idle_timeout":        c.HTTP.IdleTimeout,
	}
	if n := c.Notifier; n != nil {
		out["notifier.retry_base"] = n.RetryBase
		out["notifier.retry_max_delay"] = n.RetryMaxDelay
		out["notifier.send_timeout"] = n.SendTimeout
	}
	return out
}

package config

import (
	"errors"
	"fmt"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	PriceSource PriceSourceConfig `json:"price_source"`
	Currency    CurrencyConfig    `json:"currency"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Users       UsersConfig       `json:"users"`
	HTTP        HTTPConfig        `json:"http"`

	// Notifier may be omitted; it then defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"` // prefer PRICEWATCH_TELEGRAM_TOKEN; never logged
	// Timeout bounds each Bot API call.
	Timeout string `json:"timeout,omitempty"`
	// LogChatID receives WARN+ log lines when logging.telegram.enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// Offline skips the getMe handshake (dry runs).
	Offline bool `json:"offline,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the subscription store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pricewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // default: sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PriceSourceConfig struct {
	BaseURL       string `json:"base_url,omitempty"`
	SessionCookie string `json:"session_cookie"` // prefer PRICEWATCH_BUFF_SESSION_COOKIE; never logged
	Game          string `json:"game,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

type CurrencyConfig struct {
	Base          string             `json:"base,omitempty"`
	Targets       []string           `json:"targets,omitempty"`
	APIURL        string             `json:"api_url,omitempty"`
	Timeout       string             `json:"timeout,omitempty"`
	FallbackRates map[string]float64 `json:"fallback_rates,omitempty"`
}

// NotifierConfig controls delivery of price-change messages.
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 20
//   - retry_max: 0
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
//   - send_timeout: "10s"
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout"`
}

// SchedulerConfig controls the periodic jobs.
//
// Specs accept cron expressions ("0 3 * * 0"), descriptors ("@daily"),
// intervals ("60s", "every:1m") and daily times ("03:00").
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	CheckSpec     string `json:"check_spec,omitempty"`     // default: "60s"
	RetentionSpec string `json:"retention_spec,omitempty"` // default: "0 3 * * 0"
	CurrencySpec  string `json:"currency_spec,omitempty"`  // default: "0 0 * * *"
	RetentionAge  string `json:"retention_age,omitempty"`  // default: "168h"
	JobTimeout    string `json:"job_timeout,omitempty"`    // default: "5m"
	HistorySize   int    `json:"history_size,omitempty"`
	StartupSpread string `json:"startup_spread,omitempty"`
}

type UsersConfig struct {
	// DefaultInterval is the check interval in minutes for new users.
	DefaultInterval int `json:"default_interval,omitempty"`
}

// HTTPConfig controls the ops API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // prefer PRICEWATCH_HTTP_TOKEN; never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ConfigurationError reports an invalid or missing setting at startup or
// reload.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func fieldErr(field string, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

package app

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/config"
	"pricewatch/internal/currency"
	"pricewatch/internal/httpapi"
	"pricewatch/internal/notifier"
	"pricewatch/internal/pricecheck"
	"pricewatch/internal/pricesource/buff"
	"pricewatch/internal/storage"
	"pricewatch/internal/task/scheduler"
	"pricewatch/internal/transport/telegram"
	logx "pricewatch/pkg/logx"
)

// Job names registered with the scheduler.
const (
	JobPriceCheck      = "price_check"
	JobHistoryPrune    = "history_prune"
	JobCurrencyRefresh = "currency_refresh"
)

const (
	defaultCheckSpec     = "60s"
	defaultRetentionSpec = "0 3 * * 0"
	defaultCurrencySpec  = "0 0 * * *"
	defaultDBPath        = "./pricewatch.db"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		Timeout: timeout,
		Offline: cfg.Telegram.Offline,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultDBPath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:          strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:            path,
		BusyTimeout:     busy,
		DefaultInterval: cfg.Users.DefaultInterval,
	}, nil
}

func mapSourceConfig(cfg *config.Config) (buff.Config, error) {
	timeout, err := config.ParseDurationOrDefault("price_source.timeout", cfg.PriceSource.Timeout, buff.DefaultTimeout)
	if err != nil {
		return buff.Config{}, err
	}
	return buff.Config{
		BaseURL:       cfg.PriceSource.BaseURL,
		SessionCookie: cfg.PriceSource.SessionCookie,
		Game:          cfg.PriceSource.Game,
		Timeout:       timeout,
		UserAgent:     cfg.PriceSource.UserAgent,
	}, nil
}

func mapCurrencyConfig(cfg *config.Config) (currency.Config, error) {
	timeout, err := config.ParseDurationOrDefault("currency.timeout", cfg.Currency.Timeout, currency.DefaultTimeout)
	if err != nil {
		return currency.Config{}, err
	}
	var fallback map[string]decimal.Decimal
	if len(cfg.Currency.FallbackRates) > 0 {
		fallback = make(map[string]decimal.Decimal, len(cfg.Currency.FallbackRates))
		for k, v := range cfg.Currency.FallbackRates {
			fallback[strings.ToUpper(k)] = decimal.NewFromFloat(v)
		}
	}
	return currency.Config{
		Base:          cfg.Currency.Base,
		Targets:       cfg.Currency.Targets,
		APIURL:        cfg.Currency.APIURL,
		Timeout:       timeout,
		FallbackRates: fallback,
	}, nil
}

func mapNotifierConfig(cfg *config.Config, loc *time.Location) (notifier.Config, error) {
	n := config.EffectiveNotifier(cfg)
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
		Location:      loc,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	spread, err := config.ParseDurationField("scheduler.startup_spread", cfg.Scheduler.StartupSpread)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:       strings.TrimSpace(cfg.Scheduler.Timezone),
		DefaultTimeout: timeout,
		HistorySize:    cfg.Scheduler.HistorySize,
		StartupSpread:  spread,
	}, nil
}

// jobSpecs returns the schedule for each job, defaults filled in.
func jobSpecs(cfg *config.Config) map[string]string {
	pick := func(v, def string) string {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
		return def
	}
	return map[string]string{
		JobPriceCheck:      pick(cfg.Scheduler.CheckSpec, defaultCheckSpec),
		JobHistoryPrune:    pick(cfg.Scheduler.RetentionSpec, defaultRetentionSpec),
		JobCurrencyRefresh: pick(cfg.Scheduler.CurrencySpec, defaultCurrencySpec),
	}
}

func retentionAge(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("scheduler.retention_age", cfg.Scheduler.RetentionAge, pricecheck.DefaultRetention)
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// 0 keeps /debug/pprof/profile usable.
	write, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// loadLocation resolves the scheduler timezone; empty means local time.
func loadLocation(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

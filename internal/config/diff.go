package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pricewatch/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"telegram":     true,
	"storage":      true,
	"price_source": true,
	"users":        true,
}

// RequiresRestart reports whether a changed section is not hot-reloadable.
func RequiresRestart(section string) bool { return restartSections[section] }

// SummarizeConfigChange returns the changed sections, sorted, and
// structured attrs for logging. Secrets are reported only as *_set flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	add := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.Timeout != nt.Timeout || ot.LogChatID != nt.LogChatID || ot.Offline != nt.Offline {
		add("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.timeout", strings.TrimSpace(nt.Timeout)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		add("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		ns := newCfg.Storage
		add("storage",
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(ns.BusyTimeout)),
		)
	}

	if oldCfg.PriceSource != newCfg.PriceSource {
		np := newCfg.PriceSource
		add("price_source",
			logx.String("price_source.base_url", np.BaseURL),
			logx.String("price_source.game", np.Game),
			logx.Bool("price_source.cookie_changed", oldCfg.PriceSource.SessionCookie != np.SessionCookie),
		)
	}

	if !reflect.DeepEqual(oldCfg.Currency, newCfg.Currency) {
		nc := newCfg.Currency
		add("currency",
			logx.String("currency.base", nc.Base),
			logx.String("currency.targets", strings.Join(nc.Targets, ",")),
			logx.Int("currency.fallback_count", len(nc.FallbackRates)),
		)
	}

	on, nn := effectiveNotifier(oldCfg.Notifier), effectiveNotifier(newCfg.Notifier)
	if on != nn {
		add("notifier",
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		ns := newCfg.Scheduler
		add("scheduler",
			logx.String("scheduler.timezone", strings.TrimSpace(ns.Timezone)),
			logx.String("scheduler.check_spec", ns.CheckSpec),
			logx.String("scheduler.retention_spec", ns.RetentionSpec),
			logx.String("scheduler.currency_spec", ns.CurrencySpec),
		)
	}

	if oldCfg.Users != newCfg.Users {
		add("users", logx.Int("users.default_interval", newCfg.Users.DefaultInterval))
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		add("http",
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// EffectiveNotifier returns the notifier section with an omitted section
// treated as enabled with defaults.
func EffectiveNotifier(cfg *Config) NotifierConfig {
	if cfg == nil {
		return effectiveNotifier(nil)
	}
	return effectiveNotifier(cfg.Notifier)
}

func effectiveNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{Enabled: true}
	}
	return *n
}

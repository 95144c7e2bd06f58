package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "telegram": {"token": "123:abc"},
  "logging": {"level": "info", "console": true},
  "storage": {"path": "./pricewatch.db"},
  "price_source": {"session_cookie": "cookie"},
  "scheduler": {"check_spec": "60s", "timezone": "UTC"},
  "users": {"default_interval": 60}
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestParseJSONAndYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlBody := `
telegram:
  token: "123:abc"
price_source:
  session_cookie: cookie
currency:
  targets: [USD, RUB]
  fallback_rates:
    USD: 0.14
scheduler:
  check_spec: "every:1m"
`
	cases := []struct {
		name, file, body string
	}{
		{"json", "config.json", validJSON},
		{"yaml", "config.yaml", yamlBody},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, dir, tc.file, tc.body)
			cfg, err := NewConfigManager(p).Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if cfg.Telegram.Token != "123:abc" || cfg.PriceSource.SessionCookie != "cookie" {
				t.Fatalf("cfg = %+v", cfg)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown field", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"bogus":1}`, ""},
		{"trailing data", validJSON + `{}`, ""},
		{"missing token", `{"price_source":{"session_cookie":"c"}}`, "telegram.token"},
		{"missing cookie", `{"telegram":{"token":"x"}}`, "price_source.session_cookie"},
		{"bad interval", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"users":{"default_interval":5}}`, "users.default_interval"},
		{"bad timezone", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"scheduler":{"timezone":"Mars/Base"}}`, "scheduler.timezone"},
		{"bad duration", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"notifier":{"enabled":true,"send_timeout":"soon"}}`, "notifier.send_timeout"},
		{"bad level", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"logging":{"level":"loud"}}`, "logging.level"},
		{"log chat missing", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"logging":{"telegram":{"enabled":true}}}`, "telegram.log_chat_id"},
		{"bad driver", `{"telegram":{"token":"x"},"price_source":{"session_cookie":"c"},"storage":{"driver":"mysql"}}`, "storage.driver"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), "config.json", tc.body)
			_, err := NewConfigManager(p).Parse()
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsConfigurationError(err) {
				t.Fatalf("err = %T %v, want ConfigurationError", err, err)
			}
			if tc.field != "" && !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("err = %v, want field %s", err, tc.field)
			}
		})
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvBuffCookie, "env-cookie")
	t.Setenv(EnvHTTPToken, "env-http")

	p := writeFile(t, t.TempDir(), "config.json", `{"http":{"enabled":true}}`)
	cfg, err := NewConfigManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.PriceSource.SessionCookie != "env-cookie" || cfg.HTTP.Token != "env-http" {
		t.Fatalf("secrets not overridden: %+v", cfg)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", EnvTelegramToken+"=dotenv-token\n"+EnvBuffCookie+"=dotenv-cookie\n")
	p := writeFile(t, dir, "config.json", `{}`)
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvBuffCookie, "")
	_ = os.Unsetenv(EnvTelegramToken)
	_ = os.Unsetenv(EnvBuffCookie)

	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "dotenv-token" || m.Get() != cfg {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Logging:  LoggingConfig{Level: "info"},
		HTTP:     HTTPConfig{Enabled: true, Token: "secret1"},
	}
	nw := *old
	nw.Logging.Level = "debug"
	nw.HTTP.Token = "secret2"
	nw.Notifier = &NotifierConfig{Enabled: false}

	sections, attrs := SummarizeConfigChange(old, &nw)
	want := []string{"http", "logging", "notifier"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}

	if s, _ := SummarizeConfigChange(old, old); len(s) != 0 {
		t.Fatalf("no-op diff = %v", s)
	}
	if !RequiresRestart("storage") || RequiresRestart("logging") {
		t.Fatal("RequiresRestart mismatch")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, 5 * time.Second, false},
		{"0s", 5 * time.Second, 5 * time.Second, false},
		{"250ms", time.Second, 250 * time.Millisecond, false},
		{"-1s", time.Second, 0, true},
		{"abc", time.Second, 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, tc.def)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, %v", tc.raw, got, err)
		}
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", validJSON)
	m := NewConfigManager(p)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m.Commit(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	updated := strings.Replace(validJSON, `"level": "info"`, `"level": "debug"`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		select {
		case got := <-sub:
			if got.Logging.Level != "debug" {
				t.Fatalf("level = %q", got.Logging.Level)
			}
			return
		case <-tick.C:
			// some filesystems coalesce events; touch again
			_ = os.WriteFile(p, []byte(updated), 0o600)
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}

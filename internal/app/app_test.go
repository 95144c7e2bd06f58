package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"pricewatch/internal/config"
	"pricewatch/internal/task/scheduler"
	logx "pricewatch/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppStartStop(t *testing.T) {
	rates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/CNY") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"base":"CNY","rates":{"USD":0.15,"RUB":12.5}}`))
	}))
	defer rates.Close()

	db := filepath.Join(t.TempDir(), "pw.db")
	p := writeConfig(t, fmt.Sprintf(`{
  "telegram": {"token": "123:abc", "offline": true},
  "logging": {"level": "error"},
  "storage": {"path": %q},
  "price_source": {"session_cookie": "c", "base_url": "http://127.0.0.1:1"},
  "currency": {"api_url": %q, "targets": ["USD", "RUB"]},
  "scheduler": {"timezone": "UTC"}
}`, db, rates.URL+"/"))

	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var names []string
	for _, s := range a.sched.Snapshot().Schedules {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	want := []string{JobCurrencyRefresh, JobHistoryPrune, JobPriceCheck}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("schedules = %v, want %v", names, want)
	}
	if snap := a.conv.Rates(); snap.UpdatedAt == nil || snap.Rates["USD"].String() != "0.15" {
		t.Fatalf("startup refresh not applied: %+v", snap)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := writeConfig(t, `{"telegram":{"token":"x","offline":true},"price_source":{"session_cookie":"c"},"users":{"default_interval":3}}`)
	if _, err := New(p); !config.IsConfigurationError(err) {
		t.Fatalf("New err = %v, want ConfigurationError", err)
	}
}

func TestJobSpecsDefaults(t *testing.T) {
	t.Parallel()
	got := jobSpecs(&config.Config{Scheduler: config.SchedulerConfig{CheckSpec: " every:2m "}})
	want := map[string]string{
		JobPriceCheck:      "every:2m",
		JobHistoryPrune:    defaultRetentionSpec,
		JobCurrencyRefresh: defaultCurrencySpec,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestMapCurrencyConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Currency: config.CurrencyConfig{FallbackRates: map[string]float64{"usd": 0.14}}}
	cc, err := mapCurrencyConfig(cfg)
	if err != nil {
		t.Fatalf("mapCurrencyConfig: %v", err)
	}
	if r, ok := cc.FallbackRates["USD"]; !ok || r.String() != "0.14" {
		t.Fatalf("fallback = %v", cc.FallbackRates)
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	a := &App{}
	sc, err := mapSchedulerConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapSchedulerConfig: %v", err)
	}
	a.sched = scheduler.New(sc, logx.Nop(), nil)

	cases := []struct {
		name    string
		sched   config.SchedulerConfig
		wantErr bool
	}{
		{"defaults", config.SchedulerConfig{}, false},
		{"bad check", config.SchedulerConfig{CheckSpec: "whenever"}, true},
		{"bad retention", config.SchedulerConfig{RetentionSpec: "0 3 * * funday"}, true},
	}
	for _, tc := range cases {
		err := a.validate(context.Background(), &config.Config{Scheduler: tc.sched})
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		if err != nil && !config.IsConfigurationError(err) {
			t.Fatalf("%s: err = %T", tc.name, err)
		}
	}
}

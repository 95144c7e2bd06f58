package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pricewatch/internal/eventbus"
	logx "pricewatch/pkg/logx"
)

func startService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }
	if err := s.AddCron("bad", "not cron", 0, noop); err == nil {
		t.Fatal("expected cron parse error")
	}
	if err := s.AddInterval("zero", 0, 0, noop); err == nil {
		t.Fatal("expected interval error")
	}
	if err := s.AddSchedule("", "60s", 0, noop); err == nil {
		t.Fatal("expected name error")
	}
	if err := s.AddSchedule("nil job", "60s", 0, nil); err == nil {
		t.Fatal("expected job error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	cases := []struct {
		spec string
		ok   bool
	}{
		{"60s", true},
		{"every:1m", true},
		{"0 3 * * 0", true},
		{"@daily", true},
		{"00:15", true},
		{"0 3 * * funday", false},
		{"soon", false},
		{"", false},
	}
	for _, tc := range cases {
		if err := s.Validate(tc.spec); (err == nil) != tc.ok {
			t.Fatalf("Validate(%q) = %v, want ok=%v", tc.spec, err, tc.ok)
		}
	}
}

func TestRunNowSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startService(t, bus)

	release := make(chan struct{})
	var runs atomic.Int32
	if err := s.AddSchedule("price_check", "1h", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if err := s.RunNow("price_check"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() == 1 })

	if err := s.RunNow("price_check"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second RunNow = %v, want ErrAlreadyRunning", err)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TypeJobSkipped {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no skip event")
	}

	close(release)
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return len(snap.History) == 1 && !snap.Schedules[0].Running
	})
	info := s.Snapshot().Schedules[0]
	if info.Runs != 1 || info.Skips != 1 || info.Spec != "@every 1h0m0s" {
		t.Fatalf("schedule info = %+v", info)
	}
	if info.Next.IsZero() {
		t.Fatal("expected next fire time")
	}
}

func TestRunNowUnknownAndNotStarted(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
	_ = s.AddInterval("tick", time.Minute, 0, func(context.Context) error { return nil })
	if err := s.RunNow("tick"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestJobTimeoutAndPanicRecorded(t *testing.T) {
	t.Parallel()
	s := startService(t, nil)

	_ = s.AddInterval("slow", time.Hour, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_ = s.AddInterval("panics", time.Hour, time.Second, func(context.Context) error {
		panic("boom")
	})
	if err := s.RunNow("slow"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("panics"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 2 })

	for _, info := range s.Snapshot().Schedules {
		if info.Failures != 1 || info.LastError == "" {
			t.Fatalf("%s: %+v, want one recorded failure", info.Name, info)
		}
	}
}

func TestScheduledFire(t *testing.T) {
	t.Parallel()
	s := startService(t, nil)
	var runs atomic.Int32
	if err := s.AddCron("every_second", "* * * * * *", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() >= 1 })
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := startService(t, nil)
	_ = s.AddInterval("a", time.Hour, 0, func(context.Context) error { return nil })
	if !s.Remove("a") {
		t.Fatal("Remove = false")
	}
	if s.Remove("a") {
		t.Fatal("second Remove = true")
	}
	if n := len(s.Snapshot().Schedules); n != 0 {
		t.Fatalf("schedules = %d", n)
	}
}

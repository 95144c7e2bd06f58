package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int64("user_id", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v, want test", m["comp"])
	}
	if m["user_id"] != float64(42) {
		t.Fatalf("user_id = %v, want 42", m["user_id"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v, want boom", m["err"])
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v, want hello", m["message"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled at warn level")
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "debug", "INFO", "warning", "error", "trace"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal(`ValidLevel("loud") = true`)
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()

	got := formatTelegramJSON([]byte(`{"level":"warn","message":"fetch failed","time":"x","catalog_id":7,"comp":"pricecheck"}`))
	want := "[WARN] fetch failed\n- catalog_id=7\n- comp=pricecheck"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}

	if got := formatTelegramJSON([]byte("  not json \n")); got != "not json" {
		t.Fatalf("raw passthrough = %q", got)
	}
}

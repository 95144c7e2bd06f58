package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidateInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		minutes int
		ok      bool
	}{
		{14, false},
		{15, true},
		{60, true},
		{1440, true},
		{1441, false},
		{0, false},
		{-5, false},
	}
	for _, tt := range tests {
		err := ValidateInterval(tt.minutes)
		if tt.ok && err != nil {
			t.Fatalf("ValidateInterval(%d) error: %v", tt.minutes, err)
		}
		if !tt.ok {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateInterval(%d) = %v, want *ValidationError", tt.minutes, err)
			}
			if ve.Field != "check_interval" {
				t.Fatalf("Field = %q", ve.Field)
			}
		}
	}
}

func TestIsDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	tests := []struct {
		name  string
		user  User
		items int
		want  bool
	}{
		{name: "never checked", user: User{CheckInterval: 60, NotificationsEnabled: true}, items: 1, want: true},
		{name: "boundary inclusive", user: User{CheckInterval: 60, NotificationsEnabled: true, LastCheck: at(60 * time.Minute)}, items: 2, want: true},
		{name: "one second early", user: User{CheckInterval: 60, NotificationsEnabled: true, LastCheck: at(60*time.Minute - time.Second)}, items: 2, want: false},
		{name: "overdue", user: User{CheckInterval: 15, NotificationsEnabled: true, LastCheck: at(3 * time.Hour)}, items: 1, want: true},
		{name: "notifications off", user: User{CheckInterval: 15, NotificationsEnabled: false}, items: 1, want: false},
		{name: "no items", user: User{CheckInterval: 15, NotificationsEnabled: true}, items: 0, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.user, tt.items, now); got != tt.want {
				t.Fatalf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	p := decimal.RequireFromString("100.00")

	if got := Classify(decimal.NullDecimal{}, p); got != OutcomeBaseline {
		t.Fatalf("null stored = %v, want baseline", got)
	}
	if got := Classify(decimal.NewNullDecimal(decimal.RequireFromString("100")), p); got != OutcomeUnchanged {
		t.Fatalf("100 vs 100.00 = %v, want unchanged", got)
	}
	if got := Classify(decimal.NewNullDecimal(decimal.RequireFromString("100.01")), p); got != OutcomeChanged {
		t.Fatalf("100.01 vs 100.00 = %v, want changed", got)
	}
}

func TestNewPriceChange(t *testing.T) {
	t.Parallel()
	item := Item{ID: 3, CatalogID: 777, Name: "AK-47 | Redline"}
	at := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	c := NewPriceChange(item, decimal.RequireFromString("100.00"), decimal.RequireFromString("90.00"), at)
	if !c.Diff.Equal(decimal.RequireFromString("-10")) {
		t.Fatalf("Diff = %s, want -10", c.Diff)
	}
	if got := c.Percent.StringFixed(1); got != "-10.0" {
		t.Fatalf("Percent = %s, want -10.0", got)
	}
	if c.Up() {
		t.Fatal("Up() = true for a drop")
	}

	up := NewPriceChange(item, decimal.RequireFromString("3"), decimal.RequireFromString("4"), at)
	if got := up.Percent.StringFixed(1); got != "33.3" {
		t.Fatalf("Percent = %s, want 33.3", got)
	}
	if !up.Up() {
		t.Fatal("Up() = false for a rise")
	}
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("timeout")

	for _, err := range []error{
		&FetchError{CatalogID: 1, Err: base},
		&DeliveryError{SubscriberID: 2, Err: base},
		&StoreError{Op: "mark_checked", Err: base},
		fmt.Errorf("wrapped: %w", &StoreError{Op: "x", Err: base}),
	} {
		if !errors.Is(err, base) {
			t.Fatalf("%v does not unwrap to base", err)
		}
	}
	if !IsValidation(fmt.Errorf("ctx: %w", ValidateInterval(5))) {
		t.Fatal("IsValidation should see through wrapping")
	}
}

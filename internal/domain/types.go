package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Check interval bounds, in minutes.
const (
	MinInterval     = 15
	MaxInterval     = 1440
	DefaultInterval = 60
)

// User is a subscriber identified by its chat-platform id.
type User struct {
	ID                   int64      `json:"id"`
	CheckInterval        int        `json:"check_interval"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	LastCheck            *time.Time `json:"last_check,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Item is a tracked marketplace listing, shared by all of its subscribers.
type Item struct {
	ID        int64               `json:"id"`
	CatalogID int64               `json:"catalog_id"`
	Name      string              `json:"name"`
	LastPrice decimal.NullDecimal `json:"last_price"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type Subscription struct {
	UserID       int64     `json:"user_id"`
	ItemID       int64     `json:"item_id"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

type PriceHistory struct {
	ID        int64           `json:"id"`
	ItemID    int64           `json:"item_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserSettings is a partial update; nil fields are left untouched.
type UserSettings struct {
	CheckInterval        *int  `json:"check_interval,omitempty"`
	NotificationsEnabled *bool `json:"notifications_enabled,omitempty"`
}

// ValidateInterval rejects intervals outside [MinInterval, MaxInterval].
func ValidateInterval(minutes int) error {
	if minutes < MinInterval || minutes > MaxInterval {
		return &ValidationError{
			Field:  "check_interval",
			Value:  minutes,
			Reason: "must be between 15 and 1440 minutes",
		}
	}
	return nil
}

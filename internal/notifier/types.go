package notifier

import (
	"time"
)

type Config struct {
	Enabled       bool
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// Location renders timestamps; nil means UTC.
	Location *time.Location
}

type HistoryItem struct {
	At           time.Time `json:"at"`
	SubscriberID int64     `json:"subscriber_id"`
	CatalogID    int64     `json:"catalog_id"`
	OK           bool      `json:"ok"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error,omitempty"`
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	SubscriberID int64     `json:"subscriber_id"`
	ItemID       int64     `json:"item_id"`
	CatalogID    int64     `json:"catalog_id"`
	Attempts     int       `json:"attempts"`
	At           time.Time `json:"at"`
	Error        string    `json:"error,omitempty"`
}

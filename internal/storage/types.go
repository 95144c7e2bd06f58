package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// ErrNotFound is returned when a user or item does not exist.
var ErrNotFound = domain.ErrNotFound

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
type Config struct {
	Driver          string
	Path            string
	BusyTimeout     time.Duration // 0 means 5s
	DefaultInterval int           // check interval for new users; 0 means domain.DefaultInterval
}

// Stats is a point-in-time count of stored rows.
type Stats struct {
	Users         int64 `json:"users"`
	Items         int64 `json:"items"`
	Subscriptions int64 `json:"subscriptions"`
	HistoryRows   int64 `json:"history_rows"`
}

// Store is the persistence API used by the price-check engine and the ops API.
type Store interface {
	UpsertUser(ctx context.Context, id int64) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	UpdateUserSettings(ctx context.Context, id int64, s domain.UserSettings) (*domain.User, error)
	MarkChecked(ctx context.Context, id int64, at time.Time) error
	UsersDueForCheck(ctx context.Context, now time.Time) ([]domain.User, error)

	GetOrCreateItem(ctx context.Context, catalogID int64, name string, initial decimal.NullDecimal) (*domain.Item, error)
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	GetItemByCatalogID(ctx context.Context, catalogID int64) (*domain.Item, error)
	AddSubscription(ctx context.Context, userID, catalogID int64, name string, initial decimal.NullDecimal) (*domain.Item, error)
	RemoveSubscription(ctx context.Context, userID, itemID int64) (bool, error)
	ItemsForUser(ctx context.Context, userID int64) ([]domain.Item, error)
	IsSubscribed(ctx context.Context, userID, catalogID int64) (bool, error)
	ItemSubscribers(ctx context.Context, itemID int64) ([]int64, error)
	UpdateItemPrice(ctx context.Context, itemID int64, price decimal.Decimal) error

	AppendHistory(ctx context.Context, itemID int64, price decimal.Decimal) error
	PriceHistory(ctx context.Context, itemID int64, since time.Time) ([]domain.PriceHistory, error)
	PruneHistoryOlderThan(ctx context.Context, age time.Duration) (int64, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

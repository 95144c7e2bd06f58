package pricecheck

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// DueLister lists the users due at now.
type DueLister interface {
	UsersDueForCheck(ctx context.Context, now time.Time) ([]domain.User, error)
}

// CheckStore is the slice of storage.Store the dispatcher writes through.
type CheckStore interface {
	DueLister
	ItemsForUser(ctx context.Context, userID int64) ([]domain.Item, error)
	AppendHistory(ctx context.Context, itemID int64, price decimal.Decimal) error
	UpdateItemPrice(ctx context.Context, itemID int64, price decimal.Decimal) error
	MarkChecked(ctx context.Context, id int64, at time.Time) error
}

// HistoryPruner is the slice of storage.Store used by the retention job.
type HistoryPruner interface {
	PruneHistoryOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type Converter interface {
	Convert(amount decimal.Decimal) domain.Amounts
}

// RateRefresher refreshes exchange rates, keeping the previous ones on error.
type RateRefresher interface {
	Refresh(ctx context.Context) error
}

type Notifier interface {
	Send(ctx context.Context, subscriberID int64, change domain.PriceChange) error
}

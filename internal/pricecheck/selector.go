package pricecheck

import (
	"context"
	"time"

	"pricewatch/internal/domain"
	logx "pricewatch/pkg/logx"
)

// Selector computes the due set. It never caches: interval and
// notification settings may change between ticks.
type Selector struct {
	store DueLister
	log   logx.Logger
}

func NewSelector(store DueLister, log logx.Logger) *Selector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Selector{store: store, log: log}
}

func (s *Selector) Due(ctx context.Context, now time.Time) ([]domain.User, error) {
	users, err := s.store.UsersDueForCheck(ctx, now)
	if err != nil {
		return nil, err
	}
	s.log.Debug("due users selected", logx.Int("count", len(users)), logx.Time("now", now))
	return users, nil
}

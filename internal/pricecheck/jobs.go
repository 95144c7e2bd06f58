package pricecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "pricewatch/pkg/logx"
)

// DefaultRetention is how long price history is kept.
const DefaultRetention = 7 * 24 * time.Hour

// RetentionJob prunes price history older than Age.
type RetentionJob struct {
	store HistoryPruner
	age   time.Duration
	log   logx.Logger
}

func NewRetentionJob(store HistoryPruner, age time.Duration, log logx.Logger) *RetentionJob {
	if age <= 0 {
		age = DefaultRetention
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RetentionJob{store: store, age: age, log: log}
}

func (j *RetentionJob) Age() time.Duration { return j.age }

func (j *RetentionJob) Run(ctx context.Context) error {
	if j.store == nil {
		return errors.New("retention: no store")
	}
	n, err := j.store.PruneHistoryOlderThan(ctx, j.age)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	j.log.Info("price history pruned", logx.Int64("rows", n), logx.Duration("older_than", j.age))
	return nil
}

// CurrencyRefreshJob refreshes exchange rates. A failed refresh leaves the
// previous rates in use and is reported to the scheduler as a job error.
type CurrencyRefreshJob struct {
	rates RateRefresher
	log   logx.Logger
}

func NewCurrencyRefreshJob(rates RateRefresher, log logx.Logger) *CurrencyRefreshJob {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CurrencyRefreshJob{rates: rates, log: log}
}

func (j *CurrencyRefreshJob) Run(ctx context.Context) error {
	if j.rates == nil {
		return errors.New("currency refresh: no converter")
	}
	if err := j.rates.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh rates: %w", err)
	}
	j.log.Debug("exchange rates refreshed")
	return nil
}

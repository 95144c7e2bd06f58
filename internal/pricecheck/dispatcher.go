package pricecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pricewatch/internal/domain"
	"pricewatch/internal/eventbus"
	"pricewatch/internal/notifier"
	"pricewatch/internal/pricesource"
	logx "pricewatch/pkg/logx"
)

type Deps struct {
	Store     CheckStore
	Source    pricesource.Source
	Converter Converter
	Notifier  Notifier
	Clock     domain.Clock
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Dispatcher runs price-check ticks. It keeps no state between ticks; all
// state lives in the store.
type Dispatcher struct {
	store    CheckStore
	selector *Selector
	source   pricesource.Source
	conv     Converter
	notifier Notifier
	clock    domain.Clock
	bus      eventbus.Bus
	log      logx.Logger
}

func NewDispatcher(d Deps) (*Dispatcher, error) {
	if d.Store == nil {
		return nil, errors.New("pricecheck: store required")
	}
	if d.Source == nil {
		return nil, errors.New("pricecheck: price source required")
	}
	if d.Converter == nil {
		return nil, errors.New("pricecheck: converter required")
	}
	if d.Notifier == nil {
		return nil, errors.New("pricecheck: notifier required")
	}
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Dispatcher{
		store:    d.Store,
		selector: NewSelector(d.Store, d.Log),
		source:   d.Source,
		conv:     d.Converter,
		notifier: d.Notifier,
		clock:    d.Clock,
		bus:      d.Bus,
		log:      d.Log,
	}, nil
}

// TickReport summarizes one tick.
type TickReport struct {
	RunID          string        `json:"run_id"`
	Now            time.Time     `json:"now"`
	Users          int           `json:"users"`
	UsersFailed    int           `json:"users_failed"`
	Items          int           `json:"items"`
	Baselines      int           `json:"baselines"`
	Unchanged      int           `json:"unchanged"`
	Changed        int           `json:"changed"`
	FetchFailed    int           `json:"fetch_failed"`
	StoreFailed    int           `json:"store_failed"`
	Notified       int           `json:"notified"`
	DeliveryFailed int           `json:"delivery_failed"`
	Duration       time.Duration `json:"duration"`
}

// PriceEvent is the Data of price.baseline and price.changed bus events.
type PriceEvent struct {
	RunID        string              `json:"run_id"`
	SubscriberID int64               `json:"subscriber_id"`
	Change       *domain.PriceChange `json:"change,omitempty"`
	ItemID       int64               `json:"item_id"`
	CatalogID    int64               `json:"catalog_id"`
	Price        string              `json:"price"`
}

// Tick runs one check at the clock's current time. It is the scheduler
// job body.
func (d *Dispatcher) Tick(ctx context.Context) error {
	_, err := d.RunTick(ctx, d.clock.Now())
	return err
}

// RunTick checks every user due at now. It fails only when the due set
// cannot be computed; per-user and per-item failures are logged and
// counted in the report.
func (d *Dispatcher) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	start := time.Now()
	rep := TickReport{RunID: uuid.NewString(), Now: now}
	log := d.log.With(logx.String("run_id", rep.RunID))

	users, err := d.selector.Due(ctx, now)
	if err != nil {
		log.Error("select due users failed", logx.Err(err))
		return rep, fmt.Errorf("select due users: %w", err)
	}
	rep.Users = len(users)

	for i, u := range users {
		if err := ctx.Err(); err != nil {
			log.Warn("tick interrupted", logx.Int("remaining_users", len(users)-i), logx.Err(err))
			break
		}
		if err := d.checkUser(ctx, log, &rep, u, now); err != nil {
			rep.UsersFailed++
			log.Warn("user check failed", logx.Int64("user_id", u.ID), logx.Err(err))
		}
	}

	rep.Duration = time.Since(start)
	if rep.Users > 0 {
		log.Info("price check tick done",
			logx.Int("users", rep.Users),
			logx.Int("items", rep.Items),
			logx.Int("changed", rep.Changed),
			logx.Int("baselines", rep.Baselines),
			logx.Int("fetch_failed", rep.FetchFailed),
			logx.Int("notified", rep.Notified),
			logx.Int("delivery_failed", rep.DeliveryFailed),
			logx.Duration("took", rep.Duration),
		)
	}
	d.publish(eventbus.TypeTickDone, rep)
	return rep, nil
}

// checkUser processes every item of u, then marks u checked at now even if
// some items failed. An error means the user could not be processed or
// marked at all.
func (d *Dispatcher) checkUser(ctx context.Context, log logx.Logger, rep *TickReport, u domain.User, now time.Time) error {
	items, err := d.store.ItemsForUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	ulog := log.With(logx.Int64("user_id", u.ID))
	ulog.Debug("checking user", logx.Int("items", len(items)), logx.Int("interval", u.CheckInterval))

	for _, it := range items {
		rep.Items++
		d.checkItem(ctx, ulog, rep, u.ID, it, now)
	}

	if err := d.store.MarkChecked(ctx, u.ID, now); err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}
	return nil
}

func (d *Dispatcher) checkItem(ctx context.Context, log logx.Logger, rep *TickReport, userID int64, it domain.Item, now time.Time) {
	ilog := log.With(logx.Int64("item_id", it.ID), logx.Int64("catalog_id", it.CatalogID))

	q, err := d.source.Fetch(ctx, it.CatalogID)
	if err != nil {
		rep.FetchFailed++
		var fe *domain.FetchError
		if !errors.As(err, &fe) {
			err = &domain.FetchError{CatalogID: it.CatalogID, Err: err}
		}
		ilog.Warn("price fetch failed", logx.Err(err))
		return
	}

	if err := d.store.AppendHistory(ctx, it.ID, q.Price); err != nil {
		rep.StoreFailed++
		ilog.Warn("append history failed", logx.Err(err))
		return
	}

	switch domain.Classify(it.LastPrice, q.Price) {
	case domain.OutcomeBaseline:
		if err := d.store.UpdateItemPrice(ctx, it.ID, q.Price); err != nil {
			rep.StoreFailed++
			ilog.Warn("store baseline failed", logx.Err(err))
			return
		}
		rep.Baselines++
		ilog.Info("baseline price recorded", logx.Stringer("price", q.Price))
		d.publish(eventbus.TypePriceBaseline, PriceEvent{RunID: rep.RunID, SubscriberID: userID, ItemID: it.ID, CatalogID: it.CatalogID, Price: q.Price.String()})

	case domain.OutcomeUnchanged:
		rep.Unchanged++
		ilog.Debug("price unchanged", logx.Stringer("price", q.Price))

	case domain.OutcomeChanged:
		old := it.LastPrice.Decimal
		if err := d.store.UpdateItemPrice(ctx, it.ID, q.Price); err != nil {
			rep.StoreFailed++
			ilog.Warn("update price failed", logx.Err(err))
			return
		}
		rep.Changed++

		change := domain.NewPriceChange(it, old, q.Price, now)
		if change.ItemName == "" {
			change.ItemName = q.Name
		}
		change.New = d.conv.Convert(q.Price)
		change.Old = d.conv.Convert(old)
		ilog.Info("price changed",
			logx.Stringer("old", old),
			logx.Stringer("new", q.Price),
			logx.String("percent", change.Percent.StringFixed(1)),
		)
		d.publish(eventbus.TypePriceChanged, PriceEvent{RunID: rep.RunID, SubscriberID: userID, ItemID: it.ID, CatalogID: it.CatalogID, Price: q.Price.String(), Change: &change})

		// The price update above stands regardless of delivery.
		switch err := d.notifier.Send(ctx, userID, change); {
		case err == nil:
			rep.Notified++
		case errors.Is(err, notifier.ErrDisabled):
			ilog.Debug("notification skipped; notifier disabled")
		default:
			rep.DeliveryFailed++
			var de *domain.DeliveryError
			if !errors.As(err, &de) {
				err = &domain.DeliveryError{SubscriberID: userID, Err: err}
			}
			ilog.Warn("notification failed", logx.Err(err))
		}
	}
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.clock.Now(), Data: data})
}

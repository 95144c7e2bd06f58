package pricecheck

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	"pricewatch/internal/eventbus"
	"pricewatch/internal/notifier"
	"pricewatch/internal/pricesource"
	logx "pricewatch/pkg/logx"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	items   map[int64]*domain.Item
	subs    map[int64][]int64 // user -> item ids
	history map[int64][]decimal.Decimal
	updates map[int64]int
	checked map[int64]time.Time

	dueErr   error
	itemsErr map[int64]error
	markErr  map[int64]error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]*domain.User{},
		items:    map[int64]*domain.Item{},
		subs:     map[int64][]int64{},
		history:  map[int64][]decimal.Decimal{},
		updates:  map[int64]int{},
		checked:  map[int64]time.Time{},
		itemsErr: map[int64]error{},
		markErr:  map[int64]error{},
	}
}

func (m *memStore) addUser(id int64, interval int, last *time.Time) {
	m.users[id] = &domain.User{ID: id, CheckInterval: interval, NotificationsEnabled: true, LastCheck: last}
}

func (m *memStore) addItem(userID, itemID, catalogID int64, last string) {
	it, ok := m.items[itemID]
	if !ok {
		it = &domain.Item{ID: itemID, CatalogID: catalogID, Name: "item"}
		if last != "" {
			it.LastPrice = decimal.NewNullDecimal(decimal.RequireFromString(last))
		}
		m.items[itemID] = it
	}
	m.subs[userID] = append(m.subs[userID], itemID)
}

func (m *memStore) UsersDueForCheck(_ context.Context, now time.Time) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var out []domain.User
	for _, u := range m.users {
		if domain.IsDue(*u, len(m.subs[u.ID]), now) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ItemsForUser(_ context.Context, userID int64) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.itemsErr[userID]; err != nil {
		return nil, err
	}
	var out []domain.Item
	for _, id := range m.subs[userID] {
		out = append(out, *m.items[id])
	}
	return out, nil
}

func (m *memStore) AppendHistory(_ context.Context, itemID int64, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[itemID] = append(m.history[itemID], price)
	return nil
}

func (m *memStore) UpdateItemPrice(_ context.Context, itemID int64, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemID].LastPrice = decimal.NewNullDecimal(price)
	m.updates[itemID]++
	return nil
}

func (m *memStore) MarkChecked(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.markErr[id]; err != nil {
		return err
	}
	m.checked[id] = at
	m.users[id].LastCheck = &at
	return nil
}

func (m *memStore) PruneHistoryOlderThan(_ context.Context, age time.Duration) (int64, error) {
	if age != DefaultRetention {
		return 0, errors.New("unexpected age")
	}
	return 4, nil
}

type quoteSource struct {
	mu     sync.Mutex
	prices map[int64]string
	fail   map[int64]error
	calls  int
}

func (q *quoteSource) Fetch(_ context.Context, catalogID int64) (pricesource.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if err := q.fail[catalogID]; err != nil {
		return pricesource.Quote{}, &domain.FetchError{CatalogID: catalogID, Err: err}
	}
	return pricesource.Quote{CatalogID: catalogID, Name: "item", Price: decimal.RequireFromString(q.prices[catalogID])}, nil
}

type identityConverter struct{}

func (identityConverter) Convert(a decimal.Decimal) domain.Amounts {
	return domain.Amounts{{Currency: "CNY", Amount: a.Round(2)}}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentChange
	err  error
}

type sentChange struct {
	to     int64
	change domain.PriceChange
}

func (n *recordingNotifier) Send(_ context.Context, to int64, c domain.PriceChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentChange{to: to, change: c})
	return n.err
}

func newDispatcher(t *testing.T, st *memStore, src *quoteSource, n Notifier, bus eventbus.Bus) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Deps{
		Store:     st,
		Source:    src,
		Converter: identityConverter{},
		Notifier:  n,
		Clock:     domain.ClockFunc(func() time.Time { return t0 }),
		Bus:       bus,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestNewDispatcherRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := NewDispatcher(Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestTickUnchangedPrice(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addItem(1, 10, 1001, "100")
	src := &quoteSource{prices: map[int64]string{1001: "100.00"}}
	n := &recordingNotifier{}

	rep, err := newDispatcher(t, st, src, n, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Unchanged != 1 || rep.Changed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(st.history[10]) != 1 {
		t.Fatalf("history rows = %d, want 1", len(st.history[10]))
	}
	if st.updates[10] != 0 {
		t.Fatalf("UpdateItemPrice called %d times", st.updates[10])
	}
	if len(n.sent) != 0 {
		t.Fatalf("notifications = %d, want 0", len(n.sent))
	}
	if !st.checked[1].Equal(t0) {
		t.Fatalf("last check = %v, want %v", st.checked[1], t0)
	}
}

func TestTickPriceDrop(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addItem(1, 10, 1001, "100.00")
	src := &quoteSource{prices: map[int64]string{1001: "90.00"}}
	n := &recordingNotifier{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	rep, err := newDispatcher(t, st, src, n, bus).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Changed != 1 || rep.Notified != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := st.items[10].LastPrice.Decimal; !got.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("last price = %s, want 90", got)
	}
	if len(n.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.sent))
	}
	c := n.sent[0].change
	if n.sent[0].to != 1 {
		t.Fatalf("sent to %d, want 1", n.sent[0].to)
	}
	if c.Diff.StringFixed(2) != "-10.00" || c.Percent.StringFixed(1) != "-10.0" {
		t.Fatalf("diff=%s percent=%s", c.Diff.StringFixed(2), c.Percent.StringFixed(1))
	}
	if c.Up() {
		t.Fatal("drop reported as increase")
	}
	if len(c.New) == 0 || len(c.Old) == 0 {
		t.Fatalf("amounts not converted: %+v", c)
	}

	seen := map[string]bool{}
	for len(events) > 0 {
		seen[(<-events).Type] = true
	}
	for _, typ := range []string{eventbus.TypePriceChanged, eventbus.TypeTickDone} {
		if !seen[typ] {
			t.Fatalf("missing %s event; got %v", typ, seen)
		}
	}
}

func TestTickBaselineDoesNotNotify(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addItem(1, 10, 1001, "")
	src := &quoteSource{prices: map[int64]string{1001: "42.50"}}
	n := &recordingNotifier{}

	rep, err := newDispatcher(t, st, src, n, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Baselines != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !st.items[10].LastPrice.Valid {
		t.Fatal("baseline not stored")
	}
	if len(n.sent) != 0 {
		t.Fatalf("notifications = %d, want 0", len(n.sent))
	}
}

func TestTickFetchFailureIsolated(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addItem(1, 10, 1001, "10")
	st.addItem(1, 11, 1002, "20")
	st.addItem(1, 12, 1003, "30")
	src := &quoteSource{
		prices: map[int64]string{1001: "11", 1003: "33"},
		fail:   map[int64]error{1002: errors.New("timeout")},
	}
	n := &recordingNotifier{}

	rep, err := newDispatcher(t, st, src, n, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.FetchFailed != 1 || rep.Changed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if st.updates[10] != 1 || st.updates[12] != 1 || st.updates[11] != 0 {
		t.Fatalf("updates = %v", st.updates)
	}
	if len(st.history[11]) != 0 {
		t.Fatal("history written for failed fetch")
	}
	if _, ok := st.checked[1]; !ok {
		t.Fatal("user not marked checked")
	}
}

func TestTickDeliveryFailureKeepsUpdate(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addItem(1, 10, 1001, "100")
	src := &quoteSource{prices: map[int64]string{1001: "120"}}
	n := &recordingNotifier{err: &domain.DeliveryError{SubscriberID: 1, Err: errors.New("blocked")}}

	rep, err := newDispatcher(t, st, src, n, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.DeliveryFailed != 1 || rep.Notified != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if got := st.items[10].LastPrice.Decimal; !got.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("last price = %s, want 120", got)
	}
	if _, ok := st.checked[1]; !ok {
		t.Fatal("user not marked checked")
	}
}

func TestTickNotifierDisabledIsNotAFailure(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addItem(1, 10, 1001, "100")
	src := &quoteSource{prices: map[int64]string{1001: "101"}}
	n := &recordingNotifier{err: notifier.ErrDisabled}

	rep, _ := newDispatcher(t, st, src, n, nil).RunTick(context.Background(), t0)
	if rep.DeliveryFailed != 0 || rep.Notified != 0 || rep.Changed != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestTickUserFailureIsolated(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addUser(2, 60, nil)
	st.addUser(3, 60, nil)
	st.addItem(1, 10, 1001, "5")
	st.addItem(2, 11, 1002, "5")
	st.addItem(3, 12, 1003, "5")
	st.itemsErr[1] = errors.New("disk I/O error")
	st.markErr[2] = errors.New("database is locked")
	src := &quoteSource{prices: map[int64]string{1001: "6", 1002: "6", 1003: "6"}}

	rep, err := newDispatcher(t, st, src, &recordingNotifier{}, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Users != 3 || rep.UsersFailed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if _, ok := st.checked[1]; ok {
		t.Fatal("user 1 marked checked despite item listing failure")
	}
	if _, ok := st.checked[3]; !ok {
		t.Fatal("user 3 not processed")
	}
	if st.updates[11] != 1 {
		t.Fatal("user 2 items not processed")
	}
}

func TestTickSkipsUsersNotDue(t *testing.T) {
	t.Parallel()
	recent := t0.Add(-10 * time.Minute)
	old := t0.Add(-20 * time.Minute)
	st := newMemStore()
	st.addUser(1, 15, &recent)
	st.addUser(2, 15, &old)
	st.addItem(1, 10, 1001, "1")
	st.addItem(2, 11, 1002, "1")
	src := &quoteSource{prices: map[int64]string{1001: "1", 1002: "1"}}

	rep, err := newDispatcher(t, st, src, &recordingNotifier{}, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Users != 1 || src.calls != 1 {
		t.Fatalf("users=%d fetches=%d, want 1/1", rep.Users, src.calls)
	}
	if st.checked[1] != (time.Time{}) {
		t.Fatal("user 1 checked before its interval elapsed")
	}
}

func TestTickSharedItemSecondUserSeesUpdatedPrice(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.addUser(1, 60, nil)
	st.addUser(2, 60, nil)
	st.addItem(1, 10, 1001, "50")
	st.addItem(2, 10, 1001, "50")
	src := &quoteSource{prices: map[int64]string{1001: "55"}}
	n := &recordingNotifier{}

	rep, err := newDispatcher(t, st, src, n, nil).RunTick(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if src.calls != 2 || rep.Changed != 1 || rep.Unchanged != 1 {
		t.Fatalf("fetches=%d report=%+v", src.calls, rep)
	}
	if len(n.sent) != 1 || n.sent[0].to != 1 {
		t.Fatalf("sent = %+v", n.sent)
	}
}

func TestTickDueSelectionError(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.dueErr = errors.New("no such table: users")
	if _, err := newDispatcher(t, st, &quoteSource{}, &recordingNotifier{}, nil).RunTick(context.Background(), t0); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetentionJob(t *testing.T) {
	t.Parallel()
	j := NewRetentionJob(newMemStore(), 0, logx.Nop())
	if j.Age() != DefaultRetention {
		t.Fatalf("Age = %v", j.Age())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

type refresher struct{ err error }

func (r refresher) Refresh(context.Context) error { return r.err }

func TestCurrencyRefreshJob(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"ok", nil, false},
		{"failure", errors.New("503"), true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := NewCurrencyRefreshJob(refresher{tc.err}, logx.Nop()).Run(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pricewatch/internal/domain"
	"pricewatch/internal/eventbus"
	kit "pricewatch/internal/transport"
	logx "pricewatch/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

const historyLimit = 300

// Service delivers price changes synchronously. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	log    logx.Logger
	bus    eventbus.Bus
	clock  domain.Clock

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus, clock domain.Clock) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	s := &Service{sender: sender, log: log, bus: bus, clock: clock}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the delivery policy. In-flight sends keep their snapshot.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a tick's first few sends go out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send renders change and delivers it to subscriberID. Failures after all
// retries are returned as *domain.DeliveryError.
func (s *Service) Send(ctx context.Context, subscriberID int64, change domain.PriceChange) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if s.sender == nil {
		return &domain.DeliveryError{SubscriberID: subscriberID, Err: errors.New("no sender configured")}
	}

	text := Render(change, cfg.Location)
	to := kit.ChatTarget{ChatID: subscriberID}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.record(subscriberID, change, attempt, nil)
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.Int64("user_id", subscriberID),
			logx.Int64("catalog_id", change.CatalogID),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err),
		)
		if errors.Is(err, kit.ErrUnreachable) || attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}

	s.record(subscriberID, change, attempt, lastErr)
	return &domain.DeliveryError{SubscriberID: subscriberID, Err: lastErr}
}

func (s *Service) record(subscriberID int64, change domain.PriceChange, attempts int, err error) {
	now := s.clock.Now()
	item := HistoryItem{At: now, SubscriberID: subscriberID, CatalogID: change.CatalogID, OK: err == nil, Attempts: attempts}
	ev := NotificationEvent{SubscriberID: subscriberID, ItemID: change.ItemID, CatalogID: change.CatalogID, Attempts: attempts, At: now}
	typ := eventbus.TypeNotifierSent
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
		typ = eventbus.TypeNotifierFailed
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
	}
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

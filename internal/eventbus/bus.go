// Package eventbus is a small in-process fanout used to surface engine
// activity (ticks, price changes, deliveries) to loggers and the ops API.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by pricewatch components.
const (
	TypeTickDone       = "tick.done"
	TypePriceBaseline  = "price.baseline"
	TypePriceChanged   = "price.changed"
	TypeNotifierSent   = "notifier.sent"
	TypeNotifierFailed = "notifier.failed"
	TypeJobSkipped     = "job.skipped"
	TypeConfigReloaded = "config.reloaded"
)

// Event is a small signal. Data should be JSON-serializable.
//
// Publish never blocks; a subscriber whose buffer is full misses events.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under
			// the write lock cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber
// buffer was full. Zero for buses not created by New.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}

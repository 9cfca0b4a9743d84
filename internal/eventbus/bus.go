package eventbus

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a single timestamped line published on the bus.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Handler consumes events. Handlers run synchronously on the publisher's
// goroutine and must not publish back onto the same bus.
type Handler func(Event)

// Publisher is the narrow surface components use to emit lines.
type Publisher interface {
	Publish(text string) Event
}

// Option customizes Bus construction.
type Option func(*Bus)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Bus is an in-process publish/subscribe channel for narrated progress lines.
// History is append-only for the lifetime of the bus.
type Bus struct {
	mu      sync.RWMutex
	history []Event
	subs    []*subscription
	nextSeq int64
	nextSub int64
	clock   func() time.Time

	// deliverMu serializes delivery so every subscriber sees events in
	// publish order even with concurrent publishers.
	deliverMu sync.Mutex
}

type subscription struct {
	id      int64
	handler Handler
	active  atomic.Bool
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish appends a timestamped line and notifies every registered subscriber
// in subscription order.
func (b *Bus) Publish(text string) Event {
	text = strings.TrimRight(text, "\n")
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.nextSeq++
	event := Event{Seq: b.nextSeq, Timestamp: b.clock().UTC(), Text: text}
	b.history = append(b.history, event)
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.handler(event)
		}
	}
	return event
}

// Publishf formats and publishes a line.
func (b *Bus) Publishf(format string, args ...any) Event {
	return b.Publish(fmt.Sprintf(format, args...))
}

// Subscribe registers handler and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextSub++
	sub := &subscription{id: b.nextSub, handler: handler}
	sub.active.Store(true)
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return func() { b.remove(sub) }
}

func (b *Bus) remove(target *subscription) {
	target.active.Store(false)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == target.id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribers reports how many handlers are currently registered.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Events returns a copy of the full history.
func (b *Bus) Events() []Event {
	return b.Since(0)
}

// Since returns events with a sequence number greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	// Sequence numbers start at 1 and are dense, so the offset is direct.
	if seq >= int64(len(b.history)) {
		return nil
	}
	out := make([]Event, len(b.history)-int(seq))
	copy(out, b.history[seq:])
	return out
}

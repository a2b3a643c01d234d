// Package eventbus is the in-process publish/subscribe dispatcher between the
// connection manager and its consumers.
//
// Emit is synchronous: handlers run on the caller's goroutine, in
// registration order, before Emit returns. A panicking handler is recovered
// and logged; the remaining handlers still run.
package eventbus

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"meshdash/internal/metrics"
)

// Handler receives emitted events.
type Handler func(Event)

// Subscription is the handle of one registration. Unsubscribe is idempotent.
type Subscription struct {
	bus     *Bus
	tag     Tag
	fn      Handler
	removed atomic.Bool
}

// Tag returns the tag the subscription was registered under.
func (s *Subscription) Tag() Tag {
	if s == nil {
		return ""
	}
	return s.tag
}

// Unsubscribe removes exactly this registration.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s.tag, s)
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics counts emissions and recovered panics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// Bus maps tags to insertion-ordered handler lists.
type Bus struct {
	mu      sync.RWMutex
	topics  map[Tag][]*Subscription
	metrics *metrics.Metrics
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[Tag][]*Subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers fn under tag and returns its handle.
func (b *Bus) Subscribe(tag Tag, fn Handler) *Subscription {
	if b == nil || fn == nil {
		return nil
	}
	sub := &Subscription{bus: b, tag: tag, fn: fn}

	b.mu.Lock()
	b.topics[tag] = append(b.topics[tag], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from tag. Unknown or already removed handles are a no-op.
// The tag keeps its (possibly empty) list.
func (b *Bus) Unsubscribe(tag Tag, sub *Subscription) {
	if b == nil || sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.topics[tag]
	for i, existing := range list {
		if existing != sub {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		b.topics[tag] = next
		sub.removed.Store(true)
		return
	}
}

// Emit delivers e to every handler registered under e.Tag().
// Handlers removed during the emission are skipped.
func (b *Bus) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	tag := e.Tag()

	b.mu.RLock()
	subs := append([]*Subscription(nil), b.topics[tag]...)
	b.mu.RUnlock()

	b.metrics.IncBusEmitted(string(tag))
	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		b.invoke(tag, sub, e)
	}
}

// Len returns the number of handlers registered under tag.
func (b *Bus) Len(tag Tag) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	n := len(b.topics[tag])
	b.mu.RUnlock()
	return n
}

// Has reports whether tag was ever subscribed to.
func (b *Bus) Has(tag Tag) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	_, ok := b.topics[tag]
	b.mu.RUnlock()
	return ok
}

func (b *Bus) invoke(tag Tag, sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncBusHandlerPanic(string(tag))
			logs.Errorf("event handler panic, tag: %s, err: %+v\n%s", tag, r, debug.Stack())
		}
	}()
	sub.fn(e)
}

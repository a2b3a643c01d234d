// Package inbox keeps the unread counters and the recent message list the
// dashboard badges and toasts are rendered from.
package inbox

import (
	"sync"

	"meshdash/internal/eventbus"
	"meshdash/internal/model"
)

const defaultCapacity = 50

// Option configures an Inbox.
type Option struct {
	// Capacity bounds the recent list. Zero uses the default.
	Capacity int
	// ClearOnLogout drops all state when AUTH_LOGOUT is published.
	ClearOnLogout bool
}

// Inbox tracks messages published under MESSAGE_RECEIVED.
type Inbox struct {
	capacity int

	mu      sync.RWMutex
	unread  map[model.ID]int
	total   int
	recent  []model.InboundMessage
	seen    map[model.ID]struct{}
	updates uint64

	subs []*eventbus.Subscription
}

// New subscribes a new Inbox to bus.
func New(bus *eventbus.Bus, opt Option) *Inbox {
	capacity := opt.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	in := &Inbox{
		capacity: capacity,
		unread:   make(map[model.ID]int),
		recent:   make([]model.InboundMessage, 0, capacity),
		seen:     make(map[model.ID]struct{}, capacity),
	}

	if bus != nil {
		in.subs = append(in.subs, bus.Subscribe(eventbus.TagMessageReceived, func(e eventbus.Event) {
			if msg, ok := e.(eventbus.MessageReceived); ok {
				in.Add(msg.Message)
			}
		}))
		if opt.ClearOnLogout {
			in.subs = append(in.subs, bus.Subscribe(eventbus.TagLogout, func(eventbus.Event) {
				in.Reset()
			}))
		}
	}
	return in
}

// Add records msg as unread. A message id already in the recent list is
// ignored, so a redelivery after reconnect does not count twice.
func (in *Inbox) Add(msg model.InboundMessage) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.seen[msg.ID]; ok {
		return false
	}

	if len(in.recent) == in.capacity {
		evicted := in.recent[len(in.recent)-1]
		delete(in.seen, evicted.ID)
		in.recent = in.recent[:len(in.recent)-1]
	}
	in.recent = append(in.recent, model.InboundMessage{})
	copy(in.recent[1:], in.recent)
	in.recent[0] = msg
	in.seen[msg.ID] = struct{}{}

	in.unread[msg.Channel]++
	in.total++
	in.updates++
	return true
}

// MarkRead clears the unread counter of channel and returns the cleared count.
func (in *Inbox) MarkRead(channel model.ID) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	n := in.unread[channel]
	if n == 0 {
		return 0
	}
	delete(in.unread, channel)
	in.total -= n
	in.updates++
	return n
}

// MarkAllRead clears every counter.
func (in *Inbox) MarkAllRead() {
	in.mu.Lock()
	defer in.mu.Unlock()

	clear(in.unread)
	in.total = 0
	in.updates++
}

// Unread returns the unread count of channel.
func (in *Inbox) Unread(channel model.ID) int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.unread[channel]
}

// TotalUnread returns the unread count over all channels.
func (in *Inbox) TotalUnread() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.total
}

// Channels returns a copy of the non-zero unread counters.
func (in *Inbox) Channels() map[model.ID]int {
	in.mu.RLock()
	defer in.mu.RUnlock()

	out := make(map[model.ID]int, len(in.unread))
	for ch, n := range in.unread {
		out[ch] = n
	}
	return out
}

// Recent returns up to n messages, newest first. n <= 0 returns all of them.
func (in *Inbox) Recent(n int) []model.InboundMessage {
	in.mu.RLock()
	defer in.mu.RUnlock()

	if n <= 0 || n > len(in.recent) {
		n = len(in.recent)
	}
	out := make([]model.InboundMessage, n)
	copy(out, in.recent[:n])
	return out
}

// Version increases on every change; consumers poll it to redraw.
func (in *Inbox) Version() uint64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.updates
}

// Reset drops every counter and the recent list.
func (in *Inbox) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()

	clear(in.unread)
	clear(in.seen)
	in.recent = in.recent[:0]
	in.total = 0
	in.updates++
}

// Close unsubscribes from the bus. State stays readable.
func (in *Inbox) Close() {
	in.mu.Lock()
	subs := in.subs
	in.subs = nil
	in.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

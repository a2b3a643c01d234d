package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"meshdash/internal/eventbus"
	"meshdash/internal/metrics"
	"meshdash/pkg/websocket"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type inbound struct {
	typ     websocket.MessageType
	payload []byte
	err     error
}

type fakeConn struct {
	frames chan inbound
	done   chan struct{}
	once   sync.Once
	closed atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan inbound, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.frames:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.typ, f.payload, nil
	case <-c.done:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormal}
	}
}

func (c *fakeConn) Write(context.Context, websocket.MessageType, []byte) error {
	return nil
}

func (c *fakeConn) Close(websocket.CloseCode, string) error {
	c.closed.Add(1)
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) text(s string) {
	c.frames <- inbound{typ: websocket.MessageText, payload: []byte(s)}
}

func (c *fakeConn) closeWith(code websocket.CloseCode, reason string) {
	c.frames <- inbound{err: &websocket.CloseError{Code: code, Reason: reason}}
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	errs  []error
	fail  error
	hold  chan struct{}
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (websocket.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	err := d.fail
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	hold := d.hold
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no connection dialed")
		return nil
	}
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// fire runs the callback even when the timer was stopped, like a timer
// goroutine that already started.
func (t *fakeTimer) fire() {
	t.fn()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{delay: d, fn: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

func (s *fakeScheduler) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range s.all() {
		if !t.stopped.Load() {
			out = append(out, t)
		}
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []eventbus.Event
}

var allTags = []eventbus.Tag{
	eventbus.TagMessageReceived,
	eventbus.TagConnected,
	eventbus.TagDisconnected,
	eventbus.TagError,
	eventbus.TagReconnectScheduled,
	eventbus.TagReconnectExhausted,
}

func recordEvents(bus *eventbus.Bus) *eventLog {
	l := &eventLog{}
	for _, tag := range allTags {
		bus.Subscribe(tag, func(e eventbus.Event) {
			l.mu.Lock()
			l.events = append(l.events, e)
			l.mu.Unlock()
		})
	}
	return l
}

func (l *eventLog) of(tag eventbus.Tag) []eventbus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []eventbus.Event
	for _, e := range l.events {
		if e.Tag() == tag {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) count(tag eventbus.Tag) int {
	return len(l.of(tag))
}

type harness struct {
	m       *Manager
	bus     *eventbus.Bus
	dialer  *fakeDialer
	sched   *fakeScheduler
	events  *eventLog
	metrics *metrics.Metrics
	token   atomic.Value
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:     eventbus.New(),
		dialer:  newFakeDialer(),
		sched:   &fakeScheduler{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.token.Store("abc")
	h.events = recordEvents(h.bus)

	m, err := New(Option{
		Bus: h.bus,
		Tokens: TokenFunc(func() (string, bool) {
			s := h.token.Load().(string)
			return s, s != ""
		}),
		Dialer:    h.dialer,
		Scheduler: h.sched,
		Metrics:   h.metrics,
	})
	require.NoError(t, err)
	require.NoError(t, m.Initialize("https://mesh.example.org"))
	h.m = m
	return h
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == s }, waitFor, tick, "want state %s, got %s", s, h.m.State())
}

// connected dials and waits for the open connection.
func (h *harness) connected(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.m.Connect())
	c := h.dialer.next(t)
	h.waitState(t, StateConnected)
	return c
}

// Package realtime keeps one authenticated WebSocket connection to the
// message stream of the mesh backend, translates inbound frames into
// domain messages and recovers from drops with bounded exponential backoff.
//
// Every transition runs under one mutex. Each opened transport and each
// scheduled retry carries the generation it was started in; callbacks of a
// superseded generation are ignored, so a retry never fires after
// Disconnect even when its timer goroutine is already running.
//
// Events are queued under the lock and published in order after it is
// released, so handlers may call back into the Manager.
package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"meshdash/internal/eventbus"
	"meshdash/internal/model"
	"meshdash/pkg/exception"
	"meshdash/pkg/websocket"
)

// Manager owns the connection state machine.
type Manager struct {
	opt Option

	mu       sync.Mutex
	base     string
	state    State
	gen      uint64
	attempts int
	wanted   bool
	closed   bool
	conn     websocket.Conn
	cancel   context.CancelFunc
	timer    Timer
	outbox   []eventbus.Event
	draining bool
	detach   []*eventbus.Subscription

	wg sync.WaitGroup
}

// New creates a Manager in the Disconnected state.
func New(opt Option) (*Manager, error) {
	if opt.Bus == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil event bus")
	}
	if opt.Tokens == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil token provider")
	}

	m := &Manager{
		opt:   opt.withDefaults(),
		state: StateDisconnected,
	}
	m.opt.Metrics.SetConnectionState(m.state.String(), stateNames...)
	return m, nil
}

// Initialize sets the HTTP(S) base of the backend. The last value wins and
// takes effect on the next connect.
func (m *Manager) Initialize(base string) error {
	if _, err := parseBase(base); err != nil {
		return err
	}

	m.mu.Lock()
	m.base = strings.TrimSpace(base)
	m.mu.Unlock()
	return nil
}

// Connect opens the connection in the background. It is a no-op while a
// connection is opening or open. A missing token moves the manager to
// Error and returns exception.ErrNoToken without scheduling a retry.
func (m *Manager) Connect() error {
	m.mu.Lock()
	err := m.connectLocked()
	m.mu.Unlock()

	m.flush()
	return err
}

// Disconnect closes the connection, cancels any pending retry and moves
// the manager to Disconnected. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.wanted = false
	conn := m.disconnectLocked("client disconnect")
	m.mu.Unlock()

	closeConn(conn)
	m.flush()
}

// Reconnect is Disconnect followed by Connect.
func (m *Manager) Reconnect() error {
	_, err := m.reconnect(false)
	return err
}

// reconnect replaces the connection in one critical section. With
// onlyWanted set it does nothing unless a connection is still wanted.
func (m *Manager) reconnect(onlyWanted bool) (bool, error) {
	m.mu.Lock()
	if onlyWanted && (!m.wanted || m.closed) {
		m.mu.Unlock()
		return false, nil
	}
	conn := m.disconnectLocked("reconnect")
	err := m.connectLocked()
	m.mu.Unlock()

	closeConn(conn)
	m.flush()
	return true, err
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Close disconnects, detaches from the bus and waits for background
// goroutines. It must not be called from an event handler.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.wanted = false
	conn := m.disconnectLocked("client closed")
	m.closed = true
	subs := m.detach
	m.detach = nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	closeConn(conn)
	m.flush()
	m.wg.Wait()
	return nil
}

func (m *Manager) connectLocked() error {
	if m.closed {
		return exception.ErrClosed
	}
	if m.base == "" {
		return exception.ErrNotInitialized
	}
	m.wanted = true
	if m.state.active() {
		return nil
	}
	if m.timer == nil {
		m.attempts = 0
	}
	return m.openLocked()
}

// openLocked starts a new generation and dials it in the background.
func (m *Manager) openLocked() error {
	m.stopTimerLocked()

	token, ok := m.opt.Tokens.Token()
	if !ok || strings.TrimSpace(token) == "" {
		m.setStateLocked(StateError)
		m.emitLocked(eventbus.Failure{Err: exception.ErrNoToken})
		logs.Errorf("connect realtime stream, err: %+v", exception.ErrNoToken)
		return exception.ErrNoToken
	}

	endpoint, err := Endpoint(m.base, token)
	if err != nil {
		m.setStateLocked(StateError)
		m.emitLocked(eventbus.Failure{Err: err})
		return err
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(StateConnecting)
	m.opt.Metrics.IncConnectAttempt()

	m.wg.Add(1)
	go m.run(ctx, m.gen, endpoint)
	return nil
}

// disconnectLocked invalidates the current generation and returns the
// connection the caller must close after unlocking.
func (m *Manager) disconnectLocked(reason string) websocket.Conn {
	m.gen++
	m.attempts = 0
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil

	if m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected)
		m.emitLocked(eventbus.Disconnected{Code: websocket.CloseNormal, Reason: reason})
	}
	return conn
}

func (m *Manager) run(ctx context.Context, gen uint64, endpoint string) {
	defer m.wg.Done()

	conn, err := m.opt.Dialer.Dial(ctx, endpoint)
	if err != nil {
		m.onDialError(gen, err)
		m.flush()
		return
	}
	if !m.onOpen(gen, conn, endpoint) {
		closeConn(conn)
		return
	}
	m.flush()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			m.onReadError(gen, conn, err)
			m.flush()
			return
		}
		ok := m.onFrame(gen, msgType, payload)
		m.flush()
		if !ok {
			return
		}
	}
}

func (m *Manager) onDialError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	m.cancel = nil
	logs.Errorf("dial realtime stream, err: %+v", err)
	m.setStateLocked(StateError)
	m.emitLocked(eventbus.Failure{Err: errors.Wrap(err, "dial realtime stream")})
	m.scheduleRetryLocked()
}

func (m *Manager) onOpen(gen uint64, conn websocket.Conn, endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}

	m.conn = conn
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.emitLocked(eventbus.Connected{Endpoint: redact(endpoint)})
	logs.Infof("realtime stream connected, endpoint: %s", redact(endpoint))
	return true
}

// onFrame publishes one inbound frame. Frames that do not decode are
// logged and dropped without touching the connection.
func (m *Manager) onFrame(gen uint64, msgType websocket.MessageType, payload []byte) bool {
	if msgType != websocket.MessageText {
		m.opt.Metrics.IncFrameDropped("binary")
		return true
	}

	msg, err := model.ParseInboundMessage(payload)
	if err != nil {
		reason := "malformed"
		if err == exception.ErrEmptyFrame {
			reason = "empty"
		}
		m.opt.Metrics.IncFrameDropped(reason)
		logs.Errorf("drop inbound frame, err: %+v", err)
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.opt.Metrics.IncFrameReceived()
	m.opt.Metrics.ObserveDeliveryLatency(msg.RxTime, time.Now())
	m.emitLocked(eventbus.MessageReceived{Message: msg})
	return true
}

func (m *Manager) onReadError(gen uint64, conn websocket.Conn, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	ce, ok := websocket.AsCloseError(err)
	if !ok {
		logs.Errorf("read realtime stream, err: %+v", err)
		m.emitLocked(eventbus.Failure{Err: errors.Wrap(err, "read realtime stream")})
		ce = &websocket.CloseError{Code: websocket.CloseAbnormal}
	}

	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setStateLocked(StateDisconnected)
	m.emitLocked(eventbus.Disconnected{Code: ce.Code, Reason: ce.Reason})
	if !ce.IsClean() {
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	closeConn(conn)
}

// scheduleRetryLocked arms the single retry timer, replacing any pending one.
func (m *Manager) scheduleRetryLocked() {
	if m.closed {
		return
	}
	if m.opt.Backoff.Exhausted(m.attempts) {
		m.opt.Metrics.IncReconnectExhausted()
		m.emitLocked(eventbus.ReconnectExhausted{Attempts: m.attempts})
		logs.Errorf("realtime reconnect exhausted, attempts: %d", m.attempts)
		return
	}

	delay := m.opt.Backoff.Delay(m.attempts)
	m.attempts++
	m.stopTimerLocked()

	gen := m.gen
	m.timer = m.opt.Scheduler.AfterFunc(delay, func() { m.retry(gen) })
	m.opt.Metrics.IncReconnectScheduled()
	m.emitLocked(eventbus.ReconnectScheduled{Attempt: m.attempts, Delay: delay})
	logs.Infof("realtime reconnect scheduled, attempt: %d, delay: %s", m.attempts, delay)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state.active() {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	_ = m.openLocked()
	m.mu.Unlock()

	m.flush()
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	m.opt.Metrics.SetConnectionState(s.String(), stateNames...)
}

func (m *Manager) emitLocked(e eventbus.Event) {
	m.outbox = append(m.outbox, e)
}

// flush publishes queued events in order. Only one goroutine drains at a
// time; a nested call from a handler returns and leaves its events to the
// running drain.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for len(m.outbox) > 0 {
		e := m.outbox[0]
		m.outbox[0] = nil
		m.outbox = m.outbox[1:]
		m.mu.Unlock()

		m.opt.Bus.Emit(e)

		m.mu.Lock()
	}
	m.outbox = nil
	m.draining = false
	m.mu.Unlock()
}

func closeConn(conn websocket.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.CloseNormal, ""); err != nil {
		logs.Errorf("close realtime stream, err: %+v", err)
	}
}

func redact(endpoint string) string {
	base, _, _ := strings.Cut(endpoint, "?")
	return base
}

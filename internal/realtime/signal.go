package realtime

import (
	"github.com/yanun0323/logs"

	"meshdash/internal/eventbus"
)

// Signal is a session control input.
type Signal uint8

const (
	// SignalTokenRefreshed means the bearer token changed.
	SignalTokenRefreshed Signal = iota + 1
	// SignalLogout means the session ended.
	SignalLogout
)

func (s Signal) String() string {
	switch s {
	case SignalTokenRefreshed:
		return "token_refreshed"
	case SignalLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Signal applies a session control input.
//
// A refreshed token reconnects when a connection was requested and not
// since withdrawn by Disconnect: that covers an open or opening stream, a
// pending retry, an exhausted retry budget and a previous missing-token
// failure. Logout disconnects.
func (m *Manager) Signal(s Signal) {
	switch s {
	case SignalTokenRefreshed:
		if _, err := m.reconnect(true); err != nil {
			logs.Errorf("reconnect on token refresh, err: %+v", err)
		}
	case SignalLogout:
		m.Disconnect()
	}
}

// Attach forwards AUTH_TOKEN_REFRESHED and AUTH_LOGOUT from bus to Signal.
// The returned func detaches; Close detaches as well.
func (m *Manager) Attach(bus *eventbus.Bus) func() {
	if bus == nil {
		return func() {}
	}

	refreshed := bus.Subscribe(eventbus.TagTokenRefreshed, func(eventbus.Event) {
		m.Signal(SignalTokenRefreshed)
	})
	logout := bus.Subscribe(eventbus.TagLogout, func(eventbus.Event) {
		m.Signal(SignalLogout)
	})

	m.mu.Lock()
	m.detach = append(m.detach, refreshed, logout)
	m.mu.Unlock()

	return func() {
		refreshed.Unsubscribe()
		logout.Unsubscribe()
	}
}

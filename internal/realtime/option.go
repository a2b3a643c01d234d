package realtime

import (
	"time"

	"meshdash/internal/eventbus"
	"meshdash/internal/metrics"
	"meshdash/pkg/websocket"
)

// TokenProvider returns the current bearer token, if any.
// The Manager reads it once per connect attempt.
type TokenProvider interface {
	Token() (string, bool)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func() (string, bool)

func (f TokenFunc) Token() (string, bool) {
	return f()
}

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option defines the manager runtime configuration.
type Option struct {
	// Bus receives every emission. Required.
	Bus *eventbus.Bus
	// Tokens supplies the bearer token. Required.
	Tokens TokenProvider
	// Dialer opens the transport. Optional; default websocket.NewDialer().
	Dialer websocket.Dialer
	// Backoff defines reconnect timing. Optional; default websocket.DefaultBackoff when all fields are zero.
	Backoff websocket.Backoff
	// Scheduler runs deferred retries. Optional; default time.AfterFunc.
	Scheduler Scheduler
	// Metrics records state and counters. Optional.
	Metrics *metrics.Metrics
}

func (opt Option) withDefaults() Option {
	if opt.Dialer == nil {
		opt.Dialer = websocket.NewDialer()
	}
	if opt.Backoff.IsZero() {
		opt.Backoff = websocket.DefaultBackoff()
	}
	opt.Backoff = opt.Backoff.WithDefaults()
	if opt.Scheduler == nil {
		opt.Scheduler = clockScheduler{}
	}
	return opt
}

package eventbus

import (
	"time"

	"meshdash/internal/model"
	"meshdash/pkg/websocket"
)

// Tag is the key subscribers register under.
type Tag string

const (
	TagMessageReceived    Tag = "MESSAGE_RECEIVED"
	TagConnected          Tag = "CONNECTED"
	TagDisconnected       Tag = "DISCONNECTED"
	TagError              Tag = "ERROR"
	TagTokenRefreshed     Tag = "AUTH_TOKEN_REFRESHED"
	TagLogout             Tag = "AUTH_LOGOUT"
	TagReconnectScheduled Tag = "RECONNECT_SCHEDULED"
	TagReconnectExhausted Tag = "RECONNECT_EXHAUSTED"
)

// Event is the closed set of payloads carried by the bus.
type Event interface {
	Tag() Tag
}

// MessageReceived carries one decoded inbound message.
type MessageReceived struct {
	Message model.InboundMessage
}

func (MessageReceived) Tag() Tag { return TagMessageReceived }

// Connected is emitted when the transport opened.
type Connected struct {
	Endpoint string
}

func (Connected) Tag() Tag { return TagConnected }

// Disconnected is emitted when the transport closed, cleanly or not.
type Disconnected struct {
	Code   websocket.CloseCode
	Reason string
}

func (Disconnected) Tag() Tag { return TagDisconnected }

// Clean reports whether the close used the normal closure code.
func (d Disconnected) Clean() bool { return d.Code == websocket.CloseNormal }

// Failure is emitted for credential and transport errors.
type Failure struct {
	Err error
}

func (Failure) Tag() Tag { return TagError }

// TokenRefreshed is published by the session layer when credentials change.
type TokenRefreshed struct{}

func (TokenRefreshed) Tag() Tag { return TagTokenRefreshed }

// LoggedOut is published by the session layer when the session ended.
type LoggedOut struct{}

func (LoggedOut) Tag() Tag { return TagLogout }

// ReconnectScheduled announces a pending retry. Attempt is 1-based.
type ReconnectScheduled struct {
	Attempt int
	Delay   time.Duration
}

func (ReconnectScheduled) Tag() Tag { return TagReconnectScheduled }

// ReconnectExhausted is emitted once the retry budget ran out.
type ReconnectExhausted struct {
	Attempts int
}

func (ReconnectExhausted) Tag() Tag { return TagReconnectExhausted }

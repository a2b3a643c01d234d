package websocket

import (
	"errors"
	"strconv"
	"time"
)

// MessageType represents a WebSocket message type.
// Values match RFC 6455 opcodes where applicable.
type MessageType uint8

const (
	// MessageText is a text data frame.
	MessageText MessageType = 1
	// MessageBinary is a binary data frame.
	MessageBinary MessageType = 2
	// MessageClose is a close control frame.
	MessageClose MessageType = 8
	// MessagePing is a ping control frame.
	MessagePing MessageType = 9
	// MessagePong is a pong control frame.
	MessagePong MessageType = 10
)

// CloseCode is a WebSocket close code.
type CloseCode uint16

const (
	// CloseNormal indicates a normal closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway indicates the peer is going away (server restart, page unload).
	CloseGoingAway CloseCode = 1001
	// CloseAbnormal is reported locally when the stream ended without a close frame.
	CloseAbnormal CloseCode = 1006
)

// CloseError reports the close code and reason that ended a connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return "websocket: close " + strconv.Itoa(int(e.Code))
	}
	return "websocket: close " + strconv.Itoa(int(e.Code)) + " (" + e.Reason + ")"
}

// IsClean reports whether the connection ended with a normal closure.
func (e *CloseError) IsClean() bool {
	return e != nil && e.Code == CloseNormal
}

// AsCloseError extracts a *CloseError from err.
func AsCloseError(err error) (*CloseError, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// MaxAttempts bounds the number of scheduled retries.
	MaxAttempts int
	// Max caps a single delay. Zero disables the cap.
	Max time.Duration
}

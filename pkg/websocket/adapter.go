package websocket

import (
	"context"
	"time"
)

// Conn is a minimal interface for a WebSocket connection.
// Read returns a *CloseError when the peer sent a close frame or the stream
// hit an unexpected EOF (code 1006). Other transport errors are returned as is.
type Conn interface {
	Read(ctx context.Context) (msgType MessageType, payload []byte, err error)
	Write(ctx context.Context, msgType MessageType, payload []byte) error
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

func setDeadline(ctx context.Context, set func(time.Time) error) error {
	if ctx == nil {
		return set(time.Time{})
	}
	if deadline, ok := ctx.Deadline(); ok {
		return set(deadline)
	}
	if ctx.Err() != nil {
		return set(time.Now())
	}
	return set(time.Time{})
}

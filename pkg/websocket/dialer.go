package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"meshdash/pkg/exception"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = time.Second
)

// DialerOption configures the gorilla backed dialer.
type DialerOption func(*dialer)

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) DialerOption {
	return func(dl *dialer) {
		if d > 0 {
			dl.ws.HandshakeTimeout = d
		}
	}
}

// WithTLSConfig overrides the TLS client config used for wss endpoints.
func WithTLSConfig(cfg *tls.Config) DialerOption {
	return func(dl *dialer) {
		if cfg != nil {
			dl.ws.TLSClientConfig = cfg
		}
	}
}

// WithHeader adds request headers to the opening handshake.
func WithHeader(h http.Header) DialerOption {
	return func(dl *dialer) {
		for k, v := range h {
			dl.header[k] = append(dl.header[k], v...)
		}
	}
}

type dialer struct {
	ws     *gws.Dialer
	header http.Header
}

// NewDialer returns a Dialer built on gorilla/websocket.
func NewDialer(opts ...DialerOption) Dialer {
	d := &dialer{
		ws: &gws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		header: http.Header{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *dialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	c, resp, err := d.ws.DialContext(ctx, rawURL, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake status %d: %w", exception.ErrWebSocketProtocol, resp.StatusCode, err)
		}
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn      *gws.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	if err := setDeadline(ctx, c.conn.SetReadDeadline); err != nil {
		return 0, nil, err
	}
	msgType, payload, err := c.conn.ReadMessage()
	if err != nil {
		var ce *gws.CloseError
		if errors.As(err, &ce) {
			return 0, nil, &CloseError{Code: CloseCode(ce.Code), Reason: ce.Text}
		}
		return 0, nil, err
	}
	return MessageType(msgType), payload, nil
}

func (c *wsConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := setDeadline(ctx, c.conn.SetWriteDeadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(msgType), payload)
}

// Close sends a close frame with code and reason, then closes the socket.
// Subsequent calls return the first result.
func (c *wsConn) Close(code CloseCode, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := gws.FormatCloseMessage(int(code), reason)
		_ = c.conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(DefaultCloseTimeout))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

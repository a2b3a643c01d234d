package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketProtocol = errors.New("websocket: protocol error")
	ErrMalformedFrame    = errors.New("websocket: malformed frame")
	ErrEmptyFrame        = errors.New("websocket: empty frame")
)

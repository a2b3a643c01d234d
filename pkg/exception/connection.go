package exception

import "github.com/yanun0323/errors"

// Connection errors
var (
	ErrNoToken         = errors.New("no bearer token available")
	ErrNotInitialized  = errors.New("connection endpoint not initialized")
	ErrInvalidEndpoint = errors.New("invalid connection endpoint")
)

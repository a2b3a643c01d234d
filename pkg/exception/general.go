package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrQueueFull       = errors.New("queue full")
	ErrClosed          = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("already started")
)

package recorder

import (
	"time"

	"github.com/yanun0323/errors"

	"meshdash/pkg/exception"
)

const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 128
	defaultFlushInterval = time.Second
	defaultSaveTimeout   = 5 * time.Second
)

// Config controls the history writer.
// A negative FlushInterval disables the periodic flush; a negative
// SaveTimeout disables the per batch deadline.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	SaveTimeout   time.Duration
}

// DefaultConfig returns a baseline configuration for the history writer.
func DefaultConfig() Config {
	return Config{
		QueueSize:     defaultQueueSize,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		SaveTimeout:   defaultSaveTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.SaveTimeout == 0 {
		c.SaveTimeout = defaultSaveTimeout
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: QueueSize must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: BatchSize must be > 0")
	}
	if c.BatchSize > c.QueueSize {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: BatchSize must be <= QueueSize")
	}
	return nil
}

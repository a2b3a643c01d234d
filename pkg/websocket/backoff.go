package websocket

import (
	"math"
	"time"
)

const (
	defaultBackoffBase        = 2 * time.Second
	defaultBackoffFactor      = 1.5
	defaultBackoffMaxAttempts = 5
)

// DefaultBackoff provides the reconnect defaults used by the dashboard backend.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        defaultBackoffBase,
		Factor:      defaultBackoffFactor,
		MaxAttempts: defaultBackoffMaxAttempts,
	}
}

// IsZero reports whether no field of b was set.
func (b Backoff) IsZero() bool {
	return b.Base == 0 && b.Factor == 0 && b.MaxAttempts == 0 && b.Max == 0
}

// WithDefaults fills unset fields from DefaultBackoff.
func (b Backoff) WithDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Factor < 1 {
		b.Factor = defaultBackoffFactor
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = defaultBackoffMaxAttempts
	}
	if b.Max < 0 {
		b.Max = 0
	}
	return b
}

// Delay returns the wait before retry attempt (0-based): Base * Factor^attempt.
// The value is computed fresh for every attempt, it does not accumulate.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	b = b.WithDefaults()

	wait := float64(b.Base) * math.Pow(b.Factor, float64(attempt))
	d := time.Duration(math.MaxInt64)
	if wait < math.MaxInt64 {
		d = time.Duration(wait)
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether attempt retries already used up the budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.WithDefaults().MaxAttempts
}

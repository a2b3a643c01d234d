package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBackoffDelays(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		2000 * time.Millisecond,
		3000 * time.Millisecond,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
		10125 * time.Millisecond,
	}
	for i, expected := range want {
		assert.Equalf(t, expected, b.Delay(i), "attempt %d", i)
	}
}

func TestBackoffDelayIsNotCumulative(t *testing.T) {
	b := DefaultBackoff()
	first := b.Delay(3)
	for i := 0; i < 3; i++ {
		_ = b.Delay(i)
	}
	require.Equal(t, first, b.Delay(3))
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 5; i++ {
		require.Falsef(t, b.Exhausted(i), "attempt %d", i)
	}
	require.True(t, b.Exhausted(5))
	require.True(t, b.Exhausted(6))
}

func TestBackoffWithDefaults(t *testing.T) {
	var zero Backoff
	require.True(t, zero.IsZero())
	require.Equal(t, DefaultBackoff(), zero.WithDefaults())

	custom := Backoff{Base: 100 * time.Millisecond, Factor: 2, MaxAttempts: 3}.WithDefaults()
	require.Equal(t, 100*time.Millisecond, custom.Base)
	require.Equal(t, 3, custom.MaxAttempts)
	require.Equal(t, 400*time.Millisecond, custom.Delay(2))
}

func TestBackoffMaxCapsDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 10, MaxAttempts: 10, Max: 5 * time.Second}
	require.Equal(t, time.Second, b.Delay(0))
	require.Equal(t, 5*time.Second, b.Delay(1))
	require.Equal(t, 5*time.Second, b.Delay(9))
}

func TestBackoffNegativeAttempt(t *testing.T) {
	require.Equal(t, 2*time.Second, DefaultBackoff().Delay(-3))
}

func TestBackoffHugeAttemptDoesNotOverflow(t *testing.T) {
	d := DefaultBackoff().Delay(1 << 20)
	require.Greater(t, d, time.Duration(0))
}

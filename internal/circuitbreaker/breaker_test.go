package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(maxFailures int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New(maxFailures, cooldown)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Closed, b.State())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, Open, b.State())

	// While open, calls are rejected without running fn.
	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, calls)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })

	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	_ = b.Do(func() error { return errBoom })
	require.Equal(t, Open, b.State())

	*now = now.Add(2 * time.Minute)
	require.Equal(t, HalfOpen, b.State())

	err := b.Do(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	_ = b.Do(func() error { return errBoom })
	*now = now.Add(2 * time.Minute)

	err := b.Do(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())

	// The fresh open period rejects again.
	err = b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOnStateChange(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	var transitions []string
	b.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = b.Do(func() error { return errBoom })
	*now = now.Add(2 * time.Minute)
	_ = b.Do(func() error { return nil })

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

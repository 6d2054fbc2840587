// Package circuitbreaker guards the optional side stores (the Redis report
// cache) so a degraded dependency degrades to recomputation instead of
// stalling every request behind connection timeouts.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and calls are rejected.
var ErrOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State int

const (
	// Closed allows all calls through.
	Closed State = iota
	// Open rejects all calls until the cooldown elapses.
	Open
	// HalfOpen allows one probe call through to test recovery.
	HalfOpen
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips open after MaxFailures consecutive failures, rejects calls
// for Cooldown, then lets a single probe through; the probe's outcome closes
// or re-opens the circuit.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probeInFlight bool

	onStateChange func(from, to State)

	// now is swappable for tests.
	now func() time.Time
}

// New creates a breaker. maxFailures < 1 defaults to 5; cooldown <= 0
// defaults to 30s.
func New(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       Closed,
		now:         time.Now,
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// State returns the breaker's current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Do runs fn under the breaker: ErrOpen while open, a single probe in
// half-open, full traffic when closed.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.probeInFlight = true
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probeInFlight = false
		if err != nil {
			b.openedAt = b.now()
			b.transition(Open)
		} else {
			b.failures = 0
			b.transition(Closed)
		}
		return
	}

	if err != nil {
		b.failures++
		if b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(Open)
		}
		return
	}
	b.failures = 0
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

package retry

import (
	"context"
	"fmt"
	"time"
)

// Executor runs a function with bounded retries under a Strategy.
type Executor struct {
	MaxAttempts int
	Strategy    Strategy

	// OnRetry, if set, is called before each re-attempt with the attempt
	// number just failed and its error.
	OnRetry func(attempt int, err error)
}

// NewExecutor creates an executor with the given attempt budget and strategy.
// A nil strategy defaults to DefaultExponential.
func NewExecutor(maxAttempts int, strategy Strategy) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if strategy == nil {
		strategy = DefaultExponential()
	}
	return &Executor{MaxAttempts: maxAttempts, Strategy: strategy}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt >= e.MaxAttempts {
			break
		}
		if e.OnRetry != nil {
			e.OnRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(e.Strategy.NextDelay(attempt)):
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.MaxAttempts, lastErr)
}

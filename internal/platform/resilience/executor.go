package resilience

import (
	"context"
	"errors"
	"time"
)

// Executor composes the retry policy with the circuit breaker. Each attempt
// passes through the breaker so that failures are counted individually and
// retrying stops as soon as the circuit opens.
type Executor struct {
	breaker *Breaker
	retry   *RetryPolicy
}

// NewExecutor constructs an Executor.
func NewExecutor(breaker *Breaker, retry *RetryPolicy) *Executor {
	return &Executor{breaker: breaker, retry: retry}
}

// Do runs fn with bounded exponential backoff while the circuit is closed or
// half-open. It returns ErrOpen when the breaker rejects the call, and the
// context error when the caller cancels mid-retry.
func (e *Executor) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < e.retry.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = e.breaker.Do(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrOpen) || errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) || isPermanent(lastErr) {
			return lastErr
		}
		if attempt == e.retry.config.MaxAttempts-1 {
			break
		}
		timer := time.NewTimer(e.retry.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// State exposes the breaker state for metrics scraping.
func (e *Executor) State() State {
	return e.breaker.State()
}

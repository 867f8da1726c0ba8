package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errStore = errors.New("store down")

func failingFn(ctx context.Context) error { return errStore }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, failingFn); !errors.Is(err, errStore) {
			t.Fatalf("attempt %d: expected store error, got %v", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after threshold, got %v", got)
	}
	if err := b.Do(ctx, failingFn); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fail-fast ErrOpen, got %v", err)
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: 30 * time.Second, Clock: clock})
	ctx := context.Background()

	if err := b.Do(ctx, failingFn); !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %v", got)
	}

	// Cool-down elapses: one trial is allowed and success closes the circuit.
	now = now.Add(31 * time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after cool-down, got %v", got)
	}
	if err := b.Do(ctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("trial should succeed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after successful trial, got %v", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: time.Second, Clock: func() time.Time { return now }})
	ctx := context.Background()

	_ = b.Do(ctx, failingFn)
	now = now.Add(2 * time.Second)
	if err := b.Do(ctx, failingFn); !errors.Is(err, errStore) {
		t.Fatalf("expected store error from trial, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected re-open after failed trial, got %v", got)
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("cancellation must not trip the breaker, got %v", got)
	}
}

func TestExecutorRetriesThenGivesUp(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 10, CoolDown: time.Minute})
	retry := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	exec := NewExecutor(b, retry)

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errStore
	})
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestExecutorStopsWhenCircuitOpens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, CoolDown: time.Minute})
	retry := NewRetryPolicy(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	exec := NewExecutor(b, retry)

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errStore
	})
	// Two failing attempts trip the breaker; the third is rejected without
	// reaching the store.
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 store calls, got %d", calls)
	}
}

func TestExecutorCancelledMidRetry(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig())
	retry := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second})
	exec := NewExecutor(b, retry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := exec.Do(ctx, func(ctx context.Context) error { return errStore })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, CoolDown: time.Minute})
	ctx := context.Background()
	errNoRow := errors.New("no such row")

	for i := 0; i < 5; i++ {
		err := b.Do(ctx, func(ctx context.Context) error { return Permanent(errNoRow) })
		if !errors.Is(err, errNoRow) {
			t.Fatalf("expected wrapped row error, got %v", err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("permanent errors must not trip the breaker, got %v", got)
	}
}

func TestExecutorDoesNotRetryPermanentErrors(t *testing.T) {
	e := NewExecutor(
		NewBreaker(BreakerConfig{FailureThreshold: 10, CoolDown: time.Minute}),
		NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	errNoRow := errors.New("no such row")
	calls := 0

	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errNoRow)
	})
	if !errors.Is(err, errNoRow) {
		t.Fatalf("expected wrapped row error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

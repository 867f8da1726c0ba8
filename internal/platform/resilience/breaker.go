package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("resilience: circuit open")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as a definitive answer from the dependency. Permanent
// errors are returned immediately: no retry, no breaker failure count.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// State enumerates circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold int
	// CoolDown is how long the breaker stays open before allowing a trial.
	CoolDown time.Duration
	// OnTransition is invoked outside the lock on every state change.
	OnTransition func(from, to State)
	// Clock allows tests to control time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is a three-state circuit breaker. While open it fails fast with
// ErrOpen; after the cool-down a single trial request is allowed through.
type Breaker struct {
	config BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inTrial  bool
}

// NewBreaker constructs a Breaker, normalising invalid settings.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.CoolDown <= 0 {
		config.CoolDown = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Breaker{config: config}
}

// State reports the current state, promoting open to half-open when the
// cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.config.Clock().Sub(b.openedAt) >= b.config.CoolDown {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// Do executes fn under the breaker. Calls rejected while open return ErrOpen
// without invoking fn. In half-open state only one trial proceeds at a time.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.inTrial {
			b.mu.Unlock()
			return ErrOpen
		}
		b.inTrial = true
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inTrial = false

	// Cancellation and permanent errors are not evidence of store health.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || isPermanent(err) {
		return err
	}

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
			b.openedAt = b.config.Clock()
			b.transitionLocked(StateOpen)
		}
		return err
	}

	b.failures = 0
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
	return nil
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.config.OnTransition != nil {
		go b.config.OnTransition(from, to)
	}
}

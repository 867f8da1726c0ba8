// Package audit emits structured decision events to the audit collaborator.
// Persistence and tamper-evidence belong to that collaborator; emission here
// is best-effort and never blocks or reverses an access decision.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is the record emitted for every decision and boundary veto.
type Event struct {
	ActorID    int64     `json:"actorId"`
	EntityID   int64     `json:"entityId"`
	Resource   string    `json:"resource"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Result values for Event.
const (
	ResultAllow        = "ALLOW"
	ResultDeny         = "DENY"
	ResultBoundaryVeto = "BOUNDARY_VETO"
)

// Emitter receives decision events.
type Emitter interface {
	Emit(Event)
}

// Sink consumes drained events, typically forwarding them to the audit
// subsystem over its own transport.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// AsyncEmitter buffers events and drains them on a background goroutine.
// When the buffer is full the event is dropped and counted; the decision
// path never waits.
type AsyncEmitter struct {
	logger *slog.Logger
	sink   Sink
	events chan Event

	mu      sync.Mutex
	dropped int64
	done    chan struct{}
	once    sync.Once
}

// NewAsyncEmitter constructs an emitter with the given buffer size and
// starts its drain loop. A nil sink logs events instead of forwarding them.
func NewAsyncEmitter(logger *slog.Logger, sink Sink, buffer int) *AsyncEmitter {
	if buffer <= 0 {
		buffer = 1024
	}
	e := &AsyncEmitter{
		logger: logger,
		sink:   sink,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit enqueues the event without blocking.
func (e *AsyncEmitter) Emit(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	select {
	case e.events <- event:
	default:
		e.mu.Lock()
		e.dropped++
		dropped := e.dropped
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Warn("audit buffer full, event dropped", slog.Int64("dropped_total", dropped))
		}
	}
}

// Dropped reports how many events were lost to backpressure.
func (e *AsyncEmitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close stops the drain loop after flushing buffered events.
func (e *AsyncEmitter) Close() {
	e.once.Do(func() {
		close(e.events)
		<-e.done
	})
}

func (e *AsyncEmitter) drain() {
	defer close(e.done)
	for event := range e.events {
		if e.sink == nil {
			if e.logger != nil {
				e.logger.Info("audit event",
					slog.Int64("actor_id", event.ActorID),
					slog.Int64("entity_id", event.EntityID),
					slog.String("resource", event.Resource),
					slog.String("action", event.Action),
					slog.String("result", event.Result),
					slog.Time("occurred_at", event.OccurredAt),
				)
			}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.sink.Record(ctx, event); err != nil && e.logger != nil {
			e.logger.Error("audit record failed", slog.Any("error", err))
		}
		cancel()
	}
}

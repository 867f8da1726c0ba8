package audit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Record(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAsyncEmitterDelivers(t *testing.T) {
	sink := &captureSink{}
	emitter := NewAsyncEmitter(slog.Default(), sink, 8)

	emitter.Emit(Event{ActorID: 1, EntityID: 2, Resource: "documents", Action: "view", Result: ResultAllow})
	emitter.Emit(Event{ActorID: 1, EntityID: 3, Resource: "documents", Action: "update", Result: ResultBoundaryVeto})
	emitter.Close()

	if got := sink.len(); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	if sink.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected timestamp to be stamped")
	}
}

func TestAsyncEmitterDropsOnFullBuffer(t *testing.T) {
	// A sink that blocks until released, so the buffer fills up.
	release := make(chan struct{})
	blocking := blockingSink{release: release}
	emitter := NewAsyncEmitter(slog.Default(), blocking, 1)

	for i := 0; i < 10; i++ {
		emitter.Emit(Event{ActorID: int64(i), Result: ResultDeny})
	}
	close(release)
	emitter.Close()

	if emitter.Dropped() == 0 {
		t.Fatalf("expected drops under backpressure")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Record(ctx context.Context, event Event) error {
	select {
	case <-s.release:
	case <-time.After(time.Second):
	}
	return nil
}

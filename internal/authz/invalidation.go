package authz

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel invalidation messages travel on.
const DefaultChannel = "invalidate"

// Invalidation kinds. ActorID-scoped kinds carry the actor in ID; KindRole
// carries the role; KindResource names the resource instead.
const (
	KindRole       = "role"
	KindAssignment = "assignment"
	KindGrant      = "grant"
	KindResource   = "resource"
	KindEntity     = "entity"
	KindFlush      = "flush"
)

// Message is one invalidation event. Delivery is at-least-once and may be
// out of order; consumers only ever delete, so replays are harmless.
type Message struct {
	MessageID string `json:"messageId"`
	Kind      string `json:"kind"`
	ID        int64  `json:"id,omitempty"`
	Resource  string `json:"resource,omitempty"`
}

// Bus publishes and subscribes to invalidation messages over redis pub/sub.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBus constructs a Bus on the given channel, defaulting to DefaultChannel.
func NewBus(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{client: client, channel: channel, logger: logger}
}

// Publish sends the message to every subscribed resolver. Mutators call this
// before returning success to the caller, bounding the staleness window.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe delivers messages to handler on a background goroutine until the
// context is cancelled. Malformed payloads are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, Message)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					if b.logger != nil {
						b.logger.Warn("invalidation payload malformed", slog.Any("error", err))
					}
					continue
				}
				handler(ctx, msg)
			}
		}
	}()
	return nil
}

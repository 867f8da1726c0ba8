package authz

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-iam/aegis/internal/observability"
)

// TreeInvalidator drops a locally held entity tree snapshot. Satisfied by
// entities.Resolver.
type TreeInvalidator interface {
	Invalidate()
}

// MultiLevel is the two-tier decision cache: a process-local LRU in front of
// the shared distributed tier. Reads fall through process -> distributed;
// writes populate both. All state lives behind this component and is wired
// into the resolver explicitly.
type MultiLevel struct {
	memory  *Memory
	remote  *Distributed
	bus     *Bus
	tree    TreeInvalidator
	logger  *slog.Logger
	metrics *observability.Metrics

	adaptEvery time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewMultiLevel constructs the cache component.
func NewMultiLevel(memory *Memory, remote *Distributed, bus *Bus, logger *slog.Logger, metrics *observability.Metrics, adaptEvery time.Duration) *MultiLevel {
	if adaptEvery <= 0 {
		adaptEvery = 5 * time.Minute
	}
	return &MultiLevel{
		memory:     memory,
		remote:     remote,
		bus:        bus,
		logger:     logger,
		metrics:    metrics,
		adaptEvery: adaptEvery,
	}
}

// BindTree registers the entity snapshot to drop when tree invalidations
// arrive from other replicas. Must be called before Start.
func (c *MultiLevel) BindTree(tree TreeInvalidator) {
	c.tree = tree
}

// Start subscribes to the invalidation bus and begins the adaptive sizing
// loop. It must be called once before serving checks.
func (c *MultiLevel) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel
		if c.bus != nil {
			err = c.bus.Subscribe(runCtx, c.apply)
			if err != nil {
				cancel()
				return
			}
		}
		c.wg.Add(1)
		go c.adaptLoop(runCtx)
	})
	return err
}

// Stop terminates the background loops.
func (c *MultiLevel) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

func (c *MultiLevel) adaptLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.adaptEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if capacity, resized := c.memory.Adapt(); resized && c.logger != nil {
				c.logger.Info("process cache resized", slog.Int("capacity", capacity))
			}
		}
	}
}

// GetDecision reads through both tiers, promoting distributed hits into the
// process tier.
func (c *MultiLevel) GetDecision(ctx context.Context, key, resource string) (DecisionEntry, bool) {
	if entry, ok := c.memory.GetDecision(key); ok {
		c.metrics.CacheLookup("process", resource, true)
		return entry, true
	}
	c.metrics.CacheLookup("process", resource, false)

	entry, ok, err := c.remote.GetDecision(ctx, key)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("distributed cache read failed", slog.Any("error", err))
		}
		c.metrics.CacheLookup("distributed", resource, false)
		return DecisionEntry{}, false
	}
	c.metrics.CacheLookup("distributed", resource, ok)
	if !ok {
		return DecisionEntry{}, false
	}
	c.memory.SetDecision(key, entry)
	return entry, true
}

// SetDecision populates both tiers. Distributed write failures are logged;
// the cache is never authoritative so losing a write only costs a recompute.
func (c *MultiLevel) SetDecision(ctx context.Context, key string, entry DecisionEntry) {
	c.memory.SetDecision(key, entry)
	if err := c.remote.SetDecision(ctx, key, entry); err != nil && c.logger != nil {
		c.logger.Warn("distributed cache write failed", slog.Any("error", err))
	}
}

// GetGrantSet reads an actor's assignment set through both tiers.
func (c *MultiLevel) GetGrantSet(ctx context.Context, actorID int64) ([]AssignmentGrant, bool) {
	if set, ok := c.memory.GetGrantSet(actorID); ok {
		c.metrics.CacheLookup("process", "grant_set", true)
		return set, true
	}
	c.metrics.CacheLookup("process", "grant_set", false)

	set, ok, err := c.remote.GetGrantSet(ctx, actorID)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("distributed cache read failed", slog.Any("error", err))
		}
		c.metrics.CacheLookup("distributed", "grant_set", false)
		return nil, false
	}
	c.metrics.CacheLookup("distributed", "grant_set", ok)
	if !ok {
		return nil, false
	}
	c.memory.SetGrantSet(actorID, set)
	return set, true
}

// SetGrantSet populates both tiers.
func (c *MultiLevel) SetGrantSet(ctx context.Context, actorID int64, set []AssignmentGrant) {
	c.memory.SetGrantSet(actorID, set)
	if err := c.remote.SetGrantSet(ctx, actorID, set); err != nil && c.logger != nil {
		c.logger.Warn("distributed cache write failed", slog.Any("error", err))
	}
}

// apply processes one invalidation message against both tiers. Every branch
// only deletes, so replays and reordering are harmless.
func (c *MultiLevel) apply(ctx context.Context, msg Message) {
	c.metrics.Invalidation(msg.Kind)
	switch msg.Kind {
	case KindAssignment, KindGrant:
		c.memory.DropActor(msg.ID)
		if err := c.remote.DropActor(ctx, msg.ID); err != nil {
			c.warnApply(msg, err)
		}
	case KindRole:
		// Resolve holders from the distributed index first so the process
		// tier can also drop their grant sets.
		holders, err := c.remote.RoleHolders(ctx, msg.ID)
		if err != nil {
			c.warnApply(msg, err)
		}
		c.memory.DropRole(msg.ID)
		for _, actorID := range holders {
			c.memory.DropActor(actorID)
		}
		if err := c.remote.DropRole(ctx, msg.ID); err != nil {
			c.warnApply(msg, err)
		}
	case KindResource:
		c.memory.DropResource(msg.Resource)
		if err := c.remote.DropResource(ctx, msg.Resource); err != nil {
			c.warnApply(msg, err)
		}
	case KindEntity, KindFlush:
		c.memory.Purge()
		// Decisions recomputed after a tree change must not reuse the old
		// snapshot on this replica.
		if c.tree != nil {
			c.tree.Invalidate()
		}
	default:
		if c.logger != nil {
			c.logger.Warn("unknown invalidation kind", slog.String("kind", msg.Kind))
		}
	}
}

func (c *MultiLevel) warnApply(msg Message, err error) {
	if c.logger != nil {
		c.logger.Warn("invalidation apply failed",
			slog.String("kind", msg.Kind),
			slog.String("message_id", msg.MessageID),
			slog.Any("error", err),
		)
	}
}

// Invalidate applies a message locally and publishes it to the other
// resolver replicas. Mutators call this before acknowledging a mutation.
func (c *MultiLevel) Invalidate(ctx context.Context, msg Message) error {
	c.apply(ctx, msg)
	if c.bus == nil {
		return nil
	}
	return c.bus.Publish(ctx, msg)
}

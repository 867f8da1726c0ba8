package authz

import (
	"context"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis/internal/observability"
)

func newTestMultiLevel(t *testing.T) (*MultiLevel, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	memory := NewMemory(MemoryConfig{Capacity: 64, MinCapacity: 16, MaxCapacity: 256})
	remote := NewDistributed(client, time.Minute, 5*time.Minute)
	bus := NewBus(client, "", slog.Default())
	ml := NewMultiLevel(memory, remote, bus, slog.Default(), observability.NewMetrics(), time.Minute)
	return ml, mr
}

func decisionFixture(actorID, entityID int64) DecisionEntry {
	return DecisionEntry{
		Allowed:       true,
		ActorID:       actorID,
		EntityID:      entityID,
		Resource:      "documents",
		Action:        "view",
		AssignmentIDs: []int64{10},
		RoleIDs:       []int64{7},
		StampedAt:     time.Now().UTC(),
	}
}

func TestMultiLevelReadThrough(t *testing.T) {
	ml, _ := newTestMultiLevel(t)
	ctx := context.Background()
	key := DecisionKey(1, 2, "documents", ActionView)

	_, ok := ml.GetDecision(ctx, key, "documents")
	require.False(t, ok)

	ml.SetDecision(ctx, key, decisionFixture(1, 2))

	// Process-tier hit.
	entry, ok := ml.GetDecision(ctx, key, "documents")
	require.True(t, ok)
	require.True(t, entry.Allowed)

	// Drop the process tier only: the distributed tier must backfill.
	ml.memory.Purge()
	entry, ok = ml.GetDecision(ctx, key, "documents")
	require.True(t, ok)
	require.Equal(t, []int64{10}, entry.AssignmentIDs)

	// And the backfill promotes it into the process tier again.
	_, ok = ml.memory.GetDecision(key)
	require.True(t, ok)
}

type stubTreeSnapshot struct {
	drops int
}

func (s *stubTreeSnapshot) Invalidate() { s.drops++ }

func TestInvalidateEntityDropsTreeSnapshot(t *testing.T) {
	ml, _ := newTestMultiLevel(t)
	ctx := context.Background()
	tree := &stubTreeSnapshot{}
	ml.BindTree(tree)

	key := DecisionKey(1, 2, "documents", ActionView)
	ml.SetDecision(ctx, key, decisionFixture(1, 2))

	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindEntity, ID: 2}))
	require.Equal(t, 1, tree.drops, "tree snapshot must be dropped with the decisions")
	_, ok := ml.memory.GetDecision(key)
	require.False(t, ok)
}

func TestInvalidateAssignmentDropsActorOnly(t *testing.T) {
	ml, _ := newTestMultiLevel(t)
	ctx := context.Background()
	keyA := DecisionKey(1, 2, "documents", ActionView)
	keyB := DecisionKey(9, 2, "documents", ActionView)

	ml.SetDecision(ctx, keyA, decisionFixture(1, 2))
	ml.SetDecision(ctx, keyB, decisionFixture(9, 2))
	ml.SetGrantSet(ctx, 1, []AssignmentGrant{{AssignmentID: 10, RoleID: 7, EntityID: 2}})

	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindAssignment, ID: 1}))

	_, ok := ml.GetDecision(ctx, keyA, "documents")
	require.False(t, ok)
	_, ok = ml.GetGrantSet(ctx, 1)
	require.False(t, ok)
	_, ok = ml.GetDecision(ctx, keyB, "documents")
	require.True(t, ok, "unrelated actor must keep its entries")
}

func TestInvalidateRoleDropsAllHolders(t *testing.T) {
	ml, _ := newTestMultiLevel(t)
	ctx := context.Background()
	keyA := DecisionKey(1, 2, "documents", ActionView)
	keyB := DecisionKey(5, 2, "documents", ActionView)

	ml.SetDecision(ctx, keyA, decisionFixture(1, 2))
	entry := decisionFixture(5, 2)
	ml.SetDecision(ctx, keyB, entry)

	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindRole, ID: 7}))

	_, ok := ml.GetDecision(ctx, keyA, "documents")
	require.False(t, ok)
	_, ok = ml.GetDecision(ctx, keyB, "documents")
	require.False(t, ok)
}

func TestInvalidateResourceScopedFlush(t *testing.T) {
	ml, _ := newTestMultiLevel(t)
	ctx := context.Background()
	docs := DecisionKey(1, 2, "documents", ActionView)
	invoices := DecisionKey(1, 2, "invoices", ActionView)

	ml.SetDecision(ctx, docs, decisionFixture(1, 2))
	inv := decisionFixture(1, 2)
	inv.Resource = "invoices"
	ml.SetDecision(ctx, invoices, inv)

	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindResource, Resource: "documents"}))

	_, ok := ml.GetDecision(ctx, docs, "documents")
	require.False(t, ok)
	_, ok = ml.GetDecision(ctx, invoices, "invoices")
	require.True(t, ok)
}

func TestInvalidationIsIdempotent(t *testing.T) {
	ml, _ := newTestMultiLevel(t)
	ctx := context.Background()

	// Deleting entries that never existed must not error.
	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindAssignment, ID: 404}))
	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindRole, ID: 404}))
	require.NoError(t, ml.Invalidate(ctx, Message{Kind: KindResource, Resource: "ghost"}))

	// Replaying a delivered message is a no-op as well.
	key := DecisionKey(1, 2, "documents", ActionView)
	ml.SetDecision(ctx, key, decisionFixture(1, 2))
	msg := Message{Kind: KindAssignment, ID: 1}
	require.NoError(t, ml.Invalidate(ctx, msg))
	require.NoError(t, ml.Invalidate(ctx, msg))
	_, ok := ml.GetDecision(ctx, key, "documents")
	require.False(t, ok)
}

func TestBusPropagatesBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientA.Close(); _ = clientB.Close() })

	metrics := observability.NewMetrics()
	instance := func(client *redis.Client) *MultiLevel {
		return NewMultiLevel(
			NewMemory(MemoryConfig{Capacity: 64, MinCapacity: 16, MaxCapacity: 256}),
			NewDistributed(client, time.Minute, 5*time.Minute),
			NewBus(client, "", slog.Default()),
			slog.Default(), metrics, time.Minute,
		)
	}
	a := instance(clientA)
	b := instance(clientB)

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	key := DecisionKey(1, 2, "documents", ActionView)
	b.SetDecision(ctx, key, decisionFixture(1, 2))

	// A mutation observed by instance A must reach instance B's process tier.
	require.NoError(t, a.Invalidate(ctx, Message{Kind: KindAssignment, ID: 1}))

	require.Eventually(t, func() bool {
		_, ok := b.memory.GetDecision(key)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryAdaptGrowsAndShrinks(t *testing.T) {
	m := NewMemory(MemoryConfig{Capacity: 32, MinCapacity: 16, MaxCapacity: 128})

	// All misses: capacity should grow.
	for i := 0; i < 100; i++ {
		m.GetDecision("missing")
	}
	capacity, resized := m.Adapt()
	require.True(t, resized)
	require.Equal(t, 64, capacity)

	// All hits: capacity should shrink back.
	m.SetDecision("hot", DecisionEntry{Allowed: true, ActorID: 1, Resource: "documents"})
	for i := 0; i < 100; i++ {
		m.GetDecision("hot")
	}
	capacity, resized = m.Adapt()
	require.True(t, resized)
	require.Equal(t, 32, capacity)

	// Ceiling is respected.
	for size := capacity; size < 128; {
		for i := 0; i < 10; i++ {
			m.GetDecision("missing")
		}
		size, _ = m.Adapt()
	}
	for i := 0; i < 10; i++ {
		m.GetDecision("missing")
	}
	capacity, resized = m.Adapt()
	require.False(t, resized)
	require.Equal(t, 128, capacity)
}

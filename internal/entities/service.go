package entities

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aegis-iam/aegis/internal/shared"
)

// Store abstracts tree persistence for the resolver.
type Store interface {
	ListEntities(ctx context.Context) ([]Entity, error)
	CreateEntity(ctx context.Context, name string, parentID *int64) (Entity, error)
}

// Resolver answers reachability questions over the entity tree. The tree is
// reference data mutated only at provisioning, so it is held as an in-memory
// snapshot refreshed on TTL expiry or explicit invalidation.
type Resolver struct {
	store Store
	ttl   time.Duration

	mu       sync.RWMutex
	byID     map[int64]Entity
	loadedAt time.Time
}

// NewResolver constructs a Resolver. A non-positive ttl disables expiry.
func NewResolver(store Store, ttl time.Duration) *Resolver {
	return &Resolver{store: store, ttl: ttl}
}

func (s *Resolver) snapshot(ctx context.Context) (map[int64]Entity, error) {
	s.mu.RLock()
	fresh := s.byID != nil && !s.loadedAt.IsZero() && (s.ttl <= 0 || time.Since(s.loadedAt) < s.ttl)
	byID := s.byID
	s.mu.RUnlock()
	if fresh {
		return byID, nil
	}

	list, err := s.store.ListEntities(ctx)
	if err != nil {
		// Serve the stale snapshot rather than failing reachability checks;
		// staleness here only delays newly provisioned entities.
		if byID != nil {
			return byID, nil
		}
		return nil, err
	}
	next := make(map[int64]Entity, len(list))
	for _, e := range list {
		next[e.ID] = e
	}
	s.mu.Lock()
	s.byID = next
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return next, nil
}

// Resolve validates that the entity exists and returns it.
func (s *Resolver) Resolve(ctx context.Context, id int64) (Entity, error) {
	byID, err := s.snapshot(ctx)
	if err != nil {
		return Entity{}, err
	}
	e, ok := byID[id]
	if !ok {
		return Entity{}, shared.ErrNotFound
	}
	return e, nil
}

// IsDescendant reports whether child sits below ancestor in the tree.
// An entity is not its own descendant.
func (s *Resolver) IsDescendant(ctx context.Context, child, ancestor int64) (bool, error) {
	if child == ancestor {
		return false, nil
	}
	byID, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	cur, ok := byID[child]
	if !ok {
		return false, shared.ErrNotFound
	}
	// Walk parent pointers with a depth bound as a cycle guard.
	for depth := 0; depth <= len(byID); depth++ {
		if cur.ParentID == nil {
			return false, nil
		}
		if *cur.ParentID == ancestor {
			return true, nil
		}
		cur, ok = byID[*cur.ParentID]
		if !ok {
			return false, nil
		}
	}
	return false, errors.New("entities: cycle detected in entity tree")
}

// List returns the known entities from the current snapshot.
func (s *Resolver) List(ctx context.Context) ([]Entity, error) {
	byID, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Invalidate marks the snapshot stale so the next call reloads it. The old
// snapshot is retained as a fallback should the reload fail.
func (s *Resolver) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// Create provisions a new entity and refreshes the snapshot.
func (s *Resolver) Create(ctx context.Context, name string, parentID *int64) (Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Entity{}, errors.New("entities: name required")
	}
	if parentID != nil {
		if _, err := s.Resolve(ctx, *parentID); err != nil {
			return Entity{}, err
		}
	}
	e, err := s.store.CreateEntity(ctx, name, parentID)
	if err != nil {
		return Entity{}, err
	}
	s.Invalidate()
	return e, nil
}

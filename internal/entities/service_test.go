package entities

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	entities  []Entity
	listCalls int
	listErr   error
}

func (s *stubStore) ListEntities(ctx context.Context) ([]Entity, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.entities, nil
}

func (s *stubStore) CreateEntity(ctx context.Context, name string, parentID *int64) (Entity, error) {
	e := Entity{ID: int64(len(s.entities) + 1), Name: name, ParentID: parentID}
	s.entities = append(s.entities, e)
	return e, nil
}

func ptr(v int64) *int64 { return &v }

func treeFixture() []Entity {
	// 1 root, 2 under 1, 3 under 2, 4 sibling root.
	return []Entity{
		{ID: 1, Name: "acme"},
		{ID: 2, Name: "acme-eu", ParentID: ptr(1)},
		{ID: 3, Name: "acme-eu-de", ParentID: ptr(2)},
		{ID: 4, Name: "other"},
	}
}

func TestIsDescendant(t *testing.T) {
	resolver := NewResolver(&stubStore{entities: treeFixture()}, time.Minute)
	ctx := context.Background()

	cases := []struct {
		name            string
		child, ancestor int64
		want            bool
	}{
		{"direct child", 2, 1, true},
		{"grandchild", 3, 1, true},
		{"self", 1, 1, false},
		{"unrelated", 4, 1, false},
		{"inverted", 1, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.IsDescendant(ctx, tc.child, tc.ancestor)
			if err != nil {
				t.Fatalf("IsDescendant: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsDescendant(%d, %d) = %v, want %v", tc.child, tc.ancestor, got, tc.want)
			}
		})
	}
}

func TestIsDescendantDetectsCycle(t *testing.T) {
	store := &stubStore{entities: []Entity{
		{ID: 1, ParentID: ptr(2)},
		{ID: 2, ParentID: ptr(1)},
	}}
	resolver := NewResolver(store, time.Minute)
	if _, err := resolver.IsDescendant(context.Background(), 1, 99); err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestSnapshotCachingAndInvalidation(t *testing.T) {
	store := &stubStore{entities: treeFixture()}
	resolver := NewResolver(store, time.Minute)
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := resolver.Resolve(ctx, 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if store.listCalls != 1 {
		t.Fatalf("expected one load, got %d", store.listCalls)
	}

	resolver.Invalidate()
	if _, err := resolver.Resolve(ctx, 1); err != nil {
		t.Fatalf("resolve after invalidation: %v", err)
	}
	if store.listCalls != 2 {
		t.Fatalf("expected reload after invalidation, got %d", store.listCalls)
	}
}

func TestSnapshotServesStaleOnStoreError(t *testing.T) {
	store := &stubStore{entities: treeFixture()}
	resolver := NewResolver(store, time.Minute)
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, 3); err != nil {
		t.Fatalf("warm load: %v", err)
	}
	store.listErr = errors.New("pg down")
	resolver.Invalidate()
	if _, err := resolver.Resolve(ctx, 3); err != nil {
		t.Fatalf("expected stale snapshot to serve, got %v", err)
	}
}

package grants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/shared"
)

type stubStore struct {
	grants map[int64]authz.CrossEntityGrant
	nextID int64
}

func newStubStore() *stubStore {
	return &stubStore{grants: map[int64]authz.CrossEntityGrant{}}
}

func (s *stubStore) ListGrants(_ context.Context, actorID int64) ([]authz.CrossEntityGrant, error) {
	var out []authz.CrossEntityGrant
	for _, g := range s.grants {
		if g.ActorID == actorID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *stubStore) GetGrant(_ context.Context, id int64) (authz.CrossEntityGrant, error) {
	g, ok := s.grants[id]
	if !ok {
		return authz.CrossEntityGrant{}, shared.ErrNotFound
	}
	return g, nil
}

func (s *stubStore) CreateGrant(_ context.Context, actorID, sourceEntityID, targetEntityID int64, capability authz.Action, expiresAt *time.Time) (authz.CrossEntityGrant, error) {
	s.nextID++
	g := authz.CrossEntityGrant{ID: s.nextID, ActorID: actorID, SourceEntityID: sourceEntityID, TargetEntityID: targetEntityID, Capability: capability}
	if expiresAt != nil {
		g.ExpiresAt = *expiresAt
	}
	s.grants[g.ID] = g
	return g, nil
}

func (s *stubStore) RevokeGrant(_ context.Context, id int64) (authz.CrossEntityGrant, error) {
	g, ok := s.grants[id]
	if !ok {
		return authz.CrossEntityGrant{}, shared.ErrNotFound
	}
	delete(s.grants, id)
	return g, nil
}

func (s *stubStore) ExpireDue(_ context.Context, now time.Time) ([]authz.CrossEntityGrant, error) {
	var out []authz.CrossEntityGrant
	for id, g := range s.grants {
		if !g.ExpiresAt.IsZero() && !g.ExpiresAt.After(now) {
			out = append(out, g)
			delete(s.grants, id)
		}
	}
	return out, nil
}

type stubAuthorizer struct {
	err   error
	calls []int64
}

func (a *stubAuthorizer) AuthorizeGrant(_ context.Context, _ authz.Actor, entityID int64, _ []authz.ResourceAction) error {
	a.calls = append(a.calls, entityID)
	return a.err
}

type stubInvalidator struct {
	messages []authz.Message
}

func (i *stubInvalidator) Invalidate(_ context.Context, msg authz.Message) error {
	i.messages = append(i.messages, msg)
	return nil
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newStubStore(), &stubAuthorizer{}, &stubInvalidator{}, nil)
	grantor := authz.Actor{ID: 1, Superuser: true}

	_, err := svc.Create(context.Background(), grantor, 42, 1, 2, "fly", nil)
	require.Error(t, err)

	_, err = svc.Create(context.Background(), grantor, 42, 1, 1, authz.ActionView, nil)
	require.Error(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = svc.Create(context.Background(), grantor, 42, 1, 2, authz.ActionView, &past)
	require.Error(t, err)
}

func TestCreateChecksSourceEntityAndInvalidatesHolder(t *testing.T) {
	store := newStubStore()
	auth := &stubAuthorizer{}
	inv := &stubInvalidator{}
	svc := NewService(store, auth, inv, nil)

	g, err := svc.Create(context.Background(), authz.Actor{ID: 1}, 42, 10, 20, authz.ActionUpdate, nil)
	require.NoError(t, err)
	require.Equal(t, int64(42), g.ActorID)
	require.Equal(t, []int64{10}, auth.calls)
	require.Len(t, inv.messages, 1)
	require.Equal(t, authz.KindGrant, inv.messages[0].Kind)
	require.Equal(t, int64(42), inv.messages[0].ID)
}

func TestCreateSurfacesGrantDenial(t *testing.T) {
	store := newStubStore()
	svc := NewService(store, &stubAuthorizer{err: shared.ErrCannotManagePermissions}, &stubInvalidator{}, nil)

	_, err := svc.Create(context.Background(), authz.Actor{ID: 1}, 42, 10, 20, authz.ActionView, nil)
	require.ErrorIs(t, err, shared.ErrCannotManagePermissions)
	require.Empty(t, store.grants)
}

func TestRevokeChecksBeforeDeleting(t *testing.T) {
	store := newStubStore()
	store.grants[1] = authz.CrossEntityGrant{ID: 1, ActorID: 42, SourceEntityID: 10, TargetEntityID: 20}
	svc := NewService(store, &stubAuthorizer{err: shared.ErrCannotManagePermissions}, &stubInvalidator{}, nil)

	err := svc.Revoke(context.Background(), authz.Actor{ID: 1}, 1)
	require.ErrorIs(t, err, shared.ErrCannotManagePermissions)
	require.Contains(t, store.grants, int64(1))
}

func TestExpireDueInvalidatesEachHolderOnce(t *testing.T) {
	store := newStubStore()
	past := time.Now().Add(-time.Minute)
	store.grants[1] = authz.CrossEntityGrant{ID: 1, ActorID: 42, ExpiresAt: past}
	store.grants[2] = authz.CrossEntityGrant{ID: 2, ActorID: 42, ExpiresAt: past}
	store.grants[3] = authz.CrossEntityGrant{ID: 3, ActorID: 7, ExpiresAt: past}
	store.grants[4] = authz.CrossEntityGrant{ID: 4, ActorID: 9}
	inv := &stubInvalidator{}
	svc := NewService(store, &stubAuthorizer{}, inv, nil)

	n, err := svc.ExpireDue(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, inv.messages, 2)
	require.Contains(t, store.grants, int64(4))
}

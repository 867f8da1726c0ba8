package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegis-iam/aegis/internal/authz"
)

// ErrInvalidGrant marks grant requests rejected before reaching the store.
var ErrInvalidGrant = errors.New("invalid grant")

// Authorizer validates grant operations against the resolution engine.
type Authorizer interface {
	AuthorizeGrant(ctx context.Context, grantor authz.Actor, entityID int64, perms []authz.ResourceAction) error
}

// Invalidator propagates cache invalidation after mutations.
type Invalidator interface {
	Invalidate(ctx context.Context, msg authz.Message) error
}

// Store is the persistence surface the service needs. *Repository
// implements it.
type Store interface {
	ListGrants(ctx context.Context, actorID int64) ([]authz.CrossEntityGrant, error)
	GetGrant(ctx context.Context, id int64) (authz.CrossEntityGrant, error)
	CreateGrant(ctx context.Context, actorID, sourceEntityID, targetEntityID int64, capability authz.Action, expiresAt *time.Time) (authz.CrossEntityGrant, error)
	RevokeGrant(ctx context.Context, id int64) (authz.CrossEntityGrant, error)
	ExpireDue(ctx context.Context, now time.Time) ([]authz.CrossEntityGrant, error)
}

// Service orchestrates cross-entity grant mutations.
type Service struct {
	repo        Store
	authorizer  Authorizer
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Store, authorizer Authorizer, invalidator Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, authorizer: authorizer, invalidator: invalidator, logger: logger}
}

// List returns an actor's grants.
func (s *Service) List(ctx context.Context, actorID int64) ([]authz.CrossEntityGrant, error) {
	return s.repo.ListGrants(ctx, actorID)
}

// Create issues a cross-entity grant. The grantor must hold role management
// in the source entity. Expiry, when set, must be in the future.
func (s *Service) Create(ctx context.Context, grantor authz.Actor, actorID, sourceEntityID, targetEntityID int64, capability authz.Action, expiresAt *time.Time) (authz.CrossEntityGrant, error) {
	if !authz.ValidAction(capability) {
		return authz.CrossEntityGrant{}, fmt.Errorf("%w: unknown capability %q", ErrInvalidGrant, capability)
	}
	if sourceEntityID == targetEntityID {
		return authz.CrossEntityGrant{}, fmt.Errorf("%w: source and target entity must differ", ErrInvalidGrant)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return authz.CrossEntityGrant{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidGrant)
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, sourceEntityID, nil); err != nil {
		return authz.CrossEntityGrant{}, err
	}
	g, err := s.repo.CreateGrant(ctx, actorID, sourceEntityID, targetEntityID, capability, expiresAt)
	if err != nil {
		return authz.CrossEntityGrant{}, err
	}
	s.invalidate(ctx, actorID)
	if s.logger != nil {
		s.logger.Info("cross-entity grant issued",
			slog.Int64("grantor_id", grantor.ID),
			slog.Int64("actor_id", actorID),
			slog.Int64("source_entity_id", sourceEntityID),
			slog.Int64("target_entity_id", targetEntityID),
			slog.String("capability", string(capability)),
		)
	}
	return g, nil
}

// Revoke deletes a grant.
func (s *Service) Revoke(ctx context.Context, grantor authz.Actor, id int64) error {
	g, err := s.repo.GetGrant(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, g.SourceEntityID, nil); err != nil {
		return err
	}
	if _, err := s.repo.RevokeGrant(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, g.ActorID)
	return nil
}

// ExpireDue sweeps expired grants and invalidates every affected holder.
// Called from the background worker.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	seen := map[int64]struct{}{}
	for _, g := range expired {
		if _, ok := seen[g.ActorID]; ok {
			continue
		}
		seen[g.ActorID] = struct{}{}
		s.invalidate(ctx, g.ActorID)
	}
	return len(expired), nil
}

func (s *Service) invalidate(ctx context.Context, actorID int64) {
	if s.invalidator == nil {
		return
	}
	msg := authz.Message{Kind: authz.KindGrant, ID: actorID}
	if err := s.invalidator.Invalidate(ctx, msg); err != nil && s.logger != nil {
		s.logger.Error("invalidation publish failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aegis-iam/aegis/internal/audit"
	"github.com/aegis-iam/aegis/internal/observability"
	"github.com/aegis-iam/aegis/internal/platform/resilience"
	"github.com/aegis-iam/aegis/internal/shared"
)

// ResourceRoles is the catalog resource guarding role management itself.
const ResourceRoles = "roles"

// Store is the authoritative permission store the engine resolves against.
// All calls go through the resilience layer; implementations need not retry.
type Store interface {
	Actor(ctx context.Context, id int64) (Actor, error)
	// ActorGrants returns every role assignment of the actor together with
	// the permissions each role carries, across all entities.
	ActorGrants(ctx context.Context, actorID int64) ([]AssignmentGrant, error)
	Resource(ctx context.Context, name string) (ResourceInfo, error)
}

// Service is the resolution engine. It is safe for concurrent use.
type Service struct {
	store    Store
	cache    *MultiLevel
	boundary *BoundaryValidator
	exec     *resilience.Executor
	metrics  *observability.Metrics
	audit    audit.Emitter
	logger   *slog.Logger

	flight singleflight.Group
}

// NewService constructs the resolution engine.
func NewService(store Store, cache *MultiLevel, boundary *BoundaryValidator, exec *resilience.Executor, metrics *observability.Metrics, emitter audit.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		boundary: boundary,
		exec:     exec,
		metrics:  metrics,
		audit:    emitter,
		logger:   logger,
	}
}

// ResolveActor loads the actor identity for a check through the resilience
// layer. Callers treat ErrStoreUnavailable as a fail-closed deny.
func (s *Service) ResolveActor(ctx context.Context, actorID int64) (Actor, error) {
	var actor Actor
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		actor, err = s.store.Actor(ctx, actorID)
		if errors.Is(err, shared.ErrNotFound) {
			// A missing actor is an answer, not a store failure.
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Actor{}, err
		}
		return Actor{}, s.storeErr(ctx, err)
	}
	return actor, nil
}

// Check resolves one permission check. It never returns an error for an
// unreachable store: that case resolves to a fail-closed deny. The only
// errors are caller cancellation and malformed requests.
func (s *Service) Check(ctx context.Context, actor Actor, entityID int64, resource string, action Action) (Decision, error) {
	start := time.Now()
	if !ValidAction(action) {
		return Decision{}, fmt.Errorf("authz: unknown action %q", action)
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", shared.ErrCancelled, err)
	}

	if actor.Superuser {
		decision := Decision{Allowed: true, Source: SourceSuperuser}
		s.finish(actor, entityID, resource, action, decision, false, start)
		return decision, nil
	}

	key := DecisionKey(actor.ID, entityID, resource, action)
	if entry, ok := s.cache.GetDecision(ctx, key, resource); ok {
		decision := Decision{Allowed: entry.Allowed, Source: SourceCache}
		s.finish(actor, entityID, resource, action, decision, false, start)
		return decision, nil
	}

	decision, vetoed, err := s.resolve(ctx, actor, entityID, resource, action, key)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, shared.ErrCancelled) {
			return Decision{}, fmt.Errorf("%w: %v", shared.ErrCancelled, err)
		}
		// Fail closed. Operators hear about this through metrics and logs,
		// never the caller.
		s.metrics.StoreUnavailable()
		if s.logger != nil {
			s.logger.Error("permission store unreachable, failing closed",
				slog.Int64("actor_id", actor.ID),
				slog.Int64("entity_id", entityID),
				slog.String("resource", resource),
				slog.Any("error", err),
			)
		}
		decision = Decision{Allowed: false, Source: SourceFailClosed}
		s.finish(actor, entityID, resource, action, decision, false, start)
		return decision, nil
	}

	s.finish(actor, entityID, resource, action, decision, vetoed, start)
	return decision, nil
}

// CheckBatch resolves several (resource, action) pairs as independent checks
// sharing one actor/entity resolution.
func (s *Service) CheckBatch(ctx context.Context, actor Actor, entityID int64, pairs []ResourceAction) ([]bool, error) {
	results := make([]bool, len(pairs))
	for i, p := range pairs {
		decision, err := s.Check(ctx, actor, entityID, p.Resource, p.Action)
		if err != nil {
			return nil, err
		}
		results[i] = decision.Allowed
	}
	return results, nil
}

type resolved struct {
	decision Decision
	vetoed   bool
}

// resolve computes a decision on cache miss. Concurrent misses for the same
// key are collapsed through singleflight.
func (s *Service) resolve(ctx context.Context, actor Actor, entityID int64, resource string, action Action, key string) (Decision, bool, error) {
	// The flight is shared between callers, so it must not die with the
	// first caller's context. Each waiter still honors its own ctx in the
	// select below.
	flightCtx := context.WithoutCancel(ctx)
	resultCh := s.flight.DoChan(key, func() (interface{}, error) {
		return s.compute(flightCtx, actor, entityID, resource, action, key)
	})
	select {
	case <-ctx.Done():
		return Decision{}, false, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return Decision{}, false, res.Err
		}
		r := res.Val.(resolved)
		return r.decision, r.vetoed, nil
	}
}

func (s *Service) compute(ctx context.Context, actor Actor, entityID int64, resource string, action Action, key string) (resolved, error) {
	info, err := s.resourceInfo(ctx, resource)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Unknown resource: deny but do not poison the cache; the
			// catalog is admin-managed and may be mid-provisioning.
			return resolved{decision: Decision{Allowed: false, Source: SourceStore}}, nil
		}
		return resolved{}, err
	}
	if info.SuperuserOnly {
		// System invariant: no entity-scoped grant can override this.
		entry := DecisionEntry{
			Allowed:   false,
			ActorID:   actor.ID,
			EntityID:  entityID,
			Resource:  resource,
			Action:    string(action),
			StampedAt: time.Now().UTC(),
		}
		s.cache.SetDecision(ctx, key, entry)
		return resolved{decision: Decision{Allowed: false, Source: SourceRestriction}}, nil
	}

	grants, err := s.grantSet(ctx, actor.ID)
	if err != nil {
		return resolved{}, err
	}

	var allowed, vetoed, holdsOnEntity bool
	var assignmentIDs, roleIDs []int64
	seenRoles := map[int64]struct{}{}
	for _, g := range grants {
		// Track role IDs for every grant so role mutations invalidate this
		// entry even when the grant did not contribute.
		if _, ok := seenRoles[g.RoleID]; !ok {
			seenRoles[g.RoleID] = struct{}{}
			roleIDs = append(roleIDs, g.RoleID)
		}

		inScope, err := s.boundary.Validate(ctx, actor.ID, entityID, g.EntityID, g.Propagates, action)
		if err != nil {
			return resolved{}, err
		}
		if !inScope {
			if g.EntityID != entityID {
				vetoed = true
			}
			continue
		}
		holdsOnEntity = true
		for _, p := range g.Permissions {
			if p.Resource == resource && Implies(p.Action, action) {
				allowed = true
				assignmentIDs = append(assignmentIDs, g.AssignmentID)
				break
			}
		}
	}
	// A veto only surfaces as such when it was the sole path to the grant.
	vetoed = vetoed && !allowed && !holdsOnEntity

	entry := DecisionEntry{
		Allowed:       allowed,
		ActorID:       actor.ID,
		EntityID:      entityID,
		Resource:      resource,
		Action:        string(action),
		AssignmentIDs: assignmentIDs,
		RoleIDs:       roleIDs,
		StampedAt:     time.Now().UTC(),
	}
	s.cache.SetDecision(ctx, key, entry)

	source := SourceStore
	if vetoed {
		source = SourceBoundary
	}
	return resolved{decision: Decision{Allowed: allowed, Source: source}, vetoed: vetoed}, nil
}

// Warm preloads an actor's grant set into both cache tiers. Used by the
// background warmup job for hot actors.
func (s *Service) Warm(ctx context.Context, actorID int64) error {
	_, err := s.grantSet(ctx, actorID)
	return err
}

func (s *Service) grantSet(ctx context.Context, actorID int64) ([]AssignmentGrant, error) {
	if set, ok := s.cache.GetGrantSet(ctx, actorID); ok {
		return set, nil
	}
	var set []AssignmentGrant
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		set, err = s.store.ActorGrants(ctx, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.SetGrantSet(ctx, actorID, set)
	return set, nil
}

func (s *Service) resourceInfo(ctx context.Context, name string) (ResourceInfo, error) {
	var info ResourceInfo
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.store.Resource(ctx, name)
		if errors.Is(err, shared.ErrNotFound) {
			// Not a store failure; stop retrying.
			info = ResourceInfo{}
			return nil
		}
		return err
	})
	if err != nil {
		return ResourceInfo{}, err
	}
	if info.Name == "" {
		return ResourceInfo{}, shared.ErrNotFound
	}
	return info, nil
}

// AuthorizeGrant validates a role assignment before it is written: the
// grantor must hold a role-management capability in the target entity and
// every permission the role carries. Violations surface as distinct errors
// so the admin API can report them precisely.
func (s *Service) AuthorizeGrant(ctx context.Context, grantor Actor, entityID int64, perms []ResourceAction) error {
	if grantor.Superuser {
		return nil
	}
	manage, err := s.Check(ctx, grantor, entityID, ResourceRoles, ActionManage)
	if err != nil {
		return err
	}
	if !manage.Allowed {
		return shared.ErrCannotManagePermissions
	}
	for _, p := range perms {
		decision, err := s.Check(ctx, grantor, entityID, p.Resource, p.Action)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return fmt.Errorf("%w: %s.%s", shared.ErrMissingPermission, p.Resource, p.Action)
		}
	}
	return nil
}

func (s *Service) storeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", shared.ErrCancelled, ctx.Err())
	}
	return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
}

func (s *Service) finish(actor Actor, entityID int64, resource string, action Action, decision Decision, vetoed bool, start time.Time) {
	s.metrics.ObserveCheck(resource, decision.Allowed, time.Since(start))
	if s.audit == nil {
		return
	}
	result := audit.ResultDeny
	switch {
	case decision.Allowed:
		result = audit.ResultAllow
	case vetoed:
		result = audit.ResultBoundaryVeto
	}
	s.audit.Emit(audit.Event{
		ActorID:  actor.ID,
		EntityID: entityID,
		Resource: resource,
		Action:   string(action),
		Result:   result,
	})
}

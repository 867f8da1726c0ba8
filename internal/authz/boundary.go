package authz

import (
	"context"
	"errors"

	"github.com/aegis-iam/aegis/internal/platform/resilience"
	"github.com/aegis-iam/aegis/internal/shared"
)

// EntityTree answers reachability questions over the entity hierarchy.
type EntityTree interface {
	IsDescendant(ctx context.Context, child, ancestor int64) (bool, error)
}

// GrantSource looks up active cross-entity grants.
type GrantSource interface {
	// ActiveGrants returns the unexpired grants held by the actor whose
	// source entity is sourceEntityID and target is targetEntityID.
	ActiveGrants(ctx context.Context, actorID, sourceEntityID, targetEntityID int64) ([]CrossEntityGrant, error)
}

// BoundaryValidator enforces that permission grants and checks never cross
// entity boundaries unless an explicit cross-entity capability is held.
// A veto from the validator always wins over a role-level grant.
type BoundaryValidator struct {
	tree   EntityTree
	grants GrantSource
	exec   *resilience.Executor
}

// NewBoundaryValidator constructs a validator. Grant lookups hit the
// permission store, so they run through the same executor as the rest of the
// store access path; exec may be nil in tests.
func NewBoundaryValidator(tree EntityTree, grants GrantSource, exec *resilience.Executor) *BoundaryValidator {
	return &BoundaryValidator{tree: tree, grants: grants, exec: exec}
}

// Validate reports whether a role granted in grantedEntity may contribute to
// a check in requestedEntity. Rules, most permissive first:
//   - same entity: allow
//   - requested is a descendant of granted and the role propagates: allow
//   - an active cross-entity grant covering granted -> requested at the
//     needed capability level: allow
//
// Anything else is a veto.
func (v *BoundaryValidator) Validate(ctx context.Context, actorID, requestedEntity, grantedEntity int64, propagates bool, needed Action) (bool, error) {
	if requestedEntity == grantedEntity {
		return true, nil
	}

	if propagates {
		descendant, err := v.tree.IsDescendant(ctx, requestedEntity, grantedEntity)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return false, err
		}
		// An entity unknown to the tree is simply not reachable.
		if descendant {
			return true, nil
		}
	}

	grants, err := v.activeGrants(ctx, actorID, grantedEntity, requestedEntity)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if Implies(g.Capability, needed) {
			return true, nil
		}
	}
	return false, nil
}

func (v *BoundaryValidator) activeGrants(ctx context.Context, actorID, sourceEntity, targetEntity int64) ([]CrossEntityGrant, error) {
	if v.exec == nil {
		return v.grants.ActiveGrants(ctx, actorID, sourceEntity, targetEntity)
	}
	var grants []CrossEntityGrant
	err := v.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		grants, err = v.grants.ActiveGrants(ctx, actorID, sourceEntity, targetEntity)
		return err
	})
	return grants, err
}

package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/shared"
)

// Authorizer validates grant operations against the resolution engine.
type Authorizer interface {
	AuthorizeGrant(ctx context.Context, grantor authz.Actor, entityID int64, perms []authz.ResourceAction) error
}

// Invalidator propagates cache invalidation after mutations. Publishing
// happens before the mutation returns to the caller, bounding staleness.
type Invalidator interface {
	Invalidate(ctx context.Context, msg authz.Message) error
}

// Store is the persistence surface the service needs. *Repository
// implements it.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string, entityID *int64, propagate bool) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string, propagate bool) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RolePermissions(ctx context.Context, roleID int64) ([]authz.ResourceAction, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	EnsurePermission(ctx context.Context, resourceID int64, action authz.Action) (Permission, error)
	ListPermissions(ctx context.Context, resource string) ([]Permission, error)
	CreateAssignment(ctx context.Context, actorID, roleID, entityID int64) (Assignment, error)
	DeleteAssignment(ctx context.Context, actorID, roleID, entityID int64) (Assignment, error)
	ListResources(ctx context.Context) ([]Resource, error)
	CreateResource(ctx context.Context, name, description string, superuserOnly bool) (Resource, error)
}

// systemScope is the entity ID used for grant checks on unscoped roles and
// the resource catalog. No real entity carries ID 0, so only superusers and
// holders of a system-level role-management assignment pass.
const systemScope int64 = 0

func scopeOf(entityID *int64) int64 {
	if entityID == nil {
		return systemScope
	}
	return *entityID
}

// Service orchestrates permission-store mutations.
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

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role. The grantor must hold role management in
// the entity the role is scoped to (system scope for unscoped roles).
func (s *Service) CreateRole(ctx context.Context, grantor authz.Actor, name, description string, entityID *int64, propagate bool) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("roles: role name required")
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, scopeOf(entityID), nil); err != nil {
		return Role{}, err
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description), entityID, propagate)
}

// UpdateRole updates a role and invalidates every holder's cached state.
// Enabling propagation widens every permission the role carries to the
// entity's descendants, so the grantor must hold the full bundle, same as
// SetRolePermissions.
func (s *Service) UpdateRole(ctx context.Context, grantor authz.Actor, id int64, name, description string, propagate bool) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("roles: role name required")
	}
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.repo.RolePermissions(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, scopeOf(existing.EntityID), perms); err != nil {
		return Role{}, err
	}
	role, err := s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description), propagate)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx, authz.Message{Kind: authz.KindRole, ID: id})
	return role, nil
}

// DeleteRole removes a role, cascading to its assignments.
func (s *Service) DeleteRole(ctx context.Context, grantor authz.Actor, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, scopeOf(role.EntityID), nil); err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, authz.Message{Kind: authz.KindRole, ID: id})
	return nil
}

// SetRolePermissions replaces the permission bundle of a role. The grantor
// must already hold every permission in the new bundle.
func (s *Service) SetRolePermissions(ctx context.Context, grantor authz.Actor, roleID int64, permissionIDs []int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	perms, err := s.permissionsByID(ctx, permissionIDs)
	if err != nil {
		return err
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, scopeOf(role.EntityID), perms); err != nil {
		return err
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.invalidate(ctx, authz.Message{Kind: authz.KindRole, ID: roleID})
	return nil
}

// AssignRole grants a role to an actor within an entity. The grantor must
// hold role management in that entity and every permission the role
// carries; otherwise the violation surfaces as a distinct error.
func (s *Service) AssignRole(ctx context.Context, grantor authz.Actor, actorID, roleID, entityID int64) (Assignment, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if role.EntityID != nil && *role.EntityID != entityID {
		return Assignment{}, fmt.Errorf("%w: role %d is scoped to entity %d", shared.ErrEntityBoundaryViolation, roleID, *role.EntityID)
	}
	perms, err := s.repo.RolePermissions(ctx, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, entityID, perms); err != nil {
		return Assignment{}, err
	}
	assignment, err := s.repo.CreateAssignment(ctx, actorID, roleID, entityID)
	if err != nil {
		return Assignment{}, err
	}
	s.invalidate(ctx, authz.Message{Kind: authz.KindAssignment, ID: actorID})
	if s.logger != nil {
		s.logger.Info("role assigned",
			slog.Int64("grantor_id", grantor.ID),
			slog.Int64("actor_id", actorID),
			slog.Int64("role_id", roleID),
			slog.Int64("entity_id", entityID),
		)
	}
	return assignment, nil
}

// RevokeRole removes a role assignment.
func (s *Service) RevokeRole(ctx context.Context, grantor authz.Actor, actorID, roleID, entityID int64) error {
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, entityID, nil); err != nil {
		return err
	}
	if _, err := s.repo.DeleteAssignment(ctx, actorID, roleID, entityID); err != nil {
		return err
	}
	s.invalidate(ctx, authz.Message{Kind: authz.KindAssignment, ID: actorID})
	return nil
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context, resource string) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, resource)
}

// ListResources returns the resource catalog.
func (s *Service) ListResources(ctx context.Context) ([]Resource, error) {
	return s.repo.ListResources(ctx)
}

// CreateResource adds a capability domain and seeds its permission rows for
// the full action taxonomy. The catalog is system scoped, so the grantor
// needs role management there.
func (s *Service) CreateResource(ctx context.Context, grantor authz.Actor, name, description string, superuserOnly bool) (Resource, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return Resource{}, errors.New("roles: resource name required")
	}
	if err := s.authorizer.AuthorizeGrant(ctx, grantor, systemScope, nil); err != nil {
		return Resource{}, err
	}
	res, err := s.repo.CreateResource(ctx, name, strings.TrimSpace(description), superuserOnly)
	if err != nil {
		return Resource{}, err
	}
	for _, action := range []authz.Action{authz.ActionView, authz.ActionViewAny, authz.ActionCreate, authz.ActionUpdate, authz.ActionDelete, authz.ActionDeleteAny, authz.ActionManage} {
		if _, err := s.repo.EnsurePermission(ctx, res.ID, action); err != nil {
			return Resource{}, err
		}
	}
	s.invalidate(ctx, authz.Message{Kind: authz.KindResource, Resource: name})
	return res, nil
}

func (s *Service) permissionsByID(ctx context.Context, ids []int64) ([]authz.ResourceAction, error) {
	catalog, err := s.repo.ListPermissions(ctx, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Permission, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	perms := make([]authz.ResourceAction, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("roles: unknown permission id %d", id)
		}
		perms = append(perms, authz.ResourceAction{Resource: p.Resource, Action: p.Action})
	}
	return perms, nil
}

func (s *Service) invalidate(ctx context.Context, msg authz.Message) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, msg); err != nil && s.logger != nil {
		// The mutation is durable; a lost publish only extends staleness to
		// the cache TTL.
		s.logger.Error("invalidation publish failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

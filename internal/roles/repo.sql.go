package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/platform/db"
	"github.com/aegis-iam/aegis/internal/shared"
)

// Repository provides PostgreSQL backed persistence. It also implements
// authz.Store for the resolution engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, entity_id, propagate_to_children, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.EntityID, &role.PropagateToChildren, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, entity_id, propagate_to_children, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.EntityID, &role.PropagateToChildren, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name, description string, entityID *int64, propagate bool) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description, entity_id, propagate_to_children)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, description, entity_id, propagate_to_children, created_at, updated_at`,
		name, description, entityID, propagate).
		Scan(&role.ID, &role.Name, &role.Description, &role.EntityID, &role.PropagateToChildren, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates name, description and propagation of a role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string, propagate bool) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, propagate_to_children = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING id, name, description, entity_id, propagate_to_children, created_at, updated_at`,
		id, name, description, propagate).
		Scan(&role.ID, &role.Name, &role.Description, &role.EntityID, &role.PropagateToChildren, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role and, transactionally, every assignment of it.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE role_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// RolePermissions returns the permissions bundled into a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]authz.ResourceAction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT res.name, p.action
		 FROM role_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 JOIN resources res ON res.id = p.resource_id
		 WHERE rp.role_id = $1
		 ORDER BY res.name, p.action`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []authz.ResourceAction
	for rows.Next() {
		var ra authz.ResourceAction
		if err := rows.Scan(&ra.Resource, &ra.Action); err != nil {
			return nil, err
		}
		perms = append(perms, ra)
	}
	return perms, rows.Err()
}

// SetRolePermissions replaces the permission bundle of a role atomically.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, pid); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsurePermission upserts a (resource, action) permission.
func (r *Repository) EnsurePermission(ctx context.Context, resourceID int64, action authz.Action) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (resource_id, action) VALUES ($1, $2)
		 ON CONFLICT (resource_id, action) DO UPDATE SET action = EXCLUDED.action
		 RETURNING id, (SELECT name FROM resources WHERE id = resource_id), action`,
		resourceID, action).
		Scan(&p.ID, &p.Resource, &p.Action)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns the catalog, optionally filtered by resource name.
func (r *Repository) ListPermissions(ctx context.Context, resource string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, res.name, p.action
		 FROM permissions p
		 JOIN resources res ON res.id = p.resource_id
		 WHERE $1 = '' OR res.name = $1
		 ORDER BY res.name, p.action`, resource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateAssignment grants a role to an actor within an entity.
func (r *Repository) CreateAssignment(ctx context.Context, actorID, roleID, entityID int64) (Assignment, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx,
		`INSERT INTO role_assignments (actor_id, role_id, entity_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (actor_id, role_id, entity_id) DO UPDATE SET actor_id = EXCLUDED.actor_id
		 RETURNING id, actor_id, role_id, entity_id, created_at`,
		actorID, roleID, entityID).
		Scan(&a.ID, &a.ActorID, &a.RoleID, &a.EntityID, &a.CreatedAt)
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// DeleteAssignment revokes a role assignment.
func (r *Repository) DeleteAssignment(ctx context.Context, actorID, roleID, entityID int64) (Assignment, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx,
		`DELETE FROM role_assignments WHERE actor_id = $1 AND role_id = $2 AND entity_id = $3
		 RETURNING id, actor_id, role_id, entity_id, created_at`,
		actorID, roleID, entityID).
		Scan(&a.ID, &a.ActorID, &a.RoleID, &a.EntityID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, shared.ErrNotFound
		}
		return Assignment{}, err
	}
	return a, nil
}

// Actor implements authz.Store.
func (r *Repository) Actor(ctx context.Context, id int64) (authz.Actor, error) {
	var actor authz.Actor
	err := r.pool.QueryRow(ctx, `SELECT id, name, superuser FROM actors WHERE id = $1`, id).
		Scan(&actor.ID, &actor.Name, &actor.Superuser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Actor{}, shared.ErrNotFound
		}
		return authz.Actor{}, err
	}
	return actor, nil
}

// ActorGrants implements authz.Store: every assignment of the actor joined
// with the permissions its role carries.
func (r *Repository) ActorGrants(ctx context.Context, actorID int64) ([]authz.AssignmentGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ra.id, ra.role_id, ra.entity_id, ro.propagate_to_children, res.name, p.action
		 FROM role_assignments ra
		 JOIN roles ro ON ro.id = ra.role_id
		 LEFT JOIN role_permissions rp ON rp.role_id = ro.id
		 LEFT JOIN permissions p ON p.id = rp.permission_id
		 LEFT JOIN resources res ON res.id = p.resource_id
		 WHERE ra.actor_id = $1
		 ORDER BY ra.id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.AssignmentGrant
	var current *authz.AssignmentGrant
	for rows.Next() {
		var (
			assignmentID, roleID, entityID int64
			propagates                     bool
			resource                       *string
			action                         *string
		)
		if err := rows.Scan(&assignmentID, &roleID, &entityID, &propagates, &resource, &action); err != nil {
			return nil, err
		}
		if current == nil || current.AssignmentID != assignmentID {
			grants = append(grants, authz.AssignmentGrant{
				AssignmentID: assignmentID,
				RoleID:       roleID,
				EntityID:     entityID,
				Propagates:   propagates,
			})
			current = &grants[len(grants)-1]
		}
		if resource != nil && action != nil {
			current.Permissions = append(current.Permissions, authz.ResourceAction{
				Resource: *resource,
				Action:   authz.Action(*action),
			})
		}
	}
	return grants, rows.Err()
}

// Resource implements authz.Store.
func (r *Repository) Resource(ctx context.Context, name string) (authz.ResourceInfo, error) {
	var info authz.ResourceInfo
	err := r.pool.QueryRow(ctx, `SELECT name, superuser_only FROM resources WHERE name = $1`, name).
		Scan(&info.Name, &info.SuperuserOnly)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.ResourceInfo{}, shared.ErrNotFound
		}
		return authz.ResourceInfo{}, err
	}
	return info, nil
}

// ListResources returns the resource catalog.
func (r *Repository) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, superuser_only FROM resources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var resources []Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Description, &res.SuperuserOnly); err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

// CreateResource adds a capability domain to the catalog.
func (r *Repository) CreateResource(ctx context.Context, name, description string, superuserOnly bool) (Resource, error) {
	var res Resource
	err := r.pool.QueryRow(ctx,
		`INSERT INTO resources (name, description, superuser_only) VALUES ($1, $2, $3)
		 RETURNING id, name, description, superuser_only`,
		name, description, superuserOnly).
		Scan(&res.ID, &res.Name, &res.Description, &res.SuperuserOnly)
	if err != nil {
		return Resource{}, err
	}
	return res, nil
}

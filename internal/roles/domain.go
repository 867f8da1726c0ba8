// Package roles is the authoritative permission store: the role catalog,
// role-permission bundles, and the role assignments granting them to actors.
package roles

import (
	"time"

	"github.com/aegis-iam/aegis/internal/authz"
)

// Role is a named, flat bundle of permissions. Roles never inherit from one
// another; grouping without implicit escalation is the point.
type Role struct {
	ID          int64
	Name        string
	Description string
	// EntityID scopes the role to one entity; nil marks a system role
	// assignable anywhere.
	EntityID *int64
	// PropagateToChildren lets assignments of this role reach descendant
	// entities. Off by default.
	PropagateToChildren bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Permission is a (resource, action) capability in the catalog.
type Permission struct {
	ID       int64
	Resource string
	Action   authz.Action
}

// Resource is a named capability domain from the static catalog.
type Resource struct {
	ID            int64
	Name          string
	Description   string
	SuperuserOnly bool
}

// Assignment grants a role to an actor within an entity. Unique per triple.
type Assignment struct {
	ID        int64
	ActorID   int64
	RoleID    int64
	EntityID  int64
	CreatedAt time.Time
}

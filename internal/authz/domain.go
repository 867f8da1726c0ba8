// Package authz implements the permission resolution engine: the decision
// point that answers whether an actor may perform an action on a resource
// within an entity context.
package authz

import "time"

// Actor is the immutable identity a check runs for. Roles attach externally
// through role assignments.
type Actor struct {
	ID        int64
	Name      string
	Superuser bool
}

// CheckRequest identifies one permission check.
type CheckRequest struct {
	ActorID  int64
	EntityID int64
	Resource string
	Action   Action
}

// Decision is the resolved outcome of a check.
type Decision struct {
	Allowed bool
	// Source records how the decision was reached, for diagnostics.
	Source DecisionSource
}

// DecisionSource enumerates decision provenance.
type DecisionSource string

const (
	SourceSuperuser   DecisionSource = "superuser"
	SourceCache       DecisionSource = "cache"
	SourceStore       DecisionSource = "store"
	SourceFailClosed  DecisionSource = "fail_closed"
	SourceBoundary    DecisionSource = "boundary_veto"
	SourceRestriction DecisionSource = "superuser_only"
)

// AssignmentGrant is one role assignment of an actor together with the
// permissions the role carries. It is the unit the engine unions over.
type AssignmentGrant struct {
	AssignmentID int64
	RoleID       int64
	EntityID     int64
	Propagates   bool
	Permissions  []ResourceAction
}

// ResourceAction is a (resource, action) permission pair.
type ResourceAction struct {
	Resource string
	Action   Action
}

// ResourceInfo describes a catalog entry relevant to resolution.
type ResourceInfo struct {
	Name          string
	SuperuserOnly bool
}

// CrossEntityGrant is the only mechanism allowing a boundary crossing.
type CrossEntityGrant struct {
	ID             int64
	ActorID        int64
	SourceEntityID int64
	TargetEntityID int64
	Capability     Action
	ExpiresAt      time.Time
}

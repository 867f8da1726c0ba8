package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingPermission indicates the grantor does not hold a permission being granted.
	ErrMissingPermission = errors.New("grantor missing permission")
	// ErrCannotManagePermissions indicates the grantor lacks the role-management capability.
	ErrCannotManagePermissions = errors.New("grantor cannot manage permissions")
	// ErrEntityBoundaryViolation indicates a cross-entity access without a covering grant.
	ErrEntityBoundaryViolation = errors.New("entity boundary violation")
	// ErrStoreUnavailable indicates the permission store could not be reached.
	ErrStoreUnavailable = errors.New("permission store unavailable")
	// ErrCancelled indicates the caller abandoned the request before a decision was made.
	ErrCancelled = errors.New("check cancelled")
)

// ErrorCode returns the wire-level code for a domain error, or empty when the
// error does not belong to the authorization taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingPermission):
		return "MISSING_PERMISSION"
	case errors.Is(err, ErrCannotManagePermissions):
		return "CANNOT_MANAGE_PERMISSIONS"
	case errors.Is(err, ErrEntityBoundaryViolation):
		return "ENTITY_BOUNDARY_VIOLATION"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	case errors.Is(err, ErrCancelled):
		return "CANCELLED"
	}
	return ""
}

// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/aegis-iam/aegis/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807. Errors
// from the authorization taxonomy carry their code so admin callers can act
// on MISSING_PERMISSION and friends without parsing prose.
func RespondError(w http.ResponseWriter, err error) {
	if code := shared.ErrorCode(err); code != "" {
		switch code {
		case "MISSING_PERMISSION", "CANNOT_MANAGE_PERMISSIONS", "ENTITY_BOUNDARY_VIOLATION":
			ProblemCode(w, http.StatusForbidden, "Forbidden", err.Error(), code)
		case "STORE_UNAVAILABLE":
			ProblemCode(w, http.StatusServiceUnavailable, "Store Unavailable", "", code)
		case "CANCELLED":
			ProblemCode(w, http.StatusRequestTimeout, "Cancelled", "", code)
		}
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/platform/httpx"
)

// Handler exposes role, permission, and assignment administration.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the roles handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers role administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Get("/roles/{roleID}", h.getRole)
	r.Put("/roles/{roleID}", h.updateRole)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
	r.Post("/roles/{roleID}/assignments", h.assignRole)
	r.Delete("/roles/{roleID}/assignments", h.revokeRole)
	r.Get("/permissions", h.listPermissions)
	r.Get("/resources", h.listResources)
	r.Post("/resources", h.createResource)
}

type roleRequest struct {
	Name                string `json:"name" validate:"required,max=120"`
	Description         string `json:"description" validate:"max=500"`
	EntityID            *int64 `json:"entityId" validate:"omitempty,gt=0"`
	PropagateToChildren bool   `json:"propagateToChildren"`
}

type rolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permissionIds" validate:"required,dive,gt=0"`
}

type assignmentRequest struct {
	ActorID  int64 `json:"actorId" validate:"required,gt=0"`
	EntityID int64 `json:"entityId" validate:"required,gt=0"`
}

type resourceRequest struct {
	Name          string `json:"name" validate:"required,max=120"`
	Description   string `json:"description" validate:"max=500"`
	SuperuserOnly bool   `json:"superuserOnly"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	req, ok := decode[roleRequest](h, w, r)
	if !ok {
		return
	}
	role, err := h.service.CreateRole(r.Context(), grantor, req.Name, req.Description, req.EntityID, req.PropagateToChildren)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	req, ok := decode[roleRequest](h, w, r)
	if !ok {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), grantor, id, req.Name, req.Description, req.PropagateToChildren)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), grantor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	req, ok := decode[rolePermissionsRequest](h, w, r)
	if !ok {
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), grantor, id, req.PermissionIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	req, ok := decode[assignmentRequest](h, w, r)
	if !ok {
		return
	}
	assignment, err := h.service.AssignRole(r.Context(), grantor, req.ActorID, id, req.EntityID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	req, ok := decode[assignmentRequest](h, w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeRole(r.Context(), grantor, req.ActorID, id, req.EntityID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context(), r.URL.Query().Get("resource"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.service.ListResources(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resources)
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	grantor, ok := h.grantor(w, r)
	if !ok {
		return
	}
	req, ok := decode[resourceRequest](h, w, r)
	if !ok {
		return
	}
	res, err := h.service.CreateResource(r.Context(), grantor, req.Name, req.Description, req.SuperuserOnly)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) grantor(w http.ResponseWriter, r *http.Request) (authz.Actor, bool) {
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no actor on request")
		return authz.Actor{}, false
	}
	return actor, true
}

func decode[T any](h *Handler, w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return req, false
	}
	return req, true
}

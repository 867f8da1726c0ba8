package grants

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/platform/httpx"
)

// Handler exposes cross-entity grant administration.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the grants handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers grant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/grants", h.listGrants)
	r.Post("/grants", h.createGrant)
	r.Delete("/grants/{grantID}", h.revokeGrant)
}

type grantRequest struct {
	ActorID        int64      `json:"actorId" validate:"required,gt=0"`
	SourceEntityID int64      `json:"sourceEntityId" validate:"required,gt=0"`
	TargetEntityID int64      `json:"targetEntityId" validate:"required,gt=0"`
	Capability     string     `json:"capability" validate:"required"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}

type grantResponse struct {
	ID             int64      `json:"id"`
	ActorID        int64      `json:"actorId"`
	SourceEntityID int64      `json:"sourceEntityId"`
	TargetEntityID int64      `json:"targetEntityId"`
	Capability     string     `json:"capability"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

func toResponse(g authz.CrossEntityGrant) grantResponse {
	resp := grantResponse{
		ID:             g.ID,
		ActorID:        g.ActorID,
		SourceEntityID: g.SourceEntityID,
		TargetEntityID: g.TargetEntityID,
		Capability:     string(g.Capability),
	}
	if !g.ExpiresAt.IsZero() {
		exp := g.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	actorID, err := strconv.ParseInt(r.URL.Query().Get("actorId"), 10, 64)
	if err != nil || actorID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "actorId query parameter required")
		return
	}
	list, err := h.service.List(r.Context(), actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]grantResponse, len(list))
	for i, g := range list {
		out[i] = toResponse(g)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createGrant(w http.ResponseWriter, r *http.Request) {
	grantor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no actor on request")
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	g, err := h.service.Create(r.Context(), grantor, req.ActorID, req.SourceEntityID, req.TargetEntityID, authz.Action(req.Capability), req.ExpiresAt)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(g))
}

func (h *Handler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	grantor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no actor on request")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "grantID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid grantID")
		return
	}
	if err := h.service.Revoke(r.Context(), grantor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package entities

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/platform/httpx"
)

// Invalidator propagates cache invalidation after tree mutations.
type Invalidator interface {
	Invalidate(ctx context.Context, msg authz.Message) error
}

// Handler exposes entity tree administration.
type Handler struct {
	logger      *slog.Logger
	resolver    *Resolver
	invalidator Invalidator
	validate    *validator.Validate
}

// NewHandler constructs the entities handler.
func NewHandler(logger *slog.Logger, resolver *Resolver, invalidator Invalidator) *Handler {
	return &Handler{logger: logger, resolver: resolver, invalidator: invalidator, validate: validator.New()}
}

// MountRoutes registers entity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/entities", h.listEntities)
	r.Get("/entities/{entityID}", h.getEntity)
	r.Post("/entities", h.createEntity)
}

type entityRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	ParentID *int64 `json:"parentId" validate:"omitempty,gt=0"`
}

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	list, err := h.resolver.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entityID")
		return
	}
	e, err := h.resolver.Resolve(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) createEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	e, err := h.resolver.Create(r.Context(), req.Name, req.ParentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.invalidator != nil {
		msg := authz.Message{Kind: authz.KindEntity, ID: e.ID}
		if err := h.invalidator.Invalidate(r.Context(), msg); err != nil && h.logger != nil {
			h.logger.Error("invalidation publish failed", slog.String("kind", msg.Kind), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusCreated, e)
}

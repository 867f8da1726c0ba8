package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/shared"
)

// Handler exposes the check API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the check handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers check routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/permissions/check", h.handleCheck)
	r.Post("/permissions/check-batch", h.handleCheckBatch)
}

type checkRequest struct {
	ActorID  int64  `json:"actorId" validate:"required,gt=0"`
	EntityID int64  `json:"entityId" validate:"required,gt=0"`
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Source  string `json:"source"`
}

type batchCheckRequest struct {
	ActorID  int64       `json:"actorId" validate:"required,gt=0"`
	EntityID int64       `json:"entityId" validate:"required,gt=0"`
	Checks   []checkPair `json:"checks" validate:"required,min=1,max=100,dive"`
}

type checkPair struct {
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
}

type batchCheckResponse struct {
	Results []bool `json:"results"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !ValidAction(Action(req.Action)) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action: "+req.Action)
		return
	}
	actor, err := h.service.ResolveActor(r.Context(), req.ActorID)
	if err != nil {
		h.respondResolveFailure(w, err)
		return
	}
	decision, err := h.service.Check(r.Context(), actor, req.EntityID, req.Resource, Action(req.Action))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: decision.Allowed, Source: string(decision.Source)})
}

func (h *Handler) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pairs := make([]ResourceAction, len(req.Checks))
	for i, c := range req.Checks {
		if !ValidAction(Action(c.Action)) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action: "+c.Action)
			return
		}
		pairs[i] = ResourceAction{Resource: c.Resource, Action: Action(c.Action)}
	}
	actor, err := h.service.ResolveActor(r.Context(), req.ActorID)
	if err != nil {
		if errors.Is(err, shared.ErrStoreUnavailable) || errors.Is(err, shared.ErrNotFound) {
			httpx.JSON(w, http.StatusOK, batchCheckResponse{Results: make([]bool, len(pairs))})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	results, err := h.service.CheckBatch(r.Context(), actor, req.EntityID, pairs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchCheckResponse{Results: results})
}

// respondResolveFailure keeps the check API fail-closed: an unreachable
// store or unknown actor yields a deny, not an error. Cancellation still
// surfaces as one.
func (h *Handler) respondResolveFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrStoreUnavailable):
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: false, Source: string(SourceFailClosed)})
	case errors.Is(err, shared.ErrNotFound):
		httpx.JSON(w, http.StatusOK, checkResponse{Allowed: false, Source: string(SourceStore)})
	default:
		httpx.RespondError(w, err)
	}
}

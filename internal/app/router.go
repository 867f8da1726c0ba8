package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/entities"
	"github.com/aegis-iam/aegis/internal/grants"
	"github.com/aegis-iam/aegis/internal/observability"
	"github.com/aegis-iam/aegis/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	CheckHandler    *authz.Handler
	RolesHandler    *roles.Handler
	EntitiesHandler *entities.Handler
	GrantsHandler   *grants.Handler
	Identity        authz.Middleware
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.CheckHandler != nil {
		params.CheckHandler.MountRoutes(r)
	}

	// Admin surface: mutations require a resolved grantor identity.
	r.Group(func(r chi.Router) {
		r.Use(params.Identity.RequireActor)
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(r)
		}
		if params.EntitiesHandler != nil {
			params.EntitiesHandler.MountRoutes(r)
		}
		if params.GrantsHandler != nil {
			params.GrantsHandler.MountRoutes(r)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

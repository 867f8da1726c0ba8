package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aegis-iam/aegis/internal/platform/httpx"
	"github.com/aegis-iam/aegis/internal/shared"
)

type actorContextKey struct{}

// WithActor stores the resolved actor on the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor stored by the identity middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireActor resolves the calling actor from the X-Actor-ID header and
// stores it on the request context. Admin mutations fail loudly on store
// trouble rather than fail-closed; only check decisions degrade to deny.
func (m Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid X-Actor-ID header")
			return
		}
		actor, err := m.Service.ResolveActor(r.Context(), id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown actor")
				return
			}
			if m.Logger != nil {
				m.Logger.Error("resolve actor", slog.Int64("actor_id", id), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, WrapRequest(r, actor))
	})
}

// WrapRequest returns the request with the actor attached.
func WrapRequest(r *http.Request, actor Actor) *http.Request {
	return r.WithContext(WithActor(shared.ContextWithActorID(r.Context(), actor.ID), actor))
}

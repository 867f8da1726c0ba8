package shared

import "context"

type contextKey string

const actorIDKey contextKey = "actor_id"

// ContextWithActorID stores the authenticated caller's actor ID in the context.
func ContextWithActorID(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// ActorIDFromContext retrieves the authenticated caller's actor ID.
func ActorIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorIDKey).(int64)
	return id, ok
}

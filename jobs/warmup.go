package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aegis-iam/aegis/internal/jobs"
)

// Warmer preloads an actor's grant set into the cache tiers.
type Warmer interface {
	Warm(ctx context.Context, actorID int64) error
}

// HotActorSource names the actors worth preloading when a warmup task does
// not carry an explicit list.
type HotActorSource interface {
	HotActors(ctx context.Context, since time.Time, limit int) ([]int64, error)
}

const (
	hotActorWindow = 24 * time.Hour
	hotActorLimit  = 100
)

// NewCacheWarmupHandler returns the handler for TaskCacheWarmup. Individual
// actor failures are logged and skipped so one bad ID does not starve the
// rest of the batch.
func NewCacheWarmupHandler(warmer Warmer, source HotActorSource, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("cache_warmup")
		var payload CacheWarmupPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return tracker.End(asynq.SkipRetry)
			}
		}
		ids := payload.ActorIDs
		if len(ids) == 0 && source != nil {
			var err error
			ids, err = source.HotActors(ctx, time.Now().Add(-hotActorWindow), hotActorLimit)
			if err != nil {
				return tracker.End(err)
			}
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return tracker.End(err)
			}
			if err := warmer.Warm(ctx, id); err != nil && logger != nil {
				logger.Warn("cache warmup", slog.Int64("actor_id", id), slog.Any("error", err))
			}
		}
		if logger != nil {
			logger.Info("cache warmup complete", slog.Int("actors", len(ids)))
		}
		return tracker.End(nil)
	}
}

package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aegis-iam/aegis/internal/jobs"
)

// GrantSweeper removes expired cross-entity grants and invalidates holders.
type GrantSweeper interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// NewGrantExpiryHandler returns the handler for TaskGrantExpiry.
func NewGrantExpiryHandler(sweeper GrantSweeper, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("grant_expiry")
		n, err := sweeper.ExpireDue(ctx, time.Now())
		if err != nil {
			return tracker.End(err)
		}
		if n > 0 && logger != nil {
			logger.Info("expired cross-entity grants", slog.Int("count", n))
		}
		return tracker.End(nil)
	}
}

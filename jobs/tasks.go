package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantExpiry sweeps expired cross-entity grants.
	TaskGrantExpiry = "grants:expire"
	// TaskCacheWarmup preloads grant sets for hot actors.
	TaskCacheWarmup = "cache:warmup"
)

// CacheWarmupPayload names the actors whose grant sets should be preloaded.
type CacheWarmupPayload struct {
	ActorIDs []int64 `json:"actorIds"`
}

// NewGrantExpiryTask constructs the sweep task.
func NewGrantExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskGrantExpiry, nil)
}

// NewCacheWarmupTask constructs a warmup task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder is a Sink writing events into the local audit_events table for
// deployments without an external audit collaborator.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists the event.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.pool == nil {
		return errors.New("audit recorder not initialised")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (actor_id, entity_id, resource, action, result, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ActorID, event.EntityID, event.Resource, event.Action, event.Result, event.OccurredAt)
	return err
}

// HotActors returns the actors with the most recorded checks since the given
// time, most active first. Used to seed cache warmup.
func (r *Recorder) HotActors(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("audit recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT actor_id
		FROM audit_events
		WHERE occurred_at >= $1
		GROUP BY actor_id
		ORDER BY count(*) DESC
		LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

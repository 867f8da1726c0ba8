package grants

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/shared"
)

// Repository persists cross-entity grants. It implements authz.GrantSource
// for the boundary validator.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveGrants returns the unexpired grants bridging source to target for an
// actor.
func (r *Repository) ActiveGrants(ctx context.Context, actorID, sourceEntityID, targetEntityID int64) ([]authz.CrossEntityGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, source_entity_id, target_entity_id, capability, expires_at
		FROM cross_entity_grants
		WHERE actor_id = $1
		  AND source_entity_id = $2
		  AND target_entity_id = $3
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY id`,
		actorID, sourceEntityID, targetEntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// ListGrants returns every grant held by an actor, expired ones included.
func (r *Repository) ListGrants(ctx context.Context, actorID int64) ([]authz.CrossEntityGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, source_entity_id, target_entity_id, capability, expires_at
		FROM cross_entity_grants
		WHERE actor_id = $1
		ORDER BY id`,
		actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// CreateGrant inserts a grant.
func (r *Repository) CreateGrant(ctx context.Context, actorID, sourceEntityID, targetEntityID int64, capability authz.Action, expiresAt *time.Time) (authz.CrossEntityGrant, error) {
	var (
		g   authz.CrossEntityGrant
		exp *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO cross_entity_grants (actor_id, source_entity_id, target_entity_id, capability, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, actor_id, source_entity_id, target_entity_id, capability, expires_at`,
		actorID, sourceEntityID, targetEntityID, capability, expiresAt,
	).Scan(&g.ID, &g.ActorID, &g.SourceEntityID, &g.TargetEntityID, &g.Capability, &exp)
	if exp != nil {
		g.ExpiresAt = *exp
	}
	return g, err
}

// GetGrant fetches a grant by ID.
func (r *Repository) GetGrant(ctx context.Context, id int64) (authz.CrossEntityGrant, error) {
	var (
		g   authz.CrossEntityGrant
		exp *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, actor_id, source_entity_id, target_entity_id, capability, expires_at
		FROM cross_entity_grants
		WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.ActorID, &g.SourceEntityID, &g.TargetEntityID, &g.Capability, &exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.CrossEntityGrant{}, shared.ErrNotFound
	}
	if exp != nil {
		g.ExpiresAt = *exp
	}
	return g, err
}

// RevokeGrant deletes a grant and returns it so callers can target the
// holder's cached state.
func (r *Repository) RevokeGrant(ctx context.Context, id int64) (authz.CrossEntityGrant, error) {
	var (
		g   authz.CrossEntityGrant
		exp *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		DELETE FROM cross_entity_grants
		WHERE id = $1
		RETURNING id, actor_id, source_entity_id, target_entity_id, capability, expires_at`,
		id,
	).Scan(&g.ID, &g.ActorID, &g.SourceEntityID, &g.TargetEntityID, &g.Capability, &exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.CrossEntityGrant{}, shared.ErrNotFound
	}
	if exp != nil {
		g.ExpiresAt = *exp
	}
	return g, err
}

// ExpireDue deletes grants whose expiry has passed and returns them for
// invalidation fan-out.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]authz.CrossEntityGrant, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM cross_entity_grants
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING id, actor_id, source_entity_id, target_entity_id, capability, expires_at`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows pgx.Rows) ([]authz.CrossEntityGrant, error) {
	var out []authz.CrossEntityGrant
	for rows.Next() {
		var (
			g   authz.CrossEntityGrant
			exp *time.Time
		)
		if err := rows.Scan(&g.ID, &g.ActorID, &g.SourceEntityID, &g.TargetEntityID, &g.Capability, &exp); err != nil {
			return nil, err
		}
		if exp != nil {
			g.ExpiresAt = *exp
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

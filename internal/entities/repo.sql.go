package entities

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the entity tree.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListEntities returns the full entity tree.
func (r *Repository) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, parent_id, created_at FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.ParentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// GetEntity fetches a single entity by ID.
func (r *Repository) GetEntity(ctx context.Context, id int64) (Entity, error) {
	var e Entity
	err := r.pool.QueryRow(ctx, `SELECT id, name, parent_id, created_at FROM entities WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &e.ParentID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, shared.ErrNotFound
		}
		return Entity{}, err
	}
	return e, nil
}

// CreateEntity inserts a new entity under the optional parent.
func (r *Repository) CreateEntity(ctx context.Context, name string, parentID *int64) (Entity, error) {
	var e Entity
	err := r.pool.QueryRow(ctx,
		`INSERT INTO entities (name, parent_id) VALUES ($1, $2) RETURNING id, name, parent_id, created_at`,
		name, parentID).
		Scan(&e.ID, &e.Name, &e.ParentID, &e.CreatedAt)
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwood-social/driftwood/internal/shared"
)

// Repository provides PostgreSQL backed user lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID resolves a user's live attributes.
func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, host, is_root, is_suspended, is_locked, is_bot, is_cat, is_explorable,
		       followers_count, following_count, notes_count
		FROM "user" WHERE id = $1`, id)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Host, &u.IsRoot, &u.IsSuspended, &u.IsLocked, &u.IsBot,
		&u.IsCat, &u.IsExplorable, &u.FollowersCount, &u.FollowingCount, &u.NotesCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindByIDs resolves multiple users at once.
func (r *Repository) FindByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, username, host, is_root, is_suspended, is_locked, is_bot, is_cat, is_explorable,
		       followers_count, following_count, notes_count
		FROM "user" WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Host, &u.IsRoot, &u.IsSuspended, &u.IsLocked,
			&u.IsBot, &u.IsCat, &u.IsExplorable, &u.FollowersCount, &u.FollowingCount, &u.NotesCount); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// Package modlog records moderation actions in an append-only audit table.
package modlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwood-social/driftwood/internal/id"
)

// Moderation action types.
const (
	TypeRoleCreated           = "createRole"
	TypeRoleUpdated           = "updateRole"
	TypeRoleDeleted           = "deleteRole"
	TypeRoleAssigned          = "assignRole"
	TypeRoleUnassigned        = "unassignRole"
	TypeInlinePoliciesUpdated = "updateUserInlinePolicies"
)

// Entry is one persisted moderation action.
type Entry struct {
	ID          string          `json:"id"`
	ModeratorID string          `json:"moderatorId"`
	Type        string          `json:"type"`
	Info        json.RawMessage `json:"info"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Service writes moderation log entries. Logging failures are reported but
// never propagated; an audit hiccup must not roll back the action itself.
type Service struct {
	pool   *pgxpool.Pool
	gen    *id.Generator
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(pool *pgxpool.Pool, gen *id.Generator, logger *slog.Logger) *Service {
	return &Service{pool: pool, gen: gen, logger: logger}
}

// Record appends one moderation action. moderatorID may be empty when the
// action was taken by the system itself.
func (s *Service) Record(ctx context.Context, moderatorID, actionType string, info any) {
	raw, err := json.Marshal(info)
	if err != nil {
		s.logger.Error("marshal moderation log info",
			slog.String("type", actionType), slog.Any("error", err))
		return
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO moderation_log (id, moderator_id, type, info, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		s.gen.New(), moderatorID, actionType, raw, time.Now())
	if err != nil {
		s.logger.Error("write moderation log",
			slog.String("type", actionType), slog.Any("error", err))
	}
}

// List returns the newest entries up to limit, for the admin audit view.
func (s *Service) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(moderator_id, ''), type, info, created_at
		FROM moderation_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ModeratorID, &e.Type, &e.Info, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

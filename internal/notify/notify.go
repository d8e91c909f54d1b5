// Package notify persists user notifications. The role engine raises one
// when a public role is granted; delivery to clients is out of scope here.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwood-social/driftwood/internal/id"
)

// TypeRoleAssigned marks a "you were granted a role" notification.
const TypeRoleAssigned = "roleAssigned"

// Service writes notification rows. Failures are reported but never
// propagated to the triggering action.
type Service struct {
	pool   *pgxpool.Pool
	gen    *id.Generator
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(pool *pgxpool.Pool, gen *id.Generator, logger *slog.Logger) *Service {
	return &Service{pool: pool, gen: gen, logger: logger}
}

// RoleAssigned notifies a user that they were granted the role.
func (s *Service) RoleAssigned(ctx context.Context, userID, roleID string) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification (id, notifiee_id, type, role_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.gen.New(), userID, TypeRoleAssigned, roleID, time.Now())
	if err != nil {
		s.logger.Error("write notification",
			slog.String("userId", userID), slog.String("roleId", roleID), slog.Any("error", err))
	}
}

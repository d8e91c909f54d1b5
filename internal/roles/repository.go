package roles

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwood-social/driftwood/internal/platform/db"
	"github.com/driftwood-social/driftwood/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for roles, role
// assignments and inline policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, description, color, icon_url, target, cond_formula, is_public,
	is_administrator, is_moderator, is_explorable, as_badge, badge_behavior, display_order,
	policies, created_at, updated_at, last_used_at`

func scanRole(row pgx.Row) (*Role, error) {
	var (
		r           Role
		condFormula []byte
		policies    []byte
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Color, &r.IconURL, &r.Target, &condFormula,
		&r.IsPublic, &r.IsAdministrator, &r.IsModerator, &r.IsExplorable, &r.AsBadge, &r.BadgeBehavior,
		&r.DisplayOrder, &policies, &r.CreatedAt, &r.UpdatedAt, &r.LastUsedAt)
	if err != nil {
		return nil, err
	}
	if len(condFormula) > 0 {
		if err := json.Unmarshal(condFormula, &r.CondFormula); err != nil {
			return nil, err
		}
	}
	r.Policies = PolicyMap{}
	if len(policies) > 0 {
		if err := json.Unmarshal(policies, &r.Policies); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// ListRoles returns every role.
func (r *Repository) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM role ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// FindRole fetches a role by ID.
func (r *Repository) FindRole(ctx context.Context, id string) (*Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM role WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return role, nil
}

// InsertRole persists a new role.
func (r *Repository) InsertRole(ctx context.Context, role *Role) error {
	condFormula, policies, err := marshalRoleJSON(role)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO role (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		role.ID, role.Name, role.Description, role.Color, role.IconURL, role.Target, condFormula,
		role.IsPublic, role.IsAdministrator, role.IsModerator, role.IsExplorable, role.AsBadge,
		role.BadgeBehavior, role.DisplayOrder, policies, role.CreatedAt, role.UpdatedAt, role.LastUsedAt)
	return err
}

// UpdateRole overwrites the mutable columns of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role *Role) error {
	condFormula, policies, err := marshalRoleJSON(role)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE role SET name = $2, description = $3, color = $4, icon_url = $5, target = $6,
			cond_formula = $7, is_public = $8, is_administrator = $9, is_moderator = $10,
			is_explorable = $11, as_badge = $12, badge_behavior = $13, display_order = $14,
			policies = $15, updated_at = $16, last_used_at = $17
		WHERE id = $1`,
		role.ID, role.Name, role.Description, role.Color, role.IconURL, role.Target, condFormula,
		role.IsPublic, role.IsAdministrator, role.IsModerator, role.IsExplorable, role.AsBadge,
		role.BadgeBehavior, role.DisplayOrder, policies, role.UpdatedAt, role.LastUsedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// BumpRoleLastUsed records that the role was just assigned or unassigned.
func (r *Repository) BumpRoleLastUsed(ctx context.Context, roleID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE role SET last_used_at = $2 WHERE id = $1`, roleID, at)
	return err
}

// DeleteRole removes a role by ID.
func (r *Repository) DeleteRole(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func marshalRoleJSON(role *Role) (condFormula, policies []byte, err error) {
	if role.CondFormula != nil {
		condFormula, err = json.Marshal(role.CondFormula)
		if err != nil {
			return nil, nil, err
		}
	}
	if role.Policies == nil {
		policies = []byte(`{}`)
	} else {
		policies, err = json.Marshal(role.Policies)
		if err != nil {
			return nil, nil, err
		}
	}
	return condFormula, policies, nil
}

const assignmentColumns = `id, user_id, role_id, expires_at, memo, created_at`

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.ExpiresAt, &a.Memo, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssignmentsByUser returns all assignment rows for a user, expired
// ones included; callers filter lapsed rows at read time.
func (r *Repository) ListAssignmentsByUser(ctx context.Context, userID string) ([]*Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignment WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAssignmentsByRoles returns live assignment rows for any of the roles.
func (r *Repository) ListAssignmentsByRoles(ctx context.Context, roleIDs []string) ([]*Assignment, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+` FROM role_assignment
		WHERE role_id = ANY($1) AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY id`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindAssignment returns the assignment row for (user, role) or nil.
func (r *Repository) FindAssignment(ctx context.Context, userID, roleID string) (*Assignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignment WHERE user_id = $1 AND role_id = $2`, userID, roleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// InsertAssignment persists a new assignment. The unique index on
// (user_id, role_id) makes the second of two racing assigns lose with
// ErrAlreadyAssigned instead of inserting a duplicate row.
func (r *Repository) InsertAssignment(ctx context.Context, a *Assignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_assignment (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.RoleID, a.ExpiresAt, a.Memo, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyAssigned
		}
		return err
	}
	return nil
}

// UpdateAssignment rewrites the expiry and memo of an existing assignment.
func (r *Repository) UpdateAssignment(ctx context.Context, id string, expiresAt *time.Time, memo string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE role_assignment SET expires_at = $2, memo = $3 WHERE id = $1`, id, expiresAt, memo)
	return err
}

// DeleteAssignment removes an assignment row by ID.
func (r *Repository) DeleteAssignment(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_assignment WHERE id = $1`, id)
	return err
}

// DeleteAssignmentByUserRole removes the (user, role) assignment row.
func (r *Repository) DeleteAssignmentByUserRole(ctx context.Context, userID, roleID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_assignment WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// DeleteExpiredAssignments sweeps lapsed rows and returns them so the
// caller can publish unassignment events.
func (r *Repository) DeleteExpiredAssignments(ctx context.Context, now time.Time) ([]*Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM role_assignment
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING `+assignmentColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListInlinePolicies returns a user's inline policy rows in insertion
// order. IDs sort by creation time, so later rows win on conflicting sets.
func (r *Repository) ListInlinePolicies(ctx context.Context, userID string) ([]*InlinePolicy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, policy, operation, value, memo, created_at
		FROM user_inline_policy WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*InlinePolicy
	for rows.Next() {
		var (
			p   InlinePolicy
			raw []byte
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Policy, &p.Operation, &raw, &p.Memo, &p.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Value); err != nil {
				return nil, err
			}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ReplaceInlinePolicies swaps a user's inline policy rows wholesale inside
// one transaction; rows are never partially updated.
func (r *Repository) ReplaceInlinePolicies(ctx context.Context, userID string, policies []*InlinePolicy) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_inline_policy WHERE user_id = $1`, userID); err != nil {
			return err
		}
		for _, p := range policies {
			raw, err := json.Marshal(p.Value)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_inline_policy (id, user_id, policy, operation, value, memo, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.ID, userID, p.Policy, p.Operation, raw, p.Memo, p.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

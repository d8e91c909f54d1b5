package roles

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/driftwood-social/driftwood/internal/bus"
	"github.com/driftwood-social/driftwood/internal/id"
	"github.com/driftwood-social/driftwood/internal/modlog"
	"github.com/driftwood-social/driftwood/internal/platform/memcache"
	"github.com/driftwood-social/driftwood/internal/shared"
	"github.com/driftwood-social/driftwood/internal/timeline"
	"github.com/driftwood-social/driftwood/internal/users"
)

// Store is the persistence surface the service needs. *Repository
// implements it; tests substitute an in-memory double.
type Store interface {
	ListRoles(ctx context.Context) ([]*Role, error)
	FindRole(ctx context.Context, id string) (*Role, error)
	InsertRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	BumpRoleLastUsed(ctx context.Context, roleID string, at time.Time) error
	DeleteRole(ctx context.Context, id string) error
	ListAssignmentsByUser(ctx context.Context, userID string) ([]*Assignment, error)
	ListAssignmentsByRoles(ctx context.Context, roleIDs []string) ([]*Assignment, error)
	FindAssignment(ctx context.Context, userID, roleID string) (*Assignment, error)
	InsertAssignment(ctx context.Context, a *Assignment) error
	UpdateAssignment(ctx context.Context, id string, expiresAt *time.Time, memo string) error
	DeleteAssignment(ctx context.Context, id string) error
	DeleteExpiredAssignments(ctx context.Context, now time.Time) ([]*Assignment, error)
	ListInlinePolicies(ctx context.Context, userID string) ([]*InlinePolicy, error)
	ReplaceInlinePolicies(ctx context.Context, userID string, policies []*InlinePolicy) error
}

// UserSource resolves live user attributes.
type UserSource interface {
	FindByID(ctx context.Context, id string) (*users.User, error)
}

// PolicySource supplies the instance-wide policy overrides.
type PolicySource interface {
	PolicyOverrides(ctx context.Context) (map[string]any, error)
}

// Publisher fans invalidation events out to the other processes.
type Publisher interface {
	Publish(ctx context.Context, eventType string, body any) error
}

// Notifier raises user notifications. Wired after construction because the
// notification pipeline itself consults role policies.
type Notifier interface {
	RoleAssigned(ctx context.Context, userID, roleID string)
}

// Audit records moderation actions.
type Audit interface {
	Record(ctx context.Context, moderatorID, actionType string, info any)
}

// Config carries the service's cache TTLs and timeline capacity.
type Config struct {
	RolesTTL        time.Duration
	AssignmentsTTL  time.Duration
	InlineTTL       time.Duration
	RoleTimelineMax int
}

// Service resolves role membership and effective policies, and owns every
// mutation of roles, assignments and inline policies. Mutations follow a
// fixed order: write the store, patch the local mirror, then publish the
// event so other processes patch theirs.
type Service struct {
	logger *slog.Logger
	store  Store
	users  UserSource
	meta   PolicySource
	pub    Publisher
	fanout *timeline.Fanout
	audit  Audit
	notify Notifier
	gen    *id.Generator

	rolesCache   *memcache.Single[[]*Role]
	assignsCache *memcache.KV[[]*Assignment]
	inlineCache  *memcache.KV[[]*InlinePolicy]

	roleTimelineMax int
}

// NewService constructs a Service. Call SetNotifier before serving traffic
// if role-grant notifications are wanted.
func NewService(logger *slog.Logger, store Store, userSource UserSource, metaSource PolicySource,
	pub Publisher, fanout *timeline.Fanout, audit Audit, gen *id.Generator, cfg Config) *Service {
	if cfg.RolesTTL <= 0 {
		cfg.RolesTTL = time.Hour
	}
	if cfg.AssignmentsTTL <= 0 {
		cfg.AssignmentsTTL = 5 * time.Minute
	}
	if cfg.InlineTTL <= 0 {
		cfg.InlineTTL = 5 * time.Minute
	}
	if cfg.RoleTimelineMax <= 0 {
		cfg.RoleTimelineMax = 1000
	}
	return &Service{
		logger:          logger,
		store:           store,
		users:           userSource,
		meta:            metaSource,
		pub:             pub,
		fanout:          fanout,
		audit:           audit,
		gen:             gen,
		rolesCache:      memcache.NewSingle[[]*Role](cfg.RolesTTL),
		assignsCache:    memcache.NewKV[[]*Assignment](cfg.AssignmentsTTL),
		inlineCache:     memcache.NewKV[[]*InlinePolicy](cfg.InlineTTL),
		roleTimelineMax: cfg.RoleTimelineMax,
	}
}

// SetNotifier wires the notification sink in after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.notify = n
}

// GetRoles returns every role, served from the process-local mirror.
func (s *Service) GetRoles(ctx context.Context) ([]*Role, error) {
	return s.rolesCache.Fetch(ctx, s.store.ListRoles)
}

// GetRole returns one role, preferring the local mirror.
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	all, err := s.GetRoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID == roleID {
			return r, nil
		}
	}
	return nil, shared.ErrNotFound
}

// GetUserAssigns returns the user's live manual assignments. The cache
// holds raw rows including lapsed ones; expiry is filtered at read time so
// a row lapsing mid-TTL stops counting immediately.
func (s *Service) GetUserAssigns(ctx context.Context, userID string) ([]*Assignment, error) {
	rows, err := s.assignsCache.Fetch(ctx, userID, func(ctx context.Context) ([]*Assignment, error) {
		return s.store.ListAssignmentsByUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	live := make([]*Assignment, 0, len(rows))
	for _, a := range rows {
		if !a.Expired(now) {
			live = append(live, a)
		}
	}
	return live, nil
}

// GetUserRoles returns the user's effective roles: manual assignments plus
// every conditional role whose formula matches. The user row is only
// fetched when conditional roles exist at all.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]*Role, error) {
	assigns, err := s.GetUserAssigns(ctx, userID)
	if err != nil {
		return nil, err
	}
	all, err := s.GetRoles(ctx)
	if err != nil {
		return nil, err
	}

	assignedIDs := make(map[string]struct{}, len(assigns))
	for _, a := range assigns {
		assignedIDs[a.RoleID] = struct{}{}
	}

	var manual, conditional []*Role
	for _, r := range all {
		if _, ok := assignedIDs[r.ID]; ok {
			manual = append(manual, r)
			continue
		}
		if r.Target == TargetConditional {
			conditional = append(conditional, r)
		}
	}
	if len(conditional) == 0 {
		return manual, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return manual, nil
		}
		return nil, err
	}
	out := manual
	for _, r := range conditional {
		if EvalCond(user, manual, r.CondFormula) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetUserBadgeRoles returns the user's badge-flagged roles, highest display
// order first. publicOnly restricts the set to publicly listed roles.
func (s *Service) GetUserBadgeRoles(ctx context.Context, userID string, publicOnly bool) ([]*BadgeRole, error) {
	effective, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*BadgeRole
	for _, r := range effective {
		if !r.AsBadge {
			continue
		}
		if publicOnly && !r.IsPublic {
			continue
		}
		out = append(out, &BadgeRole{
			Name:         r.Name,
			IconURL:      r.IconURL,
			DisplayOrder: r.DisplayOrder,
			Behavior:     r.BadgeBehavior,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder > out[j].DisplayOrder
	})
	return out, nil
}

// GetUserPolicies resolves the effective policy set for userID. An empty
// userID means an anonymous viewer and yields the instance base policies
// untouched.
func (s *Service) GetUserPolicies(ctx context.Context, userID string) (RolePolicies, error) {
	overrides, err := s.meta.PolicyOverrides(ctx)
	if err != nil {
		return RolePolicies{}, err
	}
	base := basePolicies(overrides)
	if userID == "" {
		return policiesFromMap(base), nil
	}

	effective, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return RolePolicies{}, err
	}
	inline, err := s.GetInlinePolicies(ctx, userID)
	if err != nil {
		return RolePolicies{}, err
	}
	return policiesFromMap(aggregatePolicies(base, effective, inline)), nil
}

// GetInlinePolicies returns the user's inline policy rows in insertion
// order, served from the process-local mirror.
func (s *Service) GetInlinePolicies(ctx context.Context, userID string) ([]*InlinePolicy, error) {
	return s.inlineCache.Fetch(ctx, userID, func(ctx context.Context) ([]*InlinePolicy, error) {
		return s.store.ListInlinePolicies(ctx, userID)
	})
}

// IsModerator reports whether the user holds moderator standing: the root
// account, or any effective role flagged moderator or administrator. An
// empty userID is never a moderator.
func (s *Service) IsModerator(ctx context.Context, userID string) (bool, error) {
	return s.hasStanding(ctx, userID, func(r *Role) bool {
		return r.IsModerator || r.IsAdministrator
	})
}

// IsAdministrator reports whether the user holds administrator standing.
func (s *Service) IsAdministrator(ctx context.Context, userID string) (bool, error) {
	return s.hasStanding(ctx, userID, func(r *Role) bool {
		return r.IsAdministrator
	})
}

func (s *Service) hasStanding(ctx context.Context, userID string, match func(*Role) bool) (bool, error) {
	if userID == "" {
		return false, nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.IsRoot {
		return true, nil
	}
	effective, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range effective {
		if match(r) {
			return true, nil
		}
	}
	return false, nil
}

// GetModeratorIDs returns the distinct IDs of users holding a moderator
// role, optionally including administrator roles, sorted ascending.
func (s *Service) GetModeratorIDs(ctx context.Context, includeAdmins bool) ([]string, error) {
	return s.standingIDs(ctx, func(r *Role) bool {
		return r.IsModerator || (includeAdmins && r.IsAdministrator)
	})
}

// GetAdministratorIDs returns the distinct IDs of users holding an
// administrator role, sorted ascending.
func (s *Service) GetAdministratorIDs(ctx context.Context) ([]string, error) {
	return s.standingIDs(ctx, func(r *Role) bool {
		return r.IsAdministrator
	})
}

func (s *Service) standingIDs(ctx context.Context, match func(*Role) bool) ([]string, error) {
	all, err := s.GetRoles(ctx)
	if err != nil {
		return nil, err
	}
	var roleIDs []string
	for _, r := range all {
		if match(r) {
			roleIDs = append(roleIDs, r.ID)
		}
	}
	assigns, err := s.store.ListAssignmentsByRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(assigns))
	var out []string
	for _, a := range assigns {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		out = append(out, a.UserID)
	}
	sort.Strings(out)
	return out, nil
}

// IsExplorable reports whether the role exists and is flagged explorable.
// Reads the store directly: explore surfaces want the current flag, not a
// mirror that may lag up to the roles TTL.
func (s *Service) IsExplorable(ctx context.Context, roleID string) (bool, error) {
	if roleID == "" {
		return false, nil
	}
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return role.IsExplorable, nil
}

// Create persists a new role and announces it. The caller supplies the
// role's fields; ID and timestamps are issued here.
func (s *Service) Create(ctx context.Context, role *Role, moderatorID string) (*Role, error) {
	now := time.Now()
	role.ID = s.gen.Gen(now)
	role.Name = norm.NFC.String(role.Name)
	role.CreatedAt = now
	role.UpdatedAt = now
	role.LastUsedAt = now
	if role.Policies == nil {
		role.Policies = PolicyMap{}
	}
	if err := s.store.InsertRole(ctx, role); err != nil {
		return nil, err
	}
	created, err := s.store.FindRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}

	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return appendRole(cached, created)
	})
	s.publish(ctx, bus.TypeRoleCreated, created)
	s.audit.Record(ctx, moderatorID, modlog.TypeRoleCreated, map[string]any{
		"roleId": created.ID,
		"role":   created,
	})
	return created, nil
}

// Update overwrites a role's mutable fields and announces the change.
func (s *Service) Update(ctx context.Context, role *Role, moderatorID string) (*Role, error) {
	before, err := s.store.FindRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Name = norm.NFC.String(role.Name)
	role.UpdatedAt = time.Now()
	role.LastUsedAt = before.LastUsedAt
	if role.Policies == nil {
		role.Policies = PolicyMap{}
	}
	if err := s.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	updated, err := s.store.FindRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}

	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return replaceRole(cached, updated)
	})
	s.publish(ctx, bus.TypeRoleUpdated, updated)
	s.audit.Record(ctx, moderatorID, modlog.TypeRoleUpdated, map[string]any{
		"roleId": updated.ID,
		"before": before,
		"after":  updated,
	})
	return updated, nil
}

// Delete removes a role and announces the removal. Assignment rows go with
// it via the store's foreign key.
func (s *Service) Delete(ctx context.Context, roleID, moderatorID string) error {
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}

	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return removeRole(cached, roleID)
	})
	s.publish(ctx, bus.TypeRoleDeleted, role)
	s.audit.Record(ctx, moderatorID, modlog.TypeRoleDeleted, map[string]any{
		"roleId": roleID,
		"role":   role,
	})
	return nil
}

// Assign grants a manual role to a user. Re-assigning a live assignment
// with a different expiry or memo rewrites the row in place without raising
// an event; with both unchanged it fails with ErrAlreadyAssigned. A lapsed
// row is swept and replaced.
func (s *Service) Assign(ctx context.Context, userID, roleID, memo string, expiresAt *time.Time, moderatorID string) error {
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	now := time.Now()

	existing, err := s.store.FindAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.Expired(now) {
			if timePtrEqual(existing.ExpiresAt, expiresAt) && existing.Memo == memo {
				return ErrAlreadyAssigned
			}
			if err := s.store.UpdateAssignment(ctx, existing.ID, expiresAt, memo); err != nil {
				return err
			}
			s.assignsCache.Delete(userID)
			return s.bumpLastUsed(ctx, roleID, now)
		}
		if err := s.store.DeleteAssignment(ctx, existing.ID); err != nil {
			return err
		}
		s.assignsCache.Mutate(userID, func(cached []*Assignment) []*Assignment {
			return removeAssignment(cached, existing.ID)
		})
	}

	assignment := &Assignment{
		ID:        s.gen.Gen(now),
		UserID:    userID,
		RoleID:    roleID,
		ExpiresAt: expiresAt,
		Memo:      memo,
		CreatedAt: now,
	}
	if err := s.store.InsertAssignment(ctx, assignment); err != nil {
		return err
	}
	if err := s.bumpLastUsed(ctx, roleID, now); err != nil {
		return err
	}

	s.assignsCache.Mutate(userID, func(cached []*Assignment) []*Assignment {
		return appendAssignment(cached, assignment)
	})
	s.publish(ctx, bus.TypeUserRoleAssigned, assignment)

	if role.IsPublic && s.notify != nil {
		s.notify.RoleAssigned(ctx, userID, roleID)
	}
	s.audit.Record(ctx, moderatorID, modlog.TypeRoleAssigned, map[string]any{
		"roleId":    roleID,
		"roleName":  role.Name,
		"userId":    userID,
		"expiresAt": expiresAt,
		"memo":      memo,
	})
	return nil
}

// Unassign revokes a manual role. A lapsed row is swept before reporting
// ErrNotAssigned, so retrying an expired revocation converges.
func (s *Service) Unassign(ctx context.Context, userID, roleID, moderatorID string) error {
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	now := time.Now()

	existing, err := s.store.FindAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotAssigned
	}
	if err := s.store.DeleteAssignment(ctx, existing.ID); err != nil {
		return err
	}
	if existing.Expired(now) {
		s.assignsCache.Delete(userID)
		return ErrNotAssigned
	}
	if err := s.bumpLastUsed(ctx, roleID, now); err != nil {
		return err
	}

	s.assignsCache.Mutate(userID, func(cached []*Assignment) []*Assignment {
		return removeAssignment(cached, existing.ID)
	})
	s.publish(ctx, bus.TypeUserRoleUnassigned, existing)
	s.audit.Record(ctx, moderatorID, modlog.TypeRoleUnassigned, map[string]any{
		"roleId":   roleID,
		"roleName": role.Name,
		"userId":   userID,
	})
	return nil
}

// InlinePolicyInput is one requested inline policy row.
type InlinePolicyInput struct {
	Policy    string          `json:"policy" validate:"required"`
	Operation InlineOperation `json:"operation" validate:"required"`
	Value     any             `json:"value"`
	Memo      string          `json:"memo"`
}

// UpdateInlinePolicies replaces a user's inline policy rows wholesale.
// Validation rejects the whole request before any row is written.
func (s *Service) UpdateInlinePolicies(ctx context.Context, userID string, inputs []InlinePolicyInput, moderatorID string) error {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrNoSuchUser
		}
		return err
	}
	for _, in := range inputs {
		if err := validateInlinePolicy(in); err != nil {
			return err
		}
	}

	before, err := s.store.ListInlinePolicies(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	rows := make([]*InlinePolicy, len(inputs))
	for i, in := range inputs {
		rows[i] = &InlinePolicy{
			ID:        s.gen.Gen(now),
			UserID:    userID,
			Policy:    in.Policy,
			Operation: in.Operation,
			Value:     in.Value,
			Memo:      in.Memo,
			CreatedAt: now,
		}
	}
	if err := s.store.ReplaceInlinePolicies(ctx, userID, rows); err != nil {
		return err
	}

	s.inlineCache.Delete(userID)
	s.publish(ctx, bus.TypeUserInlinePoliciesUpdated, map[string]string{"userId": userID})
	s.audit.Record(ctx, moderatorID, modlog.TypeInlinePoliciesUpdated, map[string]any{
		"userId": userID,
		"before": before,
		"after":  rows,
	})
	return nil
}

func validateInlinePolicy(in InlinePolicyInput) error {
	if !IsKnownPolicy(in.Policy) {
		return ErrInvalidPolicy
	}
	switch in.Operation {
	case OperationSet:
		if IsBooleanPolicy(in.Policy) {
			if _, ok := in.Value.(bool); !ok {
				return ErrInvalidValue
			}
			return nil
		}
		if _, ok := toNumber(in.Value); !ok {
			return ErrInvalidValue
		}
		return nil
	case OperationIncrement:
		if IsBooleanPolicy(in.Policy) {
			return ErrInvalidOperation
		}
		if _, ok := toNumber(in.Value); !ok {
			return ErrInvalidValue
		}
		return nil
	default:
		return ErrInvalidOperation
	}
}

// SweepExpiredAssignments deletes every lapsed assignment row and raises
// an unassignment event per row, so all processes drop the stale entries
// from their mirrors. Returns the number of rows swept.
func (s *Service) SweepExpiredAssignments(ctx context.Context) (int, error) {
	swept, err := s.store.DeleteExpiredAssignments(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, a := range swept {
		stale := a
		s.assignsCache.Mutate(stale.UserID, func(cached []*Assignment) []*Assignment {
			return removeAssignment(cached, stale.ID)
		})
		s.publish(ctx, bus.TypeUserRoleUnassigned, stale)
	}
	return len(swept), nil
}

// AddNoteToRoleTimeline pushes a note into the timeline bucket of every
// role its author currently holds. Fanout failures are logged, never
// propagated; note creation must not fail on a timeline hiccup.
func (s *Service) AddNoteToRoleTimeline(ctx context.Context, note *timeline.Note) {
	if note == nil || s.fanout == nil {
		return
	}
	effective, err := s.GetUserRoles(ctx, note.UserID)
	if err != nil {
		s.logger.Error("resolve roles for role timeline",
			slog.String("noteId", note.ID), slog.Any("error", err))
		return
	}
	if len(effective) == 0 {
		return
	}
	pipe := s.fanout.Pipeline()
	for _, r := range effective {
		_ = s.fanout.Push(ctx, timeline.RoleTimeline(r.ID), note.ID, s.roleTimelineMax, pipe)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("push note to role timelines",
			slog.String("noteId", note.ID), slog.Any("error", err))
	}
}

// HandleEvent applies one invalidation-bus message to the local mirrors.
func (s *Service) HandleEvent(msg bus.Message) {
	ev, err := decodeEvent(msg)
	if err != nil {
		s.logger.Warn("undecodable event", slog.String("type", msg.Type), slog.Any("error", err))
		return
	}
	if ev == nil {
		return
	}
	ev.apply(s)
}

func (s *Service) bumpLastUsed(ctx context.Context, roleID string, at time.Time) error {
	if err := s.store.BumpRoleLastUsed(ctx, roleID, at); err != nil {
		return err
	}
	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return withRoleLastUsed(cached, roleID, at)
	})
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, body any) {
	if err := s.pub.Publish(ctx, eventType, body); err != nil {
		s.logger.Error("publish event", slog.String("type", eventType), slog.Any("error", err))
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

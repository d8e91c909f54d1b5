package roles

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwood-social/driftwood/internal/bus"
	"github.com/driftwood-social/driftwood/internal/id"
	"github.com/driftwood-social/driftwood/internal/shared"
	"github.com/driftwood-social/driftwood/internal/timeline"
	"github.com/driftwood-social/driftwood/internal/users"
)

type mockStore struct {
	roles   []*Role
	assigns []*Assignment
	inline  map[string][]*InlinePolicy
}

func (m *mockStore) ListRoles(ctx context.Context) ([]*Role, error) {
	out := make([]*Role, len(m.roles))
	copy(out, m.roles)
	return out, nil
}

func (m *mockStore) FindRole(ctx context.Context, roleID string) (*Role, error) {
	for _, r := range m.roles {
		if r.ID == roleID {
			return r, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockStore) InsertRole(ctx context.Context, role *Role) error {
	m.roles = append(m.roles, role)
	return nil
}

func (m *mockStore) UpdateRole(ctx context.Context, role *Role) error {
	for i, r := range m.roles {
		if r.ID == role.ID {
			m.roles[i] = role
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *mockStore) BumpRoleLastUsed(ctx context.Context, roleID string, at time.Time) error {
	for i, r := range m.roles {
		if r.ID == roleID {
			patched := *r
			patched.LastUsedAt = at
			m.roles[i] = &patched
		}
	}
	return nil
}

func (m *mockStore) DeleteRole(ctx context.Context, roleID string) error {
	kept := m.roles[:0]
	for _, r := range m.roles {
		if r.ID != roleID {
			kept = append(kept, r)
		}
	}
	m.roles = kept

	keptAssigns := m.assigns[:0]
	for _, a := range m.assigns {
		if a.RoleID != roleID {
			keptAssigns = append(keptAssigns, a)
		}
	}
	m.assigns = keptAssigns
	return nil
}

func (m *mockStore) ListAssignmentsByUser(ctx context.Context, userID string) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range m.assigns {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) ListAssignmentsByRoles(ctx context.Context, roleIDs []string) ([]*Assignment, error) {
	wanted := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	var out []*Assignment
	for _, a := range m.assigns {
		if _, ok := wanted[a.RoleID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) FindAssignment(ctx context.Context, userID, roleID string) (*Assignment, error) {
	for _, a := range m.assigns {
		if a.UserID == userID && a.RoleID == roleID {
			return a, nil
		}
	}
	return nil, nil
}

func (m *mockStore) InsertAssignment(ctx context.Context, a *Assignment) error {
	for _, existing := range m.assigns {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			return ErrAlreadyAssigned
		}
	}
	m.assigns = append(m.assigns, a)
	return nil
}

func (m *mockStore) UpdateAssignment(ctx context.Context, id string, expiresAt *time.Time, memo string) error {
	for i, a := range m.assigns {
		if a.ID == id {
			patched := *a
			patched.ExpiresAt = expiresAt
			patched.Memo = memo
			m.assigns[i] = &patched
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *mockStore) DeleteAssignment(ctx context.Context, id string) error {
	kept := m.assigns[:0]
	for _, a := range m.assigns {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	m.assigns = kept
	return nil
}

func (m *mockStore) DeleteExpiredAssignments(ctx context.Context, now time.Time) ([]*Assignment, error) {
	var swept []*Assignment
	kept := m.assigns[:0]
	for _, a := range m.assigns {
		if a.Expired(now) {
			swept = append(swept, a)
		} else {
			kept = append(kept, a)
		}
	}
	m.assigns = kept
	return swept, nil
}

func (m *mockStore) ListInlinePolicies(ctx context.Context, userID string) ([]*InlinePolicy, error) {
	return m.inline[userID], nil
}

func (m *mockStore) ReplaceInlinePolicies(ctx context.Context, userID string, policies []*InlinePolicy) error {
	if m.inline == nil {
		m.inline = make(map[string][]*InlinePolicy)
	}
	m.inline[userID] = policies
	return nil
}

type mockUserSource struct {
	users map[string]*users.User
	calls int
}

func (m *mockUserSource) FindByID(ctx context.Context, id string) (*users.User, error) {
	m.calls++
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

type mockPolicySource struct {
	overrides map[string]any
}

func (m *mockPolicySource) PolicyOverrides(ctx context.Context) (map[string]any, error) {
	return m.overrides, nil
}

type publishedEvent struct {
	Type string
	Body any
}

type mockPublisher struct {
	events []publishedEvent
}

func (m *mockPublisher) Publish(ctx context.Context, eventType string, body any) error {
	m.events = append(m.events, publishedEvent{Type: eventType, Body: body})
	return nil
}

type mockNotifier struct {
	granted []string
}

func (m *mockNotifier) RoleAssigned(ctx context.Context, userID, roleID string) {
	m.granted = append(m.granted, userID+"/"+roleID)
}

type auditEntry struct {
	ModeratorID string
	Type        string
}

type mockAudit struct {
	entries []auditEntry
}

func (m *mockAudit) Record(ctx context.Context, moderatorID, actionType string, info any) {
	m.entries = append(m.entries, auditEntry{ModeratorID: moderatorID, Type: actionType})
}

type testRig struct {
	svc    *Service
	store  *mockStore
	users  *mockUserSource
	pub    *mockPublisher
	audit  *mockAudit
	notify *mockNotifier
}

func newTestRig(t *testing.T, fanout *timeline.Fanout) *testRig {
	t.Helper()
	store := &mockStore{inline: make(map[string][]*InlinePolicy)}
	userSource := &mockUserSource{users: make(map[string]*users.User)}
	pub := &mockPublisher{}
	audit := &mockAudit{}
	notify := &mockNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(logger, store, userSource, &mockPolicySource{}, pub, fanout, audit, id.NewGenerator(), Config{})
	svc.SetNotifier(notify)
	return &testRig{svc: svc, store: store, users: userSource, pub: pub, audit: audit, notify: notify}
}

func (r *testRig) addUser(u *users.User) { r.users.users[u.ID] = u }

func (r *testRig) eventTypes() []string {
	out := make([]string, len(r.pub.events))
	for i, e := range r.pub.events {
		out[i] = e.Type
	}
	return out
}

func roleIDs(roles []*Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.ID
	}
	return out
}

func TestGetUserRolesManualAndConditional(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.addUser(&users.User{ID: "u1"})
	rig.store.roles = []*Role{
		{ID: "manual", Target: TargetManual},
		{ID: "locals", Target: TargetConditional, CondFormula: &CondFormula{Type: CondIsLocal}},
		{ID: "remotes", Target: TargetConditional, CondFormula: &CondFormula{Type: CondIsRemote}},
	}
	rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "manual"}}

	effective, err := rig.svc.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"manual", "locals"}, roleIDs(effective))
}

func TestGetUserRolesSkipsUserLookupWithoutConditionals(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.store.roles = []*Role{{ID: "manual", Target: TargetManual}}
	rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "manual"}}

	effective, err := rig.svc.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"manual"}, roleIDs(effective))
	assert.Zero(t, rig.users.calls, "no conditional roles, no user fetch")
}

func TestGetUserRolesUnknownUserKeepsManual(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.store.roles = []*Role{
		{ID: "manual", Target: TargetManual},
		{ID: "locals", Target: TargetConditional, CondFormula: &CondFormula{Type: CondIsLocal}},
	}
	rig.store.assigns = []*Assignment{{ID: "a1", UserID: "ghost", RoleID: "manual"}}

	effective, err := rig.svc.GetUserRoles(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"manual"}, roleIDs(effective))
}

func TestGetUserAssignsFiltersExpired(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	rig.store.assigns = []*Assignment{
		{ID: "a1", UserID: "u1", RoleID: "r1", ExpiresAt: &past},
		{ID: "a2", UserID: "u1", RoleID: "r2", ExpiresAt: &future},
		{ID: "a3", UserID: "u1", RoleID: "r3"},
	}

	live, err := rig.svc.GetUserAssigns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "a2", live[0].ID)
	assert.Equal(t, "a3", live[1].ID)
}

func TestGetUserBadgeRoles(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.store.roles = []*Role{
		{ID: "r1", Name: "Silver", Target: TargetManual, AsBadge: true, IsPublic: true, DisplayOrder: 1},
		{ID: "r2", Name: "Gold", Target: TargetManual, AsBadge: true, IsPublic: true, DisplayOrder: 5},
		{ID: "r3", Name: "Hidden", Target: TargetManual, AsBadge: true, IsPublic: false, DisplayOrder: 9},
		{ID: "r4", Name: "NoBadge", Target: TargetManual},
	}
	for i, roleID := range []string{"r1", "r2", "r3", "r4"} {
		rig.store.assigns = append(rig.store.assigns, &Assignment{
			ID: string(rune('a' + i)), UserID: "u1", RoleID: roleID,
		})
	}

	badges, err := rig.svc.GetUserBadgeRoles(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, badges, 2)
	assert.Equal(t, "Gold", badges[0].Name, "highest display order first")
	assert.Equal(t, "Silver", badges[1].Name)

	badges, err = rig.svc.GetUserBadgeRoles(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, badges, 3)
}

func TestGetUserPoliciesAnonymous(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)

	p, err := rig.svc.GetUserPolicies(ctx, "")
	require.NoError(t, err)
	assert.True(t, p.GTLAvailable)
	assert.Equal(t, 100, p.DriveCapacityMB)
	assert.Zero(t, rig.users.calls)
}

func TestGetUserPoliciesCombinesLayers(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.addUser(&users.User{ID: "u1"})
	rig.store.roles = []*Role{
		{ID: "r1", Target: TargetManual, Policies: PolicyMap{
			"driveCapacityMb": {Priority: 0, Value: float64(500)},
			"canInvite":       {Priority: 0, Value: true},
		}},
	}
	rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1"}}
	rig.store.inline["u1"] = []*InlinePolicy{
		{Policy: "driveCapacityMb", Operation: OperationIncrement, Value: float64(100)},
	}

	p, err := rig.svc.GetUserPolicies(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 600, p.DriveCapacityMB)
	assert.True(t, p.CanInvite)
}

func TestStanding(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.addUser(&users.User{ID: "root", IsRoot: true})
	rig.addUser(&users.User{ID: "mod"})
	rig.addUser(&users.User{ID: "pleb"})
	rig.store.roles = []*Role{{ID: "r-mod", Target: TargetManual, IsModerator: true}}
	rig.store.assigns = []*Assignment{{ID: "a1", UserID: "mod", RoleID: "r-mod"}}

	for name, tc := range map[string]struct {
		userID    string
		moderator bool
		admin     bool
	}{
		"root":    {"root", true, true},
		"mod":     {"mod", true, false},
		"pleb":    {"pleb", false, false},
		"unknown": {"ghost", false, false},
		"empty":   {"", false, false},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := rig.svc.IsModerator(ctx, tc.userID)
			require.NoError(t, err)
			assert.Equal(t, tc.moderator, got)

			got, err = rig.svc.IsAdministrator(ctx, tc.userID)
			require.NoError(t, err)
			assert.Equal(t, tc.admin, got)
		})
	}
}

func TestGetModeratorIDs(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.store.roles = []*Role{
		{ID: "r-mod", Target: TargetManual, IsModerator: true},
		{ID: "r-admin", Target: TargetManual, IsAdministrator: true},
	}
	rig.store.assigns = []*Assignment{
		{ID: "a1", UserID: "zoe", RoleID: "r-mod"},
		{ID: "a2", UserID: "amy", RoleID: "r-mod"},
		{ID: "a3", UserID: "zoe", RoleID: "r-admin"},
		{ID: "a4", UserID: "boss", RoleID: "r-admin"},
	}

	ids, err := rig.svc.GetModeratorIDs(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "boss", "zoe"}, ids, "distinct, sorted")

	ids, err = rig.svc.GetModeratorIDs(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zoe"}, ids)

	ids, err = rig.svc.GetAdministratorIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"boss", "zoe"}, ids)
}

func TestCreateRole(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)

	created, err := rig.svc.Create(ctx, &Role{Name: "Café", Target: TargetManual}, "mod1")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Café", created.Name, "name stored in NFC")
	assert.NotNil(t, created.Policies)

	assert.Equal(t, []string{bus.TypeRoleCreated}, rig.eventTypes())
	require.Len(t, rig.audit.entries, 1)
	assert.Equal(t, "mod1", rig.audit.entries[0].ModeratorID)

	all, err := rig.svc.GetRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, roleIDs(all))
}

func TestUpdateRolePreservesLastUsedAt(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	lastUsed := time.Now().Add(-time.Hour)
	rig.store.roles = []*Role{{ID: "r1", Name: "Old", Target: TargetManual, LastUsedAt: lastUsed}}

	updated, err := rig.svc.Update(ctx, &Role{ID: "r1", Name: "New", Target: TargetManual}, "mod1")
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Name)
	assert.Equal(t, lastUsed, updated.LastUsedAt)
	assert.Equal(t, []string{bus.TypeRoleUpdated}, rig.eventTypes())
}

func TestDeleteRole(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}

	require.NoError(t, rig.svc.Delete(ctx, "r1", "mod1"))
	assert.Equal(t, []string{bus.TypeRoleDeleted}, rig.eventTypes())

	all, err := rig.svc.GetRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	err = rig.svc.Delete(ctx, "r1", "mod1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAssign(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh assignment", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Name: "Member", Target: TargetManual, IsPublic: true}}

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "", nil, "mod1"))
		require.Len(t, rig.store.assigns, 1)
		assert.Equal(t, []string{bus.TypeUserRoleAssigned}, rig.eventTypes())
		assert.Equal(t, []string{"u1/r1"}, rig.notify.granted)
		assert.False(t, rig.store.roles[0].LastUsedAt.IsZero())
	})

	t.Run("non-public role does not notify", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "", nil, "mod1"))
		assert.Empty(t, rig.notify.granted)
	})

	t.Run("same expiry conflicts", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1"}}

		err := rig.svc.Assign(ctx, "u1", "r1", "", nil, "mod1")
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
		assert.Empty(t, rig.pub.events)
	})

	t.Run("new expiry rewrites in place", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1"}}
		future := time.Now().Add(time.Hour)

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "", &future, "mod1"))
		require.Len(t, rig.store.assigns, 1)
		assert.Equal(t, "a1", rig.store.assigns[0].ID, "row kept, not replaced")
		require.NotNil(t, rig.store.assigns[0].ExpiresAt)
		assert.True(t, rig.store.assigns[0].ExpiresAt.Equal(future))
		assert.Empty(t, rig.pub.events, "expiry rewrite raises no event")
	})

	t.Run("lapsed row is swept and replaced", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		past := time.Now().Add(-time.Minute)
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1", ExpiresAt: &past}}

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "", nil, "mod1"))
		require.Len(t, rig.store.assigns, 1)
		assert.NotEqual(t, "a1", rig.store.assigns[0].ID)
		assert.Nil(t, rig.store.assigns[0].ExpiresAt)
		assert.Equal(t, []string{bus.TypeUserRoleAssigned}, rig.eventTypes())
	})

	t.Run("unknown role", func(t *testing.T) {
		rig := newTestRig(t, nil)
		err := rig.svc.Assign(ctx, "u1", "nope", "", nil, "mod1")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestUnassign(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes a live assignment", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1"}}

		require.NoError(t, rig.svc.Unassign(ctx, "u1", "r1", "mod1"))
		assert.Empty(t, rig.store.assigns)
		assert.Equal(t, []string{bus.TypeUserRoleUnassigned}, rig.eventTypes())
	})

	t.Run("not assigned", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}

		err := rig.svc.Unassign(ctx, "u1", "r1", "mod1")
		assert.ErrorIs(t, err, ErrNotAssigned)
	})

	t.Run("lapsed row is swept but still reports not assigned", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		past := time.Now().Add(-time.Minute)
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1", ExpiresAt: &past}}

		err := rig.svc.Unassign(ctx, "u1", "r1", "mod1")
		assert.ErrorIs(t, err, ErrNotAssigned)
		assert.Empty(t, rig.store.assigns)
		assert.Empty(t, rig.pub.events)
	})
}

func TestUpdateInlinePolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces rows wholesale", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.addUser(&users.User{ID: "u1"})
		rig.store.inline["u1"] = []*InlinePolicy{{ID: "old", UserID: "u1", Policy: "pinLimit", Operation: OperationSet, Value: float64(1)}}

		inputs := []InlinePolicyInput{
			{Policy: "driveCapacityMb", Operation: OperationSet, Value: float64(500)},
			{Policy: "canInvite", Operation: OperationSet, Value: true},
		}
		require.NoError(t, rig.svc.UpdateInlinePolicies(ctx, "u1", inputs, "mod1"))

		rows := rig.store.inline["u1"]
		require.Len(t, rows, 2)
		assert.Equal(t, "driveCapacityMb", rows[0].Policy)
		assert.Equal(t, "canInvite", rows[1].Policy)
		assert.Equal(t, []string{bus.TypeUserInlinePoliciesUpdated}, rig.eventTypes())
		require.Len(t, rig.audit.entries, 1)
	})

	t.Run("validation", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.addUser(&users.User{ID: "u1"})

		err := rig.svc.UpdateInlinePolicies(ctx, "ghost", nil, "mod1")
		assert.ErrorIs(t, err, ErrNoSuchUser)

		for name, tc := range map[string]struct {
			input InlinePolicyInput
			want  error
		}{
			"unknown policy":       {InlinePolicyInput{Policy: "notAPolicy", Operation: OperationSet, Value: true}, ErrInvalidPolicy},
			"unknown operation":    {InlinePolicyInput{Policy: "pinLimit", Operation: "multiply", Value: float64(2)}, ErrInvalidOperation},
			"increment boolean":    {InlinePolicyInput{Policy: "canInvite", Operation: OperationIncrement, Value: float64(1)}, ErrInvalidOperation},
			"boolean wants bool":   {InlinePolicyInput{Policy: "canInvite", Operation: OperationSet, Value: float64(1)}, ErrInvalidValue},
			"numeric wants number": {InlinePolicyInput{Policy: "pinLimit", Operation: OperationSet, Value: "ten"}, ErrInvalidValue},
			"increment non-number": {InlinePolicyInput{Policy: "pinLimit", Operation: OperationIncrement, Value: "ten"}, ErrInvalidValue},
		} {
			t.Run(name, func(t *testing.T) {
				err := rig.svc.UpdateInlinePolicies(ctx, "u1", []InlinePolicyInput{tc.input}, "mod1")
				assert.ErrorIs(t, err, tc.want)
			})
		}
		assert.Empty(t, rig.store.inline["u1"], "nothing written on validation failure")
		assert.Empty(t, rig.pub.events)
	})
}

func TestSweepExpiredAssignments(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	past := time.Now().Add(-time.Minute)
	rig.store.assigns = []*Assignment{
		{ID: "a1", UserID: "u1", RoleID: "r1", ExpiresAt: &past},
		{ID: "a2", UserID: "u2", RoleID: "r1", ExpiresAt: &past},
		{ID: "a3", UserID: "u3", RoleID: "r1"},
	}

	count, err := rig.svc.SweepExpiredAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, rig.store.assigns, 1)
	assert.Equal(t, "a3", rig.store.assigns[0].ID)
	assert.Equal(t, []string{bus.TypeUserRoleUnassigned, bus.TypeUserRoleUnassigned}, rig.eventTypes())
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, nil)
	rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}

	// Populate the mirror, then feed a remote creation event.
	_, err := rig.svc.GetRoles(ctx)
	require.NoError(t, err)

	body, err := json.Marshal(&Role{ID: "r2", Target: TargetManual})
	require.NoError(t, err)
	rig.svc.HandleEvent(bus.Message{Type: bus.TypeRoleCreated, Body: body})

	all, err := rig.svc.GetRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, roleIDs(all), "mirror patched without a store read")

	// Unknown and malformed messages are ignored.
	rig.svc.HandleEvent(bus.Message{Type: "somethingElse", Body: body})
	rig.svc.HandleEvent(bus.Message{Type: bus.TypeRoleUpdated, Body: json.RawMessage("{{")})

	all, err = rig.svc.GetRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAddNoteToRoleTimeline(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	fanout := timeline.NewFanout(client)

	rig := newTestRig(t, fanout)
	rig.store.roles = []*Role{
		{ID: "r1", Target: TargetManual},
		{ID: "r2", Target: TargetManual},
	}
	rig.store.assigns = []*Assignment{
		{ID: "a1", UserID: "author", RoleID: "r1"},
		{ID: "a2", UserID: "author", RoleID: "r2"},
	}

	rig.svc.AddNoteToRoleTimeline(ctx, &timeline.Note{ID: "n1", UserID: "author"})

	for _, roleID := range []string{"r1", "r2"} {
		ids, err := fanout.Range(ctx, timeline.RoleTimeline(roleID), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"n1"}, ids)
	}

	// A note from a roleless author writes nothing.
	rig.svc.AddNoteToRoleTimeline(ctx, &timeline.Note{ID: "n2", UserID: "nobody"})
	ids, err := fanout.Range(ctx, timeline.RoleTimeline("r1"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, ids)
}

func TestAssignMemo(t *testing.T) {
	ctx := context.Background()

	t.Run("stored on insert", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "trial member", nil, "mod1"))
		require.Len(t, rig.store.assigns, 1)
		assert.Equal(t, "trial member", rig.store.assigns[0].Memo)
	})

	t.Run("unchanged memo and expiry conflict", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1", Memo: "trial member"}}

		err := rig.svc.Assign(ctx, "u1", "r1", "trial member", nil, "mod1")
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
	})

	t.Run("new memo rewrites in place", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}}
		rig.store.assigns = []*Assignment{{ID: "a1", UserID: "u1", RoleID: "r1", Memo: "trial member"}}

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "full member", nil, "mod1"))
		require.Len(t, rig.store.assigns, 1)
		assert.Equal(t, "a1", rig.store.assigns[0].ID, "row kept, not replaced")
		assert.Equal(t, "full member", rig.store.assigns[0].Memo)
		assert.Empty(t, rig.pub.events, "memo rewrite raises no event")
	})
}

func TestMirrorMutationsLeaveSnapshotsIntact(t *testing.T) {
	ctx := context.Background()

	t.Run("role list survives a deletion event", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{
			{ID: "r1", Target: TargetManual},
			{ID: "r2", Target: TargetManual},
			{ID: "r3", Target: TargetManual},
		}

		snapshot, err := rig.svc.GetRoles(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"r1", "r2", "r3"}, roleIDs(snapshot))

		body, err := json.Marshal(&Role{ID: "r1"})
		require.NoError(t, err)
		rig.svc.HandleEvent(bus.Message{Type: bus.TypeRoleDeleted, Body: body})

		assert.Equal(t, []string{"r1", "r2", "r3"}, roleIDs(snapshot),
			"list handed out earlier must not change")

		all, err := rig.svc.GetRoles(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"r2", "r3"}, roleIDs(all))
	})

	t.Run("role struct survives a lastUsedAt bump", func(t *testing.T) {
		rig := newTestRig(t, nil)
		lastUsed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual, LastUsedAt: lastUsed}}

		snapshot, err := rig.svc.GetRoles(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot, 1)

		require.NoError(t, rig.svc.Assign(ctx, "u1", "r1", "", nil, "mod1"))

		assert.Equal(t, lastUsed, snapshot[0].LastUsedAt,
			"role handed out earlier must not change")

		all, err := rig.svc.GetRoles(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].LastUsedAt.After(lastUsed))
	})

	t.Run("assignment list survives an unassign", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.store.roles = []*Role{{ID: "r1", Target: TargetManual}, {ID: "r2", Target: TargetManual}}
		rig.store.assigns = []*Assignment{
			{ID: "a1", UserID: "u1", RoleID: "r1"},
			{ID: "a2", UserID: "u1", RoleID: "r2"},
		}

		snapshot, err := rig.svc.GetUserAssigns(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, snapshot, 2)

		require.NoError(t, rig.svc.Unassign(ctx, "u1", "r1", "mod1"))

		assert.Equal(t, "a1", snapshot[0].ID, "list handed out earlier must not change")
		assert.Equal(t, "a2", snapshot[1].ID)

		live, err := rig.svc.GetUserAssigns(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, "a2", live[0].ID)
	})
}

package roles

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driftwood-social/driftwood/internal/id"
	"github.com/driftwood-social/driftwood/internal/users"
)

func condUser(t *testing.T, createdAgo time.Duration, now time.Time) *users.User {
	t.Helper()
	gen := id.NewGenerator()
	return &users.User{
		ID:             gen.Gen(now.Add(-createdAgo)),
		Username:       "alice",
		FollowersCount: 100,
		FollowingCount: 50,
		NotesCount:     1000,
	}
}

func num(v string) json.RawMessage { return json.RawMessage(v) }

func TestEvalCondLeaves(t *testing.T) {
	now := time.Now()
	user := condUser(t, time.Hour, now)

	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondIsLocal}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondIsRemote}, now))

	remote := *user
	remote.Host = "example.com"
	assert.True(t, evalCond(&remote, nil, &CondFormula{Type: CondIsRemote}, now))

	user.IsBot = true
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondIsBot}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondIsCat}, now))
}

func TestEvalCondCounts(t *testing.T) {
	now := time.Now()
	user := condUser(t, time.Hour, now)

	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondFollowersLessThanEq, Value: num("100")}, now))
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondFollowersMoreThanEq, Value: num("100")}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondFollowersMoreThanEq, Value: num("101")}, now))
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondFollowingLessThanEq, Value: num("50")}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondNotesLessThanEq, Value: num("999")}, now))
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondNotesMoreThanEq, Value: num("1000")}, now))

	// A missing threshold fails closed.
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondFollowersLessThanEq}, now))
}

func TestEvalCondAccountAge(t *testing.T) {
	now := time.Now()
	user := condUser(t, 10*time.Minute, now)

	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondCreatedLessThan, Sec: 3600}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondCreatedMoreThan, Sec: 3600}, now))
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondCreatedMoreThan, Sec: 60}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondCreatedLessThan, Sec: 60}, now))

	// An unparseable ID fails closed on age checks.
	bad := *user
	bad.ID = "???"
	assert.False(t, evalCond(&bad, nil, &CondFormula{Type: CondCreatedLessThan, Sec: 3600}, now))
}

func TestEvalCondRoleAssignedTo(t *testing.T) {
	now := time.Now()
	user := condUser(t, time.Hour, now)
	assigned := []*Role{{ID: "r1"}, {ID: "r2"}}

	assert.True(t, evalCond(user, assigned, &CondFormula{Type: CondRoleAssignedTo, RoleID: "r2"}, now))
	assert.False(t, evalCond(user, assigned, &CondFormula{Type: CondRoleAssignedTo, RoleID: "r3"}, now))
}

func TestEvalCondCombinators(t *testing.T) {
	now := time.Now()
	user := condUser(t, time.Hour, now)
	yes := CondFormula{Type: CondIsLocal}
	no := CondFormula{Type: CondIsRemote}

	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondAnd, Values: []CondFormula{yes, yes}}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondAnd, Values: []CondFormula{yes, no}}, now))
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondOr, Values: []CondFormula{no, yes}}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondOr, Values: []CondFormula{no, no}}, now))

	// Vacuous semantics: empty and is true, empty or is false.
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondAnd}, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondOr}, now))
}

func TestEvalCondNot(t *testing.T) {
	now := time.Now()
	user := condUser(t, time.Hour, now)

	inner, err := json.Marshal(CondFormula{Type: CondIsRemote})
	assert.NoError(t, err)
	assert.True(t, evalCond(user, nil, &CondFormula{Type: CondNot, Value: inner}, now))

	inner, err = json.Marshal(CondFormula{Type: CondIsLocal})
	assert.NoError(t, err)
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondNot, Value: inner}, now))

	// A malformed nested formula fails closed.
	assert.False(t, evalCond(user, nil, &CondFormula{Type: CondNot, Value: num("{{")}, now))
}

func TestEvalCondFailClosed(t *testing.T) {
	now := time.Now()
	user := condUser(t, time.Hour, now)

	assert.False(t, evalCond(nil, nil, &CondFormula{Type: CondIsLocal}, now))
	assert.False(t, evalCond(user, nil, nil, now))
	assert.False(t, evalCond(user, nil, &CondFormula{Type: "somethingElse"}, now))
}

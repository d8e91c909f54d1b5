package roles

import (
	"encoding/json"
	"time"

	"github.com/driftwood-social/driftwood/internal/id"
	"github.com/driftwood-social/driftwood/internal/users"
)

// Condition formula node types.
const (
	CondAnd                  = "and"
	CondOr                   = "or"
	CondNot                  = "not"
	CondRoleAssignedTo       = "roleAssignedTo"
	CondIsLocal              = "isLocal"
	CondIsRemote             = "isRemote"
	CondIsSuspended          = "isSuspended"
	CondIsLocked             = "isLocked"
	CondIsBot                = "isBot"
	CondIsCat                = "isCat"
	CondIsExplorable         = "isExplorable"
	CondCreatedLessThan      = "createdLessThan"
	CondCreatedMoreThan      = "createdMoreThan"
	CondFollowersLessThanEq  = "followersLessThanOrEq"
	CondFollowersMoreThanEq  = "followersMoreThanOrEq"
	CondFollowingLessThanEq  = "followingLessThanOrEq"
	CondFollowingMoreThanEq  = "followingMoreThanOrEq"
	CondNotesLessThanEq      = "notesLessThanOrEq"
	CondNotesMoreThanEq      = "notesMoreThanOrEq"
)

// CondFormula is one node of a condition tree. The wire format keeps a
// single polymorphic "value" slot: a nested formula under "not", a number
// under the count comparisons.
type CondFormula struct {
	Type   string          `json:"type"`
	Values []CondFormula   `json:"values,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	RoleID string          `json:"roleId,omitempty"`
	Sec    int64           `json:"sec,omitempty"`
}

// EvalCond evaluates a condition tree against a user's live attributes and
// their already-resolved manual roles. Malformed or unknown nodes evaluate
// to false; evaluation never fails.
func EvalCond(user *users.User, assignedRoles []*Role, formula *CondFormula) bool {
	return evalCond(user, assignedRoles, formula, time.Now())
}

func evalCond(user *users.User, assignedRoles []*Role, formula *CondFormula, now time.Time) bool {
	if user == nil || formula == nil {
		return false
	}

	switch formula.Type {
	case CondAnd:
		for _, child := range formula.Values {
			if !evalCond(user, assignedRoles, &child, now) {
				return false
			}
		}
		return true
	case CondOr:
		for _, child := range formula.Values {
			if evalCond(user, assignedRoles, &child, now) {
				return true
			}
		}
		return false
	case CondNot:
		var child CondFormula
		if err := json.Unmarshal(formula.Value, &child); err != nil {
			return false
		}
		return !evalCond(user, assignedRoles, &child, now)
	case CondRoleAssignedTo:
		for _, r := range assignedRoles {
			if r.ID == formula.RoleID {
				return true
			}
		}
		return false
	case CondIsLocal:
		return user.IsLocal()
	case CondIsRemote:
		return user.IsRemote()
	case CondIsSuspended:
		return user.IsSuspended
	case CondIsLocked:
		return user.IsLocked
	case CondIsBot:
		return user.IsBot
	case CondIsCat:
		return user.IsCat
	case CondIsExplorable:
		return user.IsExplorable
	case CondCreatedLessThan:
		created, err := id.Timestamp(user.ID)
		if err != nil {
			return false
		}
		return created.After(now.Add(-time.Duration(formula.Sec) * time.Second))
	case CondCreatedMoreThan:
		created, err := id.Timestamp(user.ID)
		if err != nil {
			return false
		}
		return created.Before(now.Add(-time.Duration(formula.Sec) * time.Second))
	case CondFollowersLessThanEq:
		n, ok := numberValue(formula.Value)
		return ok && float64(user.FollowersCount) <= n
	case CondFollowersMoreThanEq:
		n, ok := numberValue(formula.Value)
		return ok && float64(user.FollowersCount) >= n
	case CondFollowingLessThanEq:
		n, ok := numberValue(formula.Value)
		return ok && float64(user.FollowingCount) <= n
	case CondFollowingMoreThanEq:
		n, ok := numberValue(formula.Value)
		return ok && float64(user.FollowingCount) >= n
	case CondNotesLessThanEq:
		n, ok := numberValue(formula.Value)
		return ok && float64(user.NotesCount) <= n
	case CondNotesMoreThanEq:
		n, ok := numberValue(formula.Value)
		return ok && float64(user.NotesCount) >= n
	default:
		return false
	}
}

func numberValue(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

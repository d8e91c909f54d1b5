package roles

import (
	"time"

	"github.com/driftwood-social/driftwood/internal/shared"
)

// RoleTarget selects how a role attaches to users.
type RoleTarget string

const (
	// TargetManual roles are granted explicitly by a moderator.
	TargetManual RoleTarget = "manual"
	// TargetConditional roles attach automatically to every user whose
	// live attributes satisfy the role's condition formula.
	TargetConditional RoleTarget = "conditional"
)

// PolicyEntry is one role's stance on a single policy field.
type PolicyEntry struct {
	Priority   int  `json:"priority"`
	UseDefault bool `json:"useDefault"`
	Value      any  `json:"value"`
}

// PolicyMap maps policy field names to entries.
type PolicyMap map[string]PolicyEntry

// Role is a named bundle of policy overrides.
type Role struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Color           string       `json:"color"`
	IconURL         string       `json:"iconUrl"`
	Target          RoleTarget   `json:"target"`
	CondFormula     *CondFormula `json:"condFormula,omitempty"`
	IsPublic        bool         `json:"isPublic"`
	IsAdministrator bool         `json:"isAdministrator"`
	IsModerator     bool         `json:"isModerator"`
	IsExplorable    bool         `json:"isExplorable"`
	AsBadge         bool         `json:"asBadge"`
	BadgeBehavior   string       `json:"badgeBehavior,omitempty"`
	DisplayOrder    int          `json:"displayOrder"`
	Policies        PolicyMap    `json:"policies"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	LastUsedAt      time.Time    `json:"lastUsedAt"`
}

// Assignment links a user to a manual role.
type Assignment struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	RoleID    string     `json:"roleId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Memo      string     `json:"memo,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Expired reports whether the assignment has lapsed at the given time.
func (a *Assignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// InlineOperation selects how an inline policy row combines with the
// role-derived value.
type InlineOperation string

const (
	// OperationSet replaces the aggregated value outright.
	OperationSet InlineOperation = "set"
	// OperationIncrement adds to the aggregated numeric value.
	OperationIncrement InlineOperation = "increment"
)

// InlinePolicy is a per-user policy override independent of role membership.
type InlinePolicy struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Policy    string          `json:"policy"`
	Operation InlineOperation `json:"operation"`
	Value     any             `json:"value"`
	Memo      string          `json:"memo,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// BadgeRole is the public projection of a badge-flagged role.
type BadgeRole struct {
	Name         string `json:"name"`
	IconURL      string `json:"iconUrl"`
	DisplayOrder int    `json:"displayOrder"`
	Behavior     string `json:"behavior,omitempty"`
}

// Domain errors with stable identifiers for API translation.
var (
	ErrAlreadyAssigned  = shared.NewIdentifiable("67d8689c-25c6-435f-8ced-631e4b81fce1", "user is already assigned to this role")
	ErrNotAssigned      = shared.NewIdentifiable("b9060ac7-5c94-4da4-9f55-2047c953df44", "user was not assigned to this role")
	ErrNoSuchUser       = shared.NewIdentifiable("f5b42979-e8e7-4027-9022-3e507ad29828", "no such user")
	ErrInvalidPolicy    = shared.NewIdentifiable("52109192-4e49-4d10-8844-899281fde5a3", "invalid policy")
	ErrInvalidOperation = shared.NewIdentifiable("e0a8b82d-925a-414a-a5fe-993ee35efc6a", "invalid operation")
	ErrInvalidValue     = shared.NewIdentifiable("6f33c598-400e-4afa-aeb7-9b18965368c4", "invalid value")
)

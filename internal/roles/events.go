package roles

import (
	"encoding/json"
	"fmt"

	"github.com/driftwood-social/driftwood/internal/bus"
)

// internalEvent is the decoded form of one invalidation-bus message.
// Variants patch the process-local mirrors in place when they are already
// populated; they never eagerly populate a cache nobody asked about.
type internalEvent interface {
	apply(s *Service)
}

type roleCreatedEvent struct {
	Role *Role
}

func (e roleCreatedEvent) apply(s *Service) {
	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return appendRole(cached, e.Role)
	})
}

type roleUpdatedEvent struct {
	Role *Role
}

func (e roleUpdatedEvent) apply(s *Service) {
	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return replaceRole(cached, e.Role)
	})
}

type roleDeletedEvent struct {
	RoleID string
}

func (e roleDeletedEvent) apply(s *Service) {
	s.rolesCache.Mutate(func(cached []*Role) []*Role {
		return removeRole(cached, e.RoleID)
	})
}

type userRoleAssignedEvent struct {
	Assignment *Assignment
}

func (e userRoleAssignedEvent) apply(s *Service) {
	s.assignsCache.Mutate(e.Assignment.UserID, func(cached []*Assignment) []*Assignment {
		return appendAssignment(cached, e.Assignment)
	})
}

type userRoleUnassignedEvent struct {
	Assignment *Assignment
}

func (e userRoleUnassignedEvent) apply(s *Service) {
	s.assignsCache.Mutate(e.Assignment.UserID, func(cached []*Assignment) []*Assignment {
		return removeAssignment(cached, e.Assignment.ID)
	})
}

type userInlinePoliciesUpdatedEvent struct {
	UserID string
}

func (e userInlinePoliciesUpdatedEvent) apply(s *Service) {
	s.inlineCache.Delete(e.UserID)
}

// decodeEvent maps a wire message onto an event variant. Unknown types
// return (nil, nil): the bus may carry event kinds this service does not
// mirror, and those are ignored rather than treated as failures.
func decodeEvent(msg bus.Message) (internalEvent, error) {
	switch msg.Type {
	case bus.TypeRoleCreated:
		var role Role
		if err := json.Unmarshal(msg.Body, &role); err != nil {
			return nil, fmt.Errorf("roles: decode %s: %w", msg.Type, err)
		}
		return roleCreatedEvent{Role: &role}, nil
	case bus.TypeRoleUpdated:
		var role Role
		if err := json.Unmarshal(msg.Body, &role); err != nil {
			return nil, fmt.Errorf("roles: decode %s: %w", msg.Type, err)
		}
		return roleUpdatedEvent{Role: &role}, nil
	case bus.TypeRoleDeleted:
		var role Role
		if err := json.Unmarshal(msg.Body, &role); err != nil {
			return nil, fmt.Errorf("roles: decode %s: %w", msg.Type, err)
		}
		return roleDeletedEvent{RoleID: role.ID}, nil
	case bus.TypeUserRoleAssigned:
		var a Assignment
		if err := json.Unmarshal(msg.Body, &a); err != nil {
			return nil, fmt.Errorf("roles: decode %s: %w", msg.Type, err)
		}
		return userRoleAssignedEvent{Assignment: &a}, nil
	case bus.TypeUserRoleUnassigned:
		var a Assignment
		if err := json.Unmarshal(msg.Body, &a); err != nil {
			return nil, fmt.Errorf("roles: decode %s: %w", msg.Type, err)
		}
		return userRoleUnassignedEvent{Assignment: &a}, nil
	case bus.TypeUserInlinePoliciesUpdated:
		var body struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return nil, fmt.Errorf("roles: decode %s: %w", msg.Type, err)
		}
		return userInlinePoliciesUpdatedEvent{UserID: body.UserID}, nil
	default:
		return nil, nil
	}
}

package roles

import "time"

// Mirror mutation helpers. Fetch hands the cached slice itself to callers,
// so a mutation must never edit that slice or its elements; every helper
// builds a replacement and leaves earlier snapshots untouched.

func appendRole(cached []*Role, role *Role) []*Role {
	out := make([]*Role, 0, len(cached)+1)
	out = append(out, cached...)
	return append(out, role)
}

func replaceRole(cached []*Role, role *Role) []*Role {
	out := make([]*Role, len(cached))
	for i, r := range cached {
		if r.ID == role.ID {
			out[i] = role
		} else {
			out[i] = r
		}
	}
	return out
}

func removeRole(cached []*Role, roleID string) []*Role {
	out := make([]*Role, 0, len(cached))
	for _, r := range cached {
		if r.ID != roleID {
			out = append(out, r)
		}
	}
	return out
}

func withRoleLastUsed(cached []*Role, roleID string, at time.Time) []*Role {
	out := make([]*Role, len(cached))
	for i, r := range cached {
		if r.ID == roleID {
			patched := *r
			patched.LastUsedAt = at
			out[i] = &patched
		} else {
			out[i] = r
		}
	}
	return out
}

func appendAssignment(cached []*Assignment, a *Assignment) []*Assignment {
	out := make([]*Assignment, 0, len(cached)+1)
	out = append(out, cached...)
	return append(out, a)
}

func removeAssignment(cached []*Assignment, id string) []*Assignment {
	out := make([]*Assignment, 0, len(cached))
	for _, a := range cached {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

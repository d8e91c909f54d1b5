package roles

import "encoding/json"

// RolePolicies is the effective permission/limit set for one user, after
// combining instance defaults, role contributions and inline overrides.
type RolePolicies struct {
	GTLAvailable               bool    `json:"gtlAvailable"`
	LTLAvailable               bool    `json:"ltlAvailable"`
	CanPublicNote              bool    `json:"canPublicNote"`
	CanInitiateConversation    bool    `json:"canInitiateConversation"`
	CanInvite                  bool    `json:"canInvite"`
	CanManageCustomEmojis      bool    `json:"canManageCustomEmojis"`
	CanManageAvatarDecorations bool    `json:"canManageAvatarDecorations"`
	CanSearchNotes             bool    `json:"canSearchNotes"`
	CanUseTranslator           bool    `json:"canUseTranslator"`
	CanHideAds                 bool    `json:"canHideAds"`
	CanUpdateAvatar            bool    `json:"canUpdateAvatar"`
	CanUpdateBanner            bool    `json:"canUpdateBanner"`
	AlwaysMarkNSFW             bool    `json:"alwaysMarkNsfw"`
	MentionLimit               int     `json:"mentionLimit"`
	InviteLimit                int     `json:"inviteLimit"`
	InviteLimitCycle           int     `json:"inviteLimitCycle"`
	InviteExpirationTime       int     `json:"inviteExpirationTime"`
	DriveCapacityMB            int     `json:"driveCapacityMb"`
	PinLimit                   int     `json:"pinLimit"`
	AntennaLimit               int     `json:"antennaLimit"`
	WordMuteLimit              int     `json:"wordMuteLimit"`
	WebhookLimit               int     `json:"webhookLimit"`
	ClipLimit                  int     `json:"clipLimit"`
	NoteEachClipsLimit         int     `json:"noteEachClipsLimit"`
	UserListLimit              int     `json:"userListLimit"`
	UserEachUserListsLimit     int     `json:"userEachUserListsLimit"`
	AvatarDecorationLimit      int     `json:"avatarDecorationLimit"`
	RateLimitFactor            float64 `json:"rateLimitFactor"`
}

// defaultPolicies is the built-in baseline every instance starts from.
// Instance meta overrides these globally; roles and inline policies layer
// per-user adjustments on top.
func defaultPolicies() map[string]any {
	return map[string]any{
		"gtlAvailable":               true,
		"ltlAvailable":               true,
		"canPublicNote":              true,
		"canInitiateConversation":    true,
		"canInvite":                  false,
		"canManageCustomEmojis":      false,
		"canManageAvatarDecorations": false,
		"canSearchNotes":             false,
		"canUseTranslator":           true,
		"canHideAds":                 false,
		"canUpdateAvatar":            true,
		"canUpdateBanner":            true,
		"alwaysMarkNsfw":             false,
		"mentionLimit":               float64(20),
		"inviteLimit":                float64(0),
		"inviteLimitCycle":           float64(60 * 24 * 7),
		"inviteExpirationTime":       float64(0),
		"driveCapacityMb":            float64(100),
		"pinLimit":                   float64(5),
		"antennaLimit":               float64(5),
		"wordMuteLimit":              float64(200),
		"webhookLimit":               float64(3),
		"clipLimit":                  float64(10),
		"noteEachClipsLimit":         float64(200),
		"userListLimit":              float64(10),
		"userEachUserListsLimit":     float64(50),
		"avatarDecorationLimit":      float64(1),
		"rateLimitFactor":            float64(1),
	}
}

// PolicyNames lists the known policy fields.
func PolicyNames() []string {
	defaults := defaultPolicies()
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	return names
}

// IsBooleanPolicy reports whether the named field carries a boolean value.
func IsBooleanPolicy(name string) bool {
	_, ok := defaultPolicies()[name].(bool)
	return ok
}

// IsKnownPolicy reports whether name is a policy field at all.
func IsKnownPolicy(name string) bool {
	_, ok := defaultPolicies()[name]
	return ok
}

// basePolicies overlays the instance meta overrides on the defaults.
func basePolicies(metaOverrides map[string]any) map[string]any {
	base := defaultPolicies()
	for name, v := range metaOverrides {
		def, ok := base[name]
		if !ok {
			continue
		}
		switch def.(type) {
		case bool:
			if b, ok := v.(bool); ok {
				base[name] = b
			}
		case float64:
			if f, ok := toNumber(v); ok {
				base[name] = f
			}
		}
	}
	return base
}

// aggregatePolicies resolves the effective value of every policy field.
// Per field: entries contributed by the effective roles are partitioned by
// priority, and only the highest non-empty priority tier is aggregated
// (boolean fields OR, numeric fields MAX). Entries flagged useDefault
// contribute the base value instead of their own. With zero effective
// roles the base value passes through untouched. Inline rows then apply
// in insertion order: set replaces, increment adds.
func aggregatePolicies(base map[string]any, effectiveRoles []*Role, inline []*InlinePolicy) map[string]any {
	out := make(map[string]any, len(base))
	for name, baseValue := range base {
		out[name] = aggregateField(name, baseValue, effectiveRoles)
	}
	for _, row := range inline {
		baseValue, ok := base[row.Policy]
		if !ok {
			continue
		}
		switch row.Operation {
		case OperationSet:
			switch baseValue.(type) {
			case bool:
				if b, ok := row.Value.(bool); ok {
					out[row.Policy] = b
				}
			case float64:
				if f, ok := toNumber(row.Value); ok {
					out[row.Policy] = f
				}
			}
		case OperationIncrement:
			if _, isNumeric := baseValue.(float64); !isNumeric {
				continue
			}
			cur, _ := toNumber(out[row.Policy])
			if f, ok := toNumber(row.Value); ok {
				out[row.Policy] = cur + f
			}
		}
	}
	return out
}

func aggregateField(name string, baseValue any, effectiveRoles []*Role) any {
	if len(effectiveRoles) == 0 {
		return baseValue
	}

	entries := make([]PolicyEntry, len(effectiveRoles))
	for i, role := range effectiveRoles {
		entry, ok := role.Policies[name]
		if !ok {
			entry = PolicyEntry{Priority: 0, UseDefault: true}
		}
		entries[i] = entry
	}

	tier := entries
	for _, priority := range []int{2, 1} {
		var matched []PolicyEntry
		for _, e := range entries {
			if e.Priority == priority {
				matched = append(matched, e)
			}
		}
		if len(matched) > 0 {
			tier = matched
			break
		}
	}

	values := make([]any, len(tier))
	for i, e := range tier {
		if e.UseDefault {
			values[i] = baseValue
		} else {
			values[i] = e.Value
		}
	}

	if _, isBool := baseValue.(bool); isBool {
		for _, v := range values {
			if b, ok := v.(bool); ok && b {
				return true
			}
		}
		return false
	}

	best, ok := toNumber(baseValue)
	if !ok {
		return baseValue
	}
	first := true
	for _, v := range values {
		f, ok := toNumber(v)
		if !ok {
			continue
		}
		if first || f > best {
			best = f
			first = false
		}
	}
	return best
}

// policiesFromMap builds the typed policy object from the resolved values.
func policiesFromMap(m map[string]any) RolePolicies {
	b := func(name string) bool {
		v, _ := m[name].(bool)
		return v
	}
	n := func(name string) int {
		f, _ := toNumber(m[name])
		return int(f)
	}
	f := func(name string) float64 {
		v, _ := toNumber(m[name])
		return v
	}
	return RolePolicies{
		GTLAvailable:               b("gtlAvailable"),
		LTLAvailable:               b("ltlAvailable"),
		CanPublicNote:              b("canPublicNote"),
		CanInitiateConversation:    b("canInitiateConversation"),
		CanInvite:                  b("canInvite"),
		CanManageCustomEmojis:      b("canManageCustomEmojis"),
		CanManageAvatarDecorations: b("canManageAvatarDecorations"),
		CanSearchNotes:             b("canSearchNotes"),
		CanUseTranslator:           b("canUseTranslator"),
		CanHideAds:                 b("canHideAds"),
		CanUpdateAvatar:            b("canUpdateAvatar"),
		CanUpdateBanner:            b("canUpdateBanner"),
		AlwaysMarkNSFW:             b("alwaysMarkNsfw"),
		MentionLimit:               n("mentionLimit"),
		InviteLimit:                n("inviteLimit"),
		InviteLimitCycle:           n("inviteLimitCycle"),
		InviteExpirationTime:       n("inviteExpirationTime"),
		DriveCapacityMB:            n("driveCapacityMb"),
		PinLimit:                   n("pinLimit"),
		AntennaLimit:               n("antennaLimit"),
		WordMuteLimit:              n("wordMuteLimit"),
		WebhookLimit:               n("webhookLimit"),
		ClipLimit:                  n("clipLimit"),
		NoteEachClipsLimit:         n("noteEachClipsLimit"),
		UserListLimit:              n("userListLimit"),
		UserEachUserListsLimit:     n("userEachUserListsLimit"),
		AvatarDecorationLimit:      n("avatarDecorationLimit"),
		RateLimitFactor:            f("rateLimitFactor"),
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

package permission

// Group is the evaluator's plain view of a permission group: the additive
// unit of permission resolution. internal/hub.Group converts to this via a
// View method so this package never imports internal/hub.
type Group struct {
	HubPermissions     map[HubPermission]Setting
	ChannelPermissions map[ChannelID]map[ChannelPermission]Setting
}

// ChannelID is a loosely-typed alias kept local to this package so it never
// has to import internal/id or internal/hub; callers convert their own ID
// type to this before calling Evaluate*.
type ChannelID [16]byte

// Member is the evaluator's plain view of a hub member.
type Member struct {
	IsOwner            bool
	HubPermissions     map[HubPermission]Setting
	ChannelPermissions map[ChannelID]map[ChannelPermission]Setting
	Groups             []Group
}

// ownHasAll reports whether the member's own (non-group) hub permissions
// grant HasAllPermissions. This is deliberately member-only: a group's ALL
// grant must never bypass the member's own explicit setting for a
// permission, only stand in for a missing one (see EvaluateHub).
func (m Member) ownHasAll() bool {
	return m.HubPermissions[HasAllPermissions] == SettingTrue
}

// EvaluateHub resolves whether m holds the given hub permission.
//
// Resolution order, matching the original hub member's has_permission:
//  1. Owner bypass: the hub owner always holds every hub permission.
//  2. The member's own HasAllPermissions bypass: only the member's own
//     setting, never a group's, short-circuits ahead of the member's own
//     explicit per-permission setting.
//  3. The member's own explicit setting for perm, if not SettingNone —
//     TRUE or FALSE decide immediately. An explicit member-level deny must
//     win even if a group would otherwise grant the permission.
//  4. Only once the member's own setting is SettingNone do groups get
//     consulted, and only then as an additive union: each group is checked
//     for its own HasAllPermissions grant or its own explicit setting for
//     perm, and any single TRUE wins — a group's explicit deny never blocks
//     another group's grant.
//  5. Absent any explicit grant, the permission is denied.
func EvaluateHub(m Member, perm HubPermission) bool {
	if m.IsOwner {
		return true
	}
	if perm != HasAllPermissions && m.ownHasAll() {
		return true
	}
	if s := m.HubPermissions[perm]; s != SettingNone {
		return s == SettingTrue
	}
	for _, g := range m.Groups {
		if g.HubPermissions[HasAllPermissions] == SettingTrue {
			return true
		}
		if g.HubPermissions[perm] == SettingTrue {
			return true
		}
	}
	return false
}

// EvaluateChannel resolves whether m holds the given channel permission in
// channel ch, matching the original has_channel_permission:
//  1. Owner or the member's own HasAllPermissions bypass, same as
//     EvaluateHub.
//  2. The member's own per-channel override for ch, if present and not
//     SettingNone — decides immediately, ahead of any group.
//  3. Only once the member's own override is absent or SettingNone do
//     groups get consulted: each group's own HasAllPermissions grant or its
//     own per-channel override on ch, additively, a single TRUE winning.
//  4. If nothing above grants it, fall back to the hub-scoped equivalent
//     permission via EvaluateHub — the NONE-falls-through-to-hub-equivalent
//     rule.
func EvaluateChannel(m Member, ch ChannelID, perm ChannelPermission) bool {
	if m.IsOwner || m.ownHasAll() {
		return true
	}
	if overrides, ok := m.ChannelPermissions[ch]; ok {
		if s, ok := overrides[perm]; ok && s != SettingNone {
			return s == SettingTrue
		}
	}
	for _, g := range m.Groups {
		if g.HubPermissions[HasAllPermissions] == SettingTrue {
			return true
		}
		if overrides, ok := g.ChannelPermissions[ch]; ok {
			if overrides[perm] == SettingTrue {
				return true
			}
		}
	}
	return EvaluateHub(m, perm.HubEquivalent())
}

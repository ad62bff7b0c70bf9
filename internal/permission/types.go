// Package permission implements the hub authorization kernel: a pure,
// in-memory evaluator over the tri-valued permission settings attached to
// members and groups. It has no knowledge of storage, caching, or HTTP —
// internal/hub adapts its own member and group types into the plain structs
// this package operates on, the same separation the teacher draws between
// internal/permission (policy) and internal/gateway (transport).
package permission

// Setting is a tri-valued permission flag. The zero value, SettingNone,
// means "not set at this level" and falls through to the next rule in the
// resolution order rather than being treated as a denial.
type Setting int

const (
	SettingNone Setting = iota
	SettingTrue
	SettingFalse
)

// HubPermission enumerates the closed set of hub-scoped permissions. The
// enum is closed deliberately: adding a capability means adding a case here,
// never smuggling one in as a free-form string.
type HubPermission int

const (
	ManageHub HubPermission = iota
	ManageChannels
	ManageRoles
	ManageMembers
	KickMembers
	BanMembers
	CreateInvite
	ManageMessages
	MentionEveryone
	HasAllPermissions
)

var hubPermissionNames = map[HubPermission]string{
	ManageHub:         "manage_hub",
	ManageChannels:    "manage_channels",
	ManageRoles:       "manage_roles",
	ManageMembers:     "manage_members",
	KickMembers:       "kick_members",
	BanMembers:        "ban_members",
	CreateInvite:      "create_invite",
	ManageMessages:    "manage_messages",
	MentionEveryone:   "mention_everyone",
	HasAllPermissions: "has_all_permissions",
}

func (p HubPermission) String() string {
	if n, ok := hubPermissionNames[p]; ok {
		return n
	}
	return "unknown_hub_permission"
}

// ChannelPermission enumerates the closed set of channel-scoped permissions.
// Each has a HubEquivalent used when the channel-level setting for a member
// or group is SettingNone: resolution falls back to the hub-scoped
// permission of the same meaning rather than denying outright.
type ChannelPermission int

const (
	ViewChannel ChannelPermission = iota
	SendMessage
	ManageChannel
	ManageChannelMessages
	AddReaction
	AttachFiles
	MentionEveryoneInChannel
)

var channelPermissionNames = map[ChannelPermission]string{
	ViewChannel:              "view_channel",
	SendMessage:              "send_message",
	ManageChannel:            "manage_channel",
	ManageChannelMessages:    "manage_channel_messages",
	AddReaction:              "add_reaction",
	AttachFiles:              "attach_files",
	MentionEveryoneInChannel: "mention_everyone",
}

func (p ChannelPermission) String() string {
	if n, ok := channelPermissionNames[p]; ok {
		return n
	}
	return "unknown_channel_permission"
}

// HubEquivalent returns the hub-scoped permission used as a fallback when a
// channel permission is unset (SettingNone) at every applicable level.
// ManageChannel has no natural hub-level analogue other than ManageChannels
// itself, which is also the fallback used for the (fixed in this rework,
// see DESIGN.md) rename/delete channel path.
func (p ChannelPermission) HubEquivalent() HubPermission {
	switch p {
	case ViewChannel:
		return ManageChannels
	case SendMessage:
		return ManageMessages
	case ManageChannel:
		return ManageChannels
	case ManageChannelMessages:
		return ManageMessages
	case AddReaction:
		return ManageMessages
	case AttachFiles:
		return ManageMessages
	case MentionEveryoneInChannel:
		return MentionEveryone
	default:
		return ManageHub
	}
}

// Package notify implements the NotificationHub actor: the single-consumer
// goroutine that turns client commands and server-originated events into
// signed, fanned-out frames delivered through internal/registry. It plays
// the role the teacher's gateway.Hub plays for Valkey-backed pub/sub,
// generalized to the spec's in-process hub/channel/message model and to the
// original server.rs's client_command module and Handler<ServerNotification>.
package notify

import (
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/message"
	"github.com/nexushub/server/internal/registry"
)

// Connect registers a connection's writer handle with the hub.
type Connect struct {
	ConnID id.ID
	Writer registry.WriterHandle
}

// Disconnect tears down a connection and its subscriptions.
type Disconnect struct {
	ConnID id.ID
}

// SubscribeHub subscribes a connection to hub-level events (membership,
// group, and channel-list changes), gated on UserID actually being a member
// of HubID — the membership check spec.md requires before touching the
// registry.
type SubscribeHub struct {
	ConnID id.ID
	HubID  id.ID
	UserID id.ID
}

// UnsubscribeHub reverses SubscribeHub. Leaving a subscription carries no
// authorization requirement of its own.
type UnsubscribeHub struct {
	ConnID id.ID
	HubID  id.ID
}

// SubscribeChannel subscribes a connection to a single channel's messages
// and typing indicators, gated on UserID holding ViewChannel in ChannelID —
// the read-permission check spec.md requires before touching the registry.
type SubscribeChannel struct {
	ConnID    id.ID
	ChannelID id.ID
	HubID     id.ID
	UserID    id.ID
}

// UnsubscribeChannel reverses SubscribeChannel.
type UnsubscribeChannel struct {
	ConnID    id.ID
	ChannelID id.ID
}

// StartTyping announces that UserID began typing in ChannelID, gated on
// UserID holding SendMessage in ChannelID — the write-permission check
// spec.md requires before broadcasting. Typing state is not persisted
// anywhere; it is a pure fan-out event.
type StartTyping struct {
	HubID     id.ID
	ChannelID id.ID
	UserID    id.ID
}

// StopTyping announces that UserID stopped typing in ChannelID, gated the
// same way as StartTyping.
type StopTyping struct {
	HubID     id.ID
	ChannelID id.ID
	UserID    id.ID
}

// NewMessage is a server-originated notification that a message was sent:
// the hub signs it, appends it to the channel log, forwards it to that
// channel's indexer, and broadcasts it to channel subscribers — matching
// Handler<ServerNotification>'s NewMessage arm.
type NewMessage struct {
	HubID     id.ID
	ChannelID id.ID
	Msg       message.Message
}

// HubUpdateType is the closed set of hub-level state changes that get
// broadcast to hub subscribers: hub, channel, member and group changes. It
// has no variants for kicks, hub description changes, member status
// changes or per-channel permission changes.
type HubUpdateType int

const (
	HubRenamed HubUpdateType = iota
	HubDeleted
	ChannelCreated
	ChannelRenamed
	ChannelDeleted
	ChannelMoved
	MemberJoined
	MemberLeft
	MemberNicknameChanged
	MemberBanned
	MemberUnbanned
	MemberMuted
	MemberUnmuted
	MemberPermissionsChanged
	MemberGroupsChanged
	GroupCreated
	GroupDeleted
	GroupRenamed
	GroupPermissionsChanged
)

var hubUpdateTypeNames = map[HubUpdateType]string{
	HubRenamed:               "hub_renamed",
	HubDeleted:               "hub_deleted",
	ChannelCreated:           "channel_created",
	ChannelRenamed:           "channel_renamed",
	ChannelDeleted:           "channel_deleted",
	ChannelMoved:             "channel_moved",
	MemberJoined:             "member_joined",
	MemberLeft:               "member_left",
	MemberNicknameChanged:    "member_nickname_changed",
	MemberBanned:             "member_banned",
	MemberUnbanned:           "member_unbanned",
	MemberMuted:              "member_muted",
	MemberUnmuted:            "member_unmuted",
	MemberPermissionsChanged: "member_permissions_changed",
	MemberGroupsChanged:      "member_groups_changed",
	GroupCreated:             "group_created",
	GroupDeleted:             "group_deleted",
	GroupRenamed:             "group_renamed",
	GroupPermissionsChanged:  "group_permissions_changed",
}

func (t HubUpdateType) String() string {
	if n, ok := hubUpdateTypeNames[t]; ok {
		return n
	}
	return "unknown_hub_update"
}

// HubUpdated is a server-originated notification of a hub-level state
// change, broadcast to every connection subscribed to HubID.
type HubUpdated struct {
	HubID   id.ID
	Type    HubUpdateType
	Payload any
}

// JoinHub admits UserID into HubID under Nickname (subject to
// internal/hub's name-validation and re-join rules) and, on success,
// subscribes ConnID to the hub's events.
type JoinHub struct {
	ConnID   id.ID
	HubID    id.ID
	UserID   id.ID
	Nickname string
}

// LeaveHub removes UserID's membership from HubID. The hub owner can never
// leave; see hub.Hub.UserLeave.
type LeaveHub struct {
	HubID  id.ID
	UserID id.ID
}

// CreateChannel creates a channel named Name in HubID on ActorID's behalf,
// requiring ManageChannels.
type CreateChannel struct {
	HubID   id.ID
	ActorID id.ID
	Name    string
}

// RenameChannel renames ChannelID, requiring ManageChannel on that channel.
type RenameChannel struct {
	HubID     id.ID
	ActorID   id.ID
	ChannelID id.ID
	Name      string
}

// DeleteChannel removes ChannelID, requiring ManageChannel on that channel.
type DeleteChannel struct {
	HubID     id.ID
	ActorID   id.ID
	ChannelID id.ID
}

// CreateGroup creates a permission group named Name in HubID, requiring
// ManageRoles.
type CreateGroup struct {
	HubID   id.ID
	ActorID id.ID
	Name    string
}

// MuteMember silences TargetID in HubID, requiring ManageMembers.
type MuteMember struct {
	HubID    id.ID
	ActorID  id.ID
	TargetID id.ID
}

// UnmuteMember reverses MuteMember.
type UnmuteMember struct {
	HubID    id.ID
	ActorID  id.ID
	TargetID id.ID
}

// BanMember bans TargetID from HubID and removes their membership,
// requiring BanMembers.
type BanMember struct {
	HubID    id.ID
	ActorID  id.ID
	TargetID id.ID
}

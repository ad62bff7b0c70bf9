// Package hub implements the federated chat server's core domain object: a
// Hub is a named community of members, permission groups, and channels.
// Every mutating operation here checks authorization through
// internal/permission before touching state, the same validate-then-mutate
// sequencing the original hub.rs uses throughout (new_channel, rename_channel,
// delete_channel, send_message, user_join, user_leave).
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexushub/server/internal/errkind"
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/permission"
)

// MaxNameBytes is the maximum length, in UTF-8 bytes, of a hub name,
// channel name, group name, or member nickname, matching the original
// is_valid_name/check_name_validity's MAX_NAME_SIZE.
const MaxNameBytes = 128

// validateName rejects names over MaxNameBytes, the one structural check
// every naming operation shares.
func validateName(name string) error {
	if len(name) > MaxNameBytes {
		return errkind.New(errkind.KindInvalidArgument, "name exceeds 128 bytes")
	}
	return nil
}

// Member is a single user's membership record within a Hub: their nickname,
// group memberships, and any hub- or channel-scoped permission overrides.
type Member struct {
	UserID             id.ID
	Joined             time.Time
	Nickname           string
	GroupIDs           []id.ID
	HubPermissions     map[permission.HubPermission]permission.Setting
	ChannelPermissions map[id.ID]map[permission.ChannelPermission]permission.Setting
}

// View converts m, together with its resolved groups, into the pure
// permission.Member value the evaluator operates on.
func (m *Member) View(isOwner bool, groups map[id.ID]*Group) permission.Member {
	pv := permission.Member{
		IsOwner:            isOwner,
		HubPermissions:     m.HubPermissions,
		ChannelPermissions: convertChannelPerms(m.ChannelPermissions),
	}
	for _, gid := range m.GroupIDs {
		if g, ok := groups[gid]; ok {
			pv.Groups = append(pv.Groups, g.View())
		}
	}
	return pv
}

func convertChannelPerms(in map[id.ID]map[permission.ChannelPermission]permission.Setting) map[permission.ChannelID]map[permission.ChannelPermission]permission.Setting {
	if in == nil {
		return nil
	}
	out := make(map[permission.ChannelID]map[permission.ChannelPermission]permission.Setting, len(in))
	for cid, perms := range in {
		out[permission.ChannelID(cid)] = perms
	}
	return out
}

// Group is a named, additive bundle of hub- and channel-scoped permission
// grants that members can belong to.
type Group struct {
	ID                 id.ID
	Name               string
	MemberIDs          []id.ID
	HubPermissions     map[permission.HubPermission]permission.Setting
	ChannelPermissions map[id.ID]map[permission.ChannelPermission]permission.Setting
	Created            time.Time
}

// View converts g into the pure permission.Group value the evaluator
// operates on.
func (g *Group) View() permission.Group {
	return permission.Group{
		HubPermissions:     g.HubPermissions,
		ChannelPermissions: convertChannelPerms(g.ChannelPermissions),
	}
}

// Channel is a single text channel within a Hub. Voice/media channel types
// are out of scope (see SPEC_FULL.md Non-goals); every channel is a message
// destination.
type Channel struct {
	ID      id.ID
	Name    string
	Topic   string
	Created time.Time
}

// Hub is a federated chat community: a set of members, permission groups,
// channels, bans, and mutes, all owned by a single actor-equivalent lock.
// Unlike the teacher's gateway.Hub (which dispatches live WS traffic),
// hub.Hub is pure domain state; internal/notify wraps a Hub to drive live
// dispatch the way gateway.Hub wraps a Valkey connection.
type Hub struct {
	ID           id.ID
	Name         string
	OwnerID      id.ID
	Created      time.Time
	DefaultGroup id.ID

	mu       sync.RWMutex
	members  map[id.ID]*Member
	groups   map[id.ID]*Group
	channels map[id.ID]*Channel
	bans     map[id.ID]struct{}
	mutes    map[id.ID]struct{}
}

// New creates an empty hub owned by owner, seeded with a default permission
// group (granting no special permissions) and no channels.
func New(name string, owner id.ID) *Hub {
	now := time.Now().UTC()
	defaultGroup := &Group{
		ID:      id.New(),
		Name:    "everyone",
		Created: now,
	}
	h := &Hub{
		ID:           id.New(),
		Name:         name,
		OwnerID:      owner,
		Created:      now,
		DefaultGroup: defaultGroup.ID,
		members:      make(map[id.ID]*Member),
		groups:       map[id.ID]*Group{defaultGroup.ID: defaultGroup},
		channels:     make(map[id.ID]*Channel),
		bans:         make(map[id.ID]struct{}),
		mutes:        make(map[id.ID]struct{}),
	}
	return h
}

// memberView resolves member to a permission.Member using the hub's current
// group set. Caller must hold at least a read lock.
func (h *Hub) memberView(m *Member) permission.Member {
	return m.View(m.UserID == h.OwnerID, h.groups)
}

// HasPermission reports whether user holds perm at the hub level. Unknown
// users hold no permissions.
func (h *Hub) HasPermission(user id.ID, perm permission.HubPermission) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[user]
	if !ok {
		return false
	}
	return permission.EvaluateHub(h.memberView(m), perm)
}

// HasChannelPermission reports whether user holds perm in channel ch.
func (h *Hub) HasChannelPermission(user, ch id.ID, perm permission.ChannelPermission) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[user]
	if !ok {
		return false
	}
	return permission.EvaluateChannel(h.memberView(m), permission.ChannelID(ch), perm)
}

// UserJoin admits user to the hub with the given nickname, placing them into
// the default group. Re-joining an existing member is a no-op on their
// existing permissions but refreshes the nickname.
func (h *Hub) UserJoin(user id.ID, nickname string) (*Member, error) {
	if err := validateName(nickname); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.members[user]; ok {
		m.Nickname = nickname
		return m, nil
	}
	m := &Member{
		UserID:             user,
		Joined:             time.Now().UTC(),
		Nickname:           nickname,
		GroupIDs:           []id.ID{h.DefaultGroup},
		HubPermissions:     map[permission.HubPermission]permission.Setting{},
		ChannelPermissions: map[id.ID]map[permission.ChannelPermission]permission.Setting{},
	}
	h.members[user] = m
	return m, nil
}

// UserLeave removes user from the hub. The owner may never leave; callers
// must transfer ownership or delete the hub instead.
func (h *Hub) UserLeave(user id.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if user == h.OwnerID {
		return errkind.New(errkind.KindInvalidArgument, "the hub owner cannot leave")
	}
	if _, ok := h.members[user]; !ok {
		return errkind.New(errkind.KindNotFound, "not a member of this hub")
	}
	delete(h.members, user)
	return nil
}

// NewChannel creates a channel named name, requiring actor to hold
// ManageChannels at the hub level.
func (h *Hub) NewChannel(actor id.ID, name string) (*Channel, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok {
		return nil, errkind.New(errkind.KindPermissionDenied, "not a member of this hub")
	}
	if !permission.EvaluateHub(h.memberView(m), permission.ManageChannels) {
		return nil, errkind.New(errkind.KindPermissionDenied, "missing manage_channels")
	}
	ch := &Channel{ID: id.New(), Name: name, Created: time.Now().UTC()}
	h.channels[ch.ID] = ch
	return ch, nil
}

// RenameChannel renames an existing channel. The original implementation
// gated this solely on ViewChannel; SPEC_FULL.md
// tightens this to require ManageChannel at the channel level (or its hub
// equivalent, ManageChannels) — see DESIGN.md Open Question (b).
func (h *Hub) RenameChannel(actor, channelID id.ID, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok {
		return errkind.New(errkind.KindPermissionDenied, "not a member of this hub")
	}
	ch, ok := h.channels[channelID]
	if !ok {
		return errkind.New(errkind.KindNotFound, "channel not found")
	}
	if !permission.EvaluateChannel(h.memberView(m), permission.ChannelID(channelID), permission.ManageChannel) {
		return errkind.New(errkind.KindPermissionDenied, "missing manage_channel")
	}
	ch.Name = newName
	return nil
}

// DeleteChannel removes a channel, requiring ManageChannel on that channel.
func (h *Hub) DeleteChannel(actor, channelID id.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok {
		return errkind.New(errkind.KindPermissionDenied, "not a member of this hub")
	}
	if _, ok := h.channels[channelID]; !ok {
		return errkind.New(errkind.KindNotFound, "channel not found")
	}
	if !permission.EvaluateChannel(h.memberView(m), permission.ChannelID(channelID), permission.ManageChannel) {
		return errkind.New(errkind.KindPermissionDenied, "missing manage_channel")
	}
	delete(h.channels, channelID)
	return nil
}

// CanSendMessage checks whether actor may post into channelID: membership,
// not muted, and SendMessage permission, in that order — mirroring
// send_message's mute-before-permission check in the original hub.
func (h *Hub) CanSendMessage(actor, channelID id.ID) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[actor]
	if !ok {
		return errkind.New(errkind.KindPermissionDenied, "not a member of this hub")
	}
	if _, ok := h.channels[channelID]; !ok {
		return errkind.New(errkind.KindNotFound, "channel not found")
	}
	if _, muted := h.mutes[actor]; muted {
		return errkind.New(errkind.KindMuted, "member is muted in this hub")
	}
	if !permission.EvaluateChannel(h.memberView(m), permission.ChannelID(channelID), permission.SendMessage) {
		return errkind.New(errkind.KindPermissionDenied, "missing send_message")
	}
	return nil
}

// Mute and Unmute manage the hub-wide mute set, requiring ManageMembers.
func (h *Hub) Mute(actor, target id.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok || !permission.EvaluateHub(h.memberView(m), permission.ManageMembers) {
		return errkind.New(errkind.KindPermissionDenied, "missing manage_members")
	}
	h.mutes[target] = struct{}{}
	return nil
}

func (h *Hub) Unmute(actor, target id.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok || !permission.EvaluateHub(h.memberView(m), permission.ManageMembers) {
		return errkind.New(errkind.KindPermissionDenied, "missing manage_members")
	}
	delete(h.mutes, target)
	return nil
}

// Ban adds target to the ban list and removes their membership, requiring
// BanMembers.
func (h *Hub) Ban(actor, target id.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok || !permission.EvaluateHub(h.memberView(m), permission.BanMembers) {
		return errkind.New(errkind.KindPermissionDenied, "missing ban_members")
	}
	h.bans[target] = struct{}{}
	delete(h.members, target)
	return nil
}

// IsBanned reports whether user is on the ban list.
func (h *Hub) IsBanned(user id.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.bans[user]
	return ok
}

// Channels returns the channels visible to user: those where ViewChannel
// resolves true, sorted by creation time for stable client rendering.
func (h *Hub) Channels(user id.ID) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[user]
	if !ok {
		return nil
	}
	view := h.memberView(m)
	var out []*Channel
	for _, ch := range h.channels {
		if permission.EvaluateChannel(view, permission.ChannelID(ch.ID), permission.ViewChannel) {
			out = append(out, ch)
		}
	}
	sortChannelsByCreated(out)
	return out
}

func sortChannelsByCreated(chs []*Channel) {
	for i := 1; i < len(chs); i++ {
		for j := i; j > 0 && chs[j].Created.Before(chs[j-1].Created); j-- {
			chs[j], chs[j-1] = chs[j-1], chs[j]
		}
	}
}

// Member looks up a member by user ID.
func (h *Hub) Member(user id.ID) (*Member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[user]
	return m, ok
}

// Group looks up a permission group by ID.
func (h *Hub) Group(groupID id.ID) (*Group, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.groups[groupID]
	return g, ok
}

// NewGroup creates a permission group, requiring ManageRoles.
func (h *Hub) NewGroup(actor id.ID, name string) (*Group, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[actor]
	if !ok || !permission.EvaluateHub(h.memberView(m), permission.ManageRoles) {
		return nil, errkind.New(errkind.KindPermissionDenied, "missing manage_roles")
	}
	for _, g := range h.groups {
		if g.Name == name {
			return nil, errkind.New(errkind.KindConflict, fmt.Sprintf("group %q already exists", name))
		}
	}
	g := &Group{ID: id.New(), Name: name, Created: time.Now().UTC()}
	h.groups[g.ID] = g
	return g, nil
}

// Channel looks up a channel by ID regardless of visibility; callers must
// check ViewChannel themselves before exposing it.
func (h *Hub) Channel(channelID id.ID) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[channelID]
	return ch, ok
}

// AllChannelIDs returns every channel in the hub regardless of viewer
// permissions, used by cmd/nexushub at boot to open one MessageIndexer per
// channel, which owes no per-member view filtering.
func (h *Hub) AllChannelIDs() []id.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]id.ID, 0, len(h.channels))
	for cid := range h.channels {
		out = append(out, cid)
	}
	return out
}

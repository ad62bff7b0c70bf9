package hub

import (
	"os"
	"testing"

	"github.com/nexushub/server/internal/errkind"
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/permission"
)

func TestOwnerHasEveryPermission(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	if !h.HasPermission(owner, permission.ManageRoles) {
		t.Fatalf("owner should hold every hub permission")
	}
}

func TestMemberWithoutGrantsHasNoPermissions(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	member := id.New()
	h.UserJoin(member, "member")
	if h.HasPermission(member, permission.ManageChannels) {
		t.Fatalf("plain member should not hold manage_channels")
	}
}

func TestChannelPermissionsAndVisibility(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	member := id.New()
	h.UserJoin(member, "member")

	ch, err := h.NewChannel(owner, "general")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	if h.HasChannelPermission(member, ch.ID, permission.ViewChannel) {
		t.Fatalf("member without any grant should not see the channel")
	}
	if len(h.Channels(member)) != 0 {
		t.Fatalf("Channels should omit channels the member cannot view")
	}

	m, _ := h.Member(member)
	m.HubPermissions[permission.ManageChannels] = permission.SettingTrue
	if !h.HasChannelPermission(member, ch.ID, permission.ViewChannel) {
		t.Fatalf("ViewChannel should fall through to its hub equivalent, manage_channels")
	}
	visible := h.Channels(member)
	if len(visible) != 1 || visible[0].ID != ch.ID {
		t.Fatalf("Channels should now include the visible channel")
	}
}

func TestGroupPermissionsAreAdditive(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	member := id.New()
	h.UserJoin(member, "member")

	g, err := h.NewGroup(owner, "moderators")
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	g.HubPermissions = map[permission.HubPermission]permission.Setting{
		permission.KickMembers: permission.SettingTrue,
	}
	m, _ := h.Member(member)
	m.GroupIDs = append(m.GroupIDs, g.ID)

	if !h.HasPermission(member, permission.KickMembers) {
		t.Fatalf("member should inherit kick_members from their group")
	}
}

func TestMuteBlocksSendBeforePermissionCheck(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	member := id.New()
	h.UserJoin(member, "member")
	ch, _ := h.NewChannel(owner, "general")

	m, _ := h.Member(member)
	m.HubPermissions[permission.ManageMessages] = permission.SettingTrue // grants send_message via fallback

	if err := h.CanSendMessage(member, ch.ID); err != nil {
		t.Fatalf("member should be able to send before being muted: %v", err)
	}
	if err := h.Mute(owner, member); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	err := h.CanSendMessage(member, ch.ID)
	if err == nil {
		t.Fatalf("muted member should not be able to send")
	}
	if errkind.KindOf(err) != errkind.KindMuted {
		t.Fatalf("expected KindMuted, got %v", errkind.KindOf(err))
	}
}

func TestOwnerCannotLeave(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	if err := h.UserLeave(owner); err == nil {
		t.Fatalf("owner must not be able to leave")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")
	member := id.New()
	h.UserJoin(member, "member")
	ch, _ := h.NewChannel(owner, "general")

	if err := h.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir, h.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name != h.Name || loaded.OwnerID != h.OwnerID {
		t.Fatalf("loaded hub fields mismatch")
	}
	if _, ok := loaded.Channel(ch.ID); !ok {
		t.Fatalf("loaded hub missing channel %s", ch.ID)
	}
	if _, ok := loaded.Member(member); !ok {
		t.Fatalf("loaded hub missing member %s", member)
	}

	ids, err := ListHubIDs(dir)
	if err != nil {
		t.Fatalf("ListHubIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != h.ID {
		t.Fatalf("ListHubIDs should find exactly the one saved hub")
	}
}

func TestNamesOver128BytesAreRejected(t *testing.T) {
	owner := id.New()
	h := New("test hub", owner)
	h.UserJoin(owner, "owner")

	tooLong := make([]byte, MaxNameBytes+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	longName := string(tooLong)

	if _, err := h.NewChannel(owner, longName); errkind.KindOf(err) != errkind.KindInvalidArgument {
		t.Fatalf("NewChannel should reject an over-long name, got %v", err)
	}
	ch, err := h.NewChannel(owner, "general")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := h.RenameChannel(owner, ch.ID, longName); errkind.KindOf(err) != errkind.KindInvalidArgument {
		t.Fatalf("RenameChannel should reject an over-long name, got %v", err)
	}
	if _, err := h.NewGroup(owner, longName); errkind.KindOf(err) != errkind.KindInvalidArgument {
		t.Fatalf("NewGroup should reject an over-long name, got %v", err)
	}
	if _, err := h.UserJoin(id.New(), longName); errkind.KindOf(err) != errkind.KindInvalidArgument {
		t.Fatalf("UserJoin should reject an over-long nickname, got %v", err)
	}
}

func TestSaveIsAtomicNoPartialFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	owner := id.New()
	h := New("test hub", owner)
	if err := h.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(InfoPath(dir, h.ID))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "hub.json" {
			t.Fatalf("expected only hub.json to remain, found stray file %q", e.Name())
		}
	}
}

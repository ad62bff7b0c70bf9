package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexushub/server/internal/hub"
	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/index"
	"github.com/nexushub/server/internal/message"
	"github.com/nexushub/server/internal/permission"
	"github.com/nexushub/server/internal/signer"
)

// grantAll gives user unrestricted hub-wide permissions by setting their own
// HasAllPermissions flag, bypassing every explicit per-permission check.
// Tests use this instead of joining through a permission group so the
// authorization gates in Hub.handle have something concrete to approve.
func grantAll(t *testing.T, domain *hub.Hub, user id.ID) {
	t.Helper()
	m, ok := domain.Member(user)
	if !ok {
		t.Fatalf("grantAll: %s is not a member", user)
	}
	m.HubPermissions[permission.HasAllPermissions] = permission.SettingTrue
}

type recordingWriter struct {
	frames chan Frame
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{frames: make(chan Frame, 16)}
}

func (w *recordingWriter) Enqueue(payload []byte) error {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	w.frames <- f
	return nil
}

func waitFrame(t *testing.T, ch chan Frame) Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame")
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, ch chan Frame) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("expected no frame, got %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTypingFanOutReachesExactSubscriberSet(t *testing.T) {
	dir := t.TempDir()
	key, err := signer.NewKeyPair("test")
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	nh := New(dir, key, index.DefaultCommitThreshold)
	defer nh.Shutdown()
	ctx := context.Background()

	owner := id.New()
	domain := hub.New("h", owner)
	domain.UserJoin(owner, "owner")
	ch, err := domain.NewChannel(owner, "general")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	other, err := domain.NewChannel(owner, "other")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	chID := ch.ID
	nh.RegisterHub(domain)

	subA, subB, unrelated, typist := id.New(), id.New(), id.New(), id.New()
	for _, u := range []id.ID{subA, subB, unrelated, typist} {
		if _, err := domain.UserJoin(u, "member"); err != nil {
			t.Fatalf("UserJoin: %v", err)
		}
		grantAll(t, domain, u)
	}
	wa, wb, wu := newRecordingWriter(), newRecordingWriter(), newRecordingWriter()

	for _, step := range []any{
		Connect{ConnID: subA, Writer: wa},
		Connect{ConnID: subB, Writer: wb},
		Connect{ConnID: unrelated, Writer: wu},
		SubscribeChannel{ConnID: subA, HubID: domain.ID, UserID: subA, ChannelID: chID},
		SubscribeChannel{ConnID: subB, HubID: domain.ID, UserID: subB, ChannelID: chID},
		SubscribeChannel{ConnID: unrelated, HubID: domain.ID, UserID: unrelated, ChannelID: other.ID},
	} {
		if err := nh.Submit(ctx, step); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	if err := nh.Submit(ctx, StartTyping{HubID: domain.ID, ChannelID: chID, UserID: typist}); err != nil {
		t.Fatalf("Submit StartTyping: %v", err)
	}

	fa := waitFrame(t, wa.frames)
	fb := waitFrame(t, wb.frames)
	if fa.Op != opTypingStart || fb.Op != opTypingStart {
		t.Fatalf("expected typing_start frames, got %q and %q", fa.Op, fb.Op)
	}
	assertNoFrame(t, wu.frames)
}

func TestNewMessageIsSignedLoggedIndexedAndBroadcast(t *testing.T) {
	dir := t.TempDir()
	key, err := signer.NewKeyPair("test-server")
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	nh := New(dir, key, index.DefaultCommitThreshold)
	defer nh.Shutdown()
	ctx := context.Background()

	owner := id.New()
	domain := hub.New("h", owner)
	domain.UserJoin(owner, "owner")
	ch, err := domain.NewChannel(owner, "general")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	idx, err := index.New(ctx, dir, domain.ID, ch.ID, index.DefaultCommitThreshold)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	defer idx.Shutdown(ctx)
	nh.RegisterHub(domain)
	nh.RegisterChannelIndex(domain.ID, ch.ID, idx)

	sub := id.New()
	w := newRecordingWriter()
	if err := nh.Submit(ctx, Connect{ConnID: sub, Writer: w}); err != nil {
		t.Fatalf("Submit Connect: %v", err)
	}
	if err := nh.Submit(ctx, SubscribeChannel{ConnID: sub, HubID: domain.ID, UserID: owner, ChannelID: ch.ID}); err != nil {
		t.Fatalf("Submit SubscribeChannel: %v", err)
	}

	msg := message.Message{
		ID: id.New(), HubID: domain.ID, ChannelID: ch.ID, Sender: owner,
		CreatedAtMs: time.Now().UnixMilli(), Content: "hello there",
	}
	if err := nh.Submit(ctx, NewMessage{HubID: domain.ID, ChannelID: ch.ID, Msg: msg}); err != nil {
		t.Fatalf("Submit NewMessage: %v", err)
	}

	frame := waitFrame(t, w.frames)
	if frame.Op != opChatMessage {
		t.Fatalf("expected chat_message frame, got %q", frame.Op)
	}
}

func TestHubUpdatedBroadcastsToHubSubscribersOnly(t *testing.T) {
	dir := t.TempDir()
	key, _ := signer.NewKeyPair("test")
	nh := New(dir, key, index.DefaultCommitThreshold)
	defer nh.Shutdown()
	ctx := context.Background()

	owner := id.New()
	domain := hub.New("h", owner)
	domain.UserJoin(owner, "owner")
	hubID := domain.ID
	nh.RegisterHub(domain)

	subUser := id.New()
	if _, err := domain.UserJoin(subUser, "member"); err != nil {
		t.Fatalf("UserJoin: %v", err)
	}

	sub, nonSub := id.New(), id.New()
	w, wOther := newRecordingWriter(), newRecordingWriter()
	nh.Submit(ctx, Connect{ConnID: sub, Writer: w})
	nh.Submit(ctx, Connect{ConnID: nonSub, Writer: wOther})
	nh.Submit(ctx, SubscribeHub{ConnID: sub, HubID: hubID, UserID: subUser})

	nh.Submit(ctx, HubUpdated{HubID: hubID, Type: MemberJoined})

	frame := waitFrame(t, w.frames)
	if frame.Op != opHubUpdate {
		t.Fatalf("expected hub_update frame, got %q", frame.Op)
	}
	assertNoFrame(t, wOther.frames)
}

package index

import (
	"testing"
	"time"

	"github.com/nexushub/server/internal/channel"
	"github.com/nexushub/server/internal/hub"
	"github.com/nexushub/server/internal/id"
)

func newTestHub(t *testing.T, dir string, owner id.ID) *hub.Hub {
	t.Helper()
	h := hub.New("test hub", owner)
	h.UserJoin(owner, "owner")
	return h
}

func addTestChannel(t *testing.T, h *hub.Hub, owner id.ID) id.ID {
	t.Helper()
	ch, err := h.NewChannel(owner, "general")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch.ID
}

func appendLoggedMessage(t *testing.T, dir string, hubID, channelID id.ID, content string) {
	t.Helper()
	log, err := channel.Open(dir, hubID, channelID)
	if err != nil {
		t.Fatalf("channel.Open: %v", err)
	}
	entry := channel.Entry{
		ID:             id.New(),
		CreatedAtMs:    time.Now().UnixMilli(),
		ArmoredMessage: `{"content":"` + content + `"}`,
	}
	if err := log.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

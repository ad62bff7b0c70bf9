package index

import (
	"context"
	"testing"
	"time"

	"github.com/nexushub/server/internal/id"
	"github.com/nexushub/server/internal/message"
)

func TestIndexAndSearch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	hubID := id.New()
	chID := id.New()

	mi, err := New(ctx, dir, hubID, chID, DefaultCommitThreshold)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mi.Shutdown(ctx)

	msg := message.Message{
		ID:          id.New(),
		HubID:       hubID,
		ChannelID:   chID,
		Sender:      id.New(),
		CreatedAtMs: time.Now().UnixMilli(),
		Content:     "the quick brown fox",
	}
	if err := mi.IndexMessage(ctx, msg); err != nil {
		t.Fatalf("IndexMessage: %v", err)
	}

	hits, err := mi.Search(ctx, "quick", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].MessageID != msg.ID {
		t.Fatalf("expected exactly one hit for the indexed message, got %+v", hits)
	}
}

func TestSearchForcesFlushBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	hubID := id.New()
	chID := id.New()

	mi, err := New(ctx, dir, hubID, chID, 100) // high threshold so a natural flush never happens
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mi.Shutdown(ctx)

	msg := message.Message{
		ID: id.New(), HubID: hubID, ChannelID: chID, Sender: id.New(),
		CreatedAtMs: time.Now().UnixMilli(), Content: "unflushed searchable content",
	}
	if err := mi.IndexMessage(ctx, msg); err != nil {
		t.Fatalf("IndexMessage: %v", err)
	}

	hits, err := mi.Search(ctx, "unflushed", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("search should force a flush of the pending batch before querying, got %d hits", len(hits))
	}
}

func TestCrashRecoveryReplaysUnindexedEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	owner := id.New()

	h := newTestHub(t, dir, owner)
	chID := addTestChannel(t, h, owner)
	if err := h.Save(dir); err != nil {
		t.Fatalf("Save hub: %v", err)
	}

	appendLoggedMessage(t, dir, h.ID, chID, "recoverable searchable text")

	mi, err := New(ctx, dir, h.ID, chID, DefaultCommitThreshold)
	if err != nil {
		t.Fatalf("New (recovery): %v", err)
	}
	defer mi.Shutdown(ctx)

	hits, err := mi.Search(ctx, "recoverable", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected crash recovery to index the pre-existing log entry, got %d hits", len(hits))
	}
}

// TestCrashRecoveryIsolatedPerChannel confirms a hub-wide journal cursor
// cannot leak across channels now that each channel owns its own index and
// journal: a second channel's log with no journal yet must still recover
// fully, rather than being treated as already-caught-up by another
// channel's cursor.
func TestCrashRecoveryIsolatedPerChannel(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	owner := id.New()

	h := newTestHub(t, dir, owner)
	chA := addTestChannel(t, h, owner)
	chB, err := h.NewChannel(owner, "second")
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := h.Save(dir); err != nil {
		t.Fatalf("Save hub: %v", err)
	}

	appendLoggedMessage(t, dir, h.ID, chA, "alpha channel content")
	appendLoggedMessage(t, dir, h.ID, chB.ID, "bravo channel content")

	miA, err := New(ctx, dir, h.ID, chA, DefaultCommitThreshold)
	if err != nil {
		t.Fatalf("New chA: %v", err)
	}
	defer miA.Shutdown(ctx)
	miB, err := New(ctx, dir, h.ID, chB.ID, DefaultCommitThreshold)
	if err != nil {
		t.Fatalf("New chB: %v", err)
	}
	defer miB.Shutdown(ctx)

	hitsA, err := miA.Search(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("Search chA: %v", err)
	}
	if len(hitsA) != 1 {
		t.Fatalf("expected channel A's own message recovered, got %d hits", len(hitsA))
	}
	hitsB, err := miB.Search(ctx, "bravo", 10)
	if err != nil {
		t.Fatalf("Search chB: %v", err)
	}
	if len(hitsB) != 1 {
		t.Fatalf("expected channel B's own message recovered independently of channel A, got %d hits", len(hitsB))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	mi, err := New(ctx, dir, id.New(), id.New(), DefaultCommitThreshold)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := mi.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := mi.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown should be a no-op, got: %v", err)
	}
}

package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexushub/server/internal/id"
)

// snapshot is the on-disk representation of a Hub. As DESIGN.md's Open
// Question (a) notes, the original implementation split hub state across
// two folders (HUB_DATA_FOLDER for live process state, HUB_INFO_FOLDER for
// the persisted JSON the indexer's crash recovery re-reads); this rework
// unifies both under a single InfoPath so there is exactly one on-disk
// location to keep consistent.
type snapshot struct {
	ID           id.ID               `json:"id"`
	Name         string              `json:"name"`
	OwnerID      id.ID               `json:"owner_id"`
	Created      time.Time           `json:"created"`
	DefaultGroup id.ID               `json:"default_group"`
	Members      map[id.ID]*Member   `json:"members"`
	Groups       map[id.ID]*Group    `json:"groups"`
	Channels     map[id.ID]*Channel  `json:"channels"`
	Bans         []id.ID             `json:"bans"`
	Mutes        []id.ID             `json:"mutes"`
}

// InfoRoot is the single root directory under which every hub's persisted
// JSON and per-channel message logs live: data/hubs/info/<hub-hex>/.
const InfoRoot = "hubs/info"

// InfoPath returns the directory holding hubID's persisted state.
func InfoPath(dataDir string, hubID id.ID) string {
	return filepath.Join(dataDir, InfoRoot, hubID.Hex())
}

func hubFilePath(dataDir string, hubID id.ID) string {
	return filepath.Join(InfoPath(dataDir, hubID), "hub.json")
}

// Save atomically persists h to dataDir by writing to a temp file in the
// same directory and renaming over the destination, so a crash mid-write
// never leaves a truncated hub.json for the next boot's Load to read.
func (h *Hub) Save(dataDir string) error {
	h.mu.RLock()
	snap := snapshot{
		ID:           h.ID,
		Name:         h.Name,
		OwnerID:      h.OwnerID,
		Created:      h.Created,
		DefaultGroup: h.DefaultGroup,
		Members:      h.members,
		Groups:       h.groups,
		Channels:     h.channels,
	}
	for u := range h.bans {
		snap.Bans = append(snap.Bans, u)
	}
	for u := range h.mutes {
		snap.Mutes = append(snap.Mutes, u)
	}
	h.mu.RUnlock()

	dir := InfoPath(dataDir, h.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hub: create info dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "hub-*.json.tmp")
	if err != nil {
		return fmt.Errorf("hub: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("hub: encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("hub: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("hub: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, hubFilePath(dataDir, h.ID)); err != nil {
		return fmt.Errorf("hub: rename into place: %w", err)
	}
	return nil
}

// Load reads a hub previously written by Save.
func Load(dataDir string, hubID id.ID) (*Hub, error) {
	data, err := os.ReadFile(hubFilePath(dataDir, hubID))
	if err != nil {
		return nil, fmt.Errorf("hub: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("hub: decode snapshot: %w", err)
	}

	h := &Hub{
		ID:           snap.ID,
		Name:         snap.Name,
		OwnerID:      snap.OwnerID,
		Created:      snap.Created,
		DefaultGroup: snap.DefaultGroup,
		members:      snap.Members,
		groups:       snap.Groups,
		channels:     snap.Channels,
		bans:         make(map[id.ID]struct{}),
		mutes:        make(map[id.ID]struct{}),
	}
	if h.members == nil {
		h.members = make(map[id.ID]*Member)
	}
	if h.groups == nil {
		h.groups = make(map[id.ID]*Group)
	}
	if h.channels == nil {
		h.channels = make(map[id.ID]*Channel)
	}
	for _, u := range snap.Bans {
		h.bans[u] = struct{}{}
	}
	for _, u := range snap.Mutes {
		h.mutes[u] = struct{}{}
	}
	return h, nil
}

// ListHubIDs enumerates every hub with persisted state under dataDir, used
// at boot to reload all hubs before the indexer runs crash recovery.
func ListHubIDs(dataDir string) ([]id.ID, error) {
	root := filepath.Join(dataDir, InfoRoot)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hub: list info root: %w", err)
	}
	var out []id.ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hubID, err := id.ParseHex(e.Name())
		if err != nil {
			continue
		}
		out = append(out, hubID)
	}
	return out, nil
}

// Package channel implements the append-only per-channel message log.
// The on-disk format is newline-delimited JSON files under each hub's info
// directory,
// one file per channel, mirroring the append-only, crash-tolerant style the
// original server.rs journal and hub.json persistence both use (append, sync,
// never rewrite in place).
package channel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nexushub/server/internal/id"
)

// Entry is a single logged message: the signed, armored OpenPGP payload plus
// the plain ID and timestamp needed to support RangeFrom without having to
// verify and decode every entry's signature just to find a cursor position.
type Entry struct {
	ID             id.ID  `json:"id"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	ArmoredMessage string `json:"armored_message"`
}

// Log is an append-only message log scoped to one channel.
type Log struct {
	path string
	mu   sync.Mutex
}

// Path returns the log file location for a channel within a hub's info
// directory: data/hubs/info/<hub-hex>/<channel-hex>/messages.log.
func Path(dataDir string, hubID, channelID id.ID) string {
	return filepath.Join(dataDir, "hubs", "info", hubID.Hex(), channelID.Hex(), "messages.log")
}

// Open returns a Log bound to the given channel, creating its parent
// directory if necessary. The log file itself is created lazily on first
// Append.
func Open(dataDir string, hubID, channelID id.ID) (*Log, error) {
	p := Path(dataDir, hubID, channelID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("channel: create log dir: %w", err)
	}
	return &Log{path: p}, nil
}

// Append writes entry to the end of the log, synced to disk before
// returning so a subsequent crash cannot lose an acknowledged message.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("channel: open log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("channel: marshal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("channel: write entry: %w", err)
	}
	return f.Sync()
}

// All reads every entry in the log, in append order. Used by the indexer's
// crash recovery to replay the whole log when the channel has no journal
// yet.
func (l *Log) All() ([]Entry, error) {
	return l.RangeFrom(id.Nil)
}

// RangeFrom reads every entry appended strictly after afterID. Passing the
// nil ID returns the entire log. Entries are matched by scanning in order
// and skipping until afterID is seen, rather than by numeric offset, since
// IDs are opaque UUIDs with no ordering guarantee of their own — callers
// rely on append order, not ID comparison, to define "after".
func (l *Log) RangeFrom(afterID id.ID) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("channel: open log: %w", err)
	}
	defer f.Close()

	var out []Entry
	seenCursor := afterID.IsNil()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("channel: decode entry: %w", err)
		}
		if !seenCursor {
			if e.ID == afterID {
				seenCursor = true
			}
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("channel: scan log: %w", err)
	}
	return out, nil
}

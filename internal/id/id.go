// Package id provides the 128-bit identifier type shared by every domain
// object (hubs, members, channels, messages, groups) and the little-endian
// journal encoding used by the message indexer for crash recovery.
package id

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// ID is a 128-bit identifier. It is a UUID v4 in practice, but callers should
// treat it as an opaque fixed-width value rather than relying on UUID
// semantics.
type ID [16]byte

// Nil is the zero-value ID, used as a sentinel for "no ID".
var Nil ID

// New generates a new random v4 ID.
func New() ID {
	return ID(uuid.New())
}

// String renders the ID in canonical UUID form.
func (i ID) String() string {
	return uuid.UUID(i).String()
}

// Hex renders the ID as a plain 32-character lowercase hex string, the form
// used for on-disk path segments (see internal/hub path helpers).
func (i ID) Hex() string {
	return hex.EncodeToString(i[:])
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool {
	return i == Nil
}

// Parse decodes a canonical UUID string into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

// ParseHex decodes a 32-character hex string (no dashes) into an ID.
func ParseHex(s string) (ID, error) {
	var out ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, err
	}
	if len(b) != len(out) {
		return Nil, hex.ErrLength
	}
	copy(out[:], b)
	return out, nil
}

// MarshalText implements encoding.TextMarshaler so ID round-trips through
// JSON as a canonical UUID string.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// JournalSize is the width in bytes of the last-committed-ID journal record:
// a 128-bit ID plus an 8-byte little-endian millisecond timestamp.
const JournalSize = 24

// EncodeJournal serializes the last durably committed message ID and the
// wall-clock time of that commit into the fixed-width journal record. The
// indexer standardizes on little-endian so the on-disk format is portable
// across architectures without a separate header.
func EncodeJournal(lastID ID, committedAtMs int64) [JournalSize]byte {
	var buf [JournalSize]byte
	copy(buf[0:16], lastID[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(committedAtMs))
	return buf
}

// DecodeJournal parses a journal record written by EncodeJournal.
func DecodeJournal(buf []byte) (lastID ID, committedAtMs int64, ok bool) {
	if len(buf) != JournalSize {
		return Nil, 0, false
	}
	copy(lastID[:], buf[0:16])
	committedAtMs = int64(binary.LittleEndian.Uint64(buf[16:24]))
	return lastID, committedAtMs, true
}

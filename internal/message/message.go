// Package message defines the wire-level chat message and its validation
// rules. The teacher's Postgres-backed Message (author joins, Repository
// interface) is replaced here with the spec's flat, signature-carrying
// value: a Message is never queried from a database, only ever decoded from
// a channel log entry's armored payload or encoded before signing.
package message

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/nexushub/server/internal/errkind"
	"github.com/nexushub/server/internal/id"
)

// MaxContentBytes is the hard cap on message content size, in bytes.
const MaxContentBytes = 8192

// Message is the payload signed and logged for a single chat message.
type Message struct {
	ID          id.ID  `json:"id"`
	HubID       id.ID  `json:"hub_id"`
	ChannelID   id.ID  `json:"channel_id"`
	Sender      id.ID  `json:"sender"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Content     string `json:"content"`
}

// ValidateContent enforces the non-empty, byte-capped content rule that the
// send_message frame handler applies to incoming content.
func ValidateContent(content string) error {
	if content == "" {
		return errkind.New(errkind.KindInvalidArgument, "message content must not be empty")
	}
	if len(content) > MaxContentBytes {
		return errkind.New(errkind.KindInvalidArgument, "message content exceeds the maximum size")
	}
	if !utf8.ValidString(content) {
		return errkind.New(errkind.KindInvalidArgument, "message content must be valid UTF-8")
	}
	return nil
}

// ClampLimit bounds a client-requested page size to a sane range, the same
// clamp the teacher's message package applies before hitting storage.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Encode serializes m to the JSON form stored inside the OpenPGP literal
// packet (see internal/signer).
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses the JSON form produced by Encode.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errkind.Wrap(errkind.KindInvalidArgument, "decode message", err)
	}
	return m, nil
}

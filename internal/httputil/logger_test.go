package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexushub/server/internal/id"
)

func TestConnLoggerLevelByOutcome(t *testing.T) {
	tests := []struct {
		name      string
		outcome   Outcome
		err       error
		wantLevel string
	}{
		{name: "clean close logs at info", outcome: OutcomeClean, wantLevel: "info"},
		{name: "protocol error logs at warn", outcome: OutcomeProtocolError, err: errors.New("bad frame"), wantLevel: "warn"},
		{name: "internal error logs at error", outcome: OutcomeInternalError, err: errors.New("index write failed"), wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			cl := NewConnLogger(logger, id.New())
			buf.Reset() // discard the "opened" line, only the close outcome is under test
			cl.Close(tt.outcome, tt.err)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse log entry: %v\nraw: %s", err, buf.String())
			}

			if got := entry["level"]; got != tt.wantLevel {
				t.Errorf("level = %q, want %q", got, tt.wantLevel)
			}
			if entry["message"] != "Connection closed" {
				t.Errorf("message = %q, want %q", entry["message"], "Connection closed")
			}
			for _, field := range []string{"conn_id", "lifetime"} {
				if _, ok := entry[field]; !ok {
					t.Errorf("missing field %q in log entry", field)
				}
			}
			_, hasErr := entry["error"]
			if tt.err != nil && !hasErr {
				t.Error("expected error field but it was absent")
			}
			if tt.err == nil && hasErr {
				t.Error("unexpected error field present")
			}
		})
	}
}

func TestNewConnLoggerLogsOpenAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	connID := id.New()
	NewConnLogger(logger, connID)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v\nraw: %s", err, buf.String())
	}
	if entry["level"] != "info" {
		t.Errorf("level = %q, want %q", entry["level"], "info")
	}
	if entry["conn_id"] != connID.String() {
		t.Errorf("conn_id = %q, want %q", entry["conn_id"], connID.String())
	}
	if entry["message"] != "Connection opened" {
		t.Errorf("message = %q, want %q", entry["message"], "Connection opened")
	}
}

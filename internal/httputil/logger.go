// Package httputil provides connection-lifecycle logging for WebSocket
// gateway connections, generalized from the teacher's Fiber RequestLogger
// middleware: the same level-by-outcome decision (Info for a clean close,
// Warn for a client-side protocol error, Error for anything internal) now
// applies to a connection's open/close event rather than an HTTP
// request/response. Since the HTTP/GraphQL surface itself is out of scope
// (see SPEC_FULL.md Non-goals), there is no request router left to
// instrument — only the single gateway upgrade endpoint.
package httputil

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nexushub/server/internal/id"
)

// Outcome classifies how a gateway connection ended, determining the log
// level ConnLogger emits at.
type Outcome int

const (
	// OutcomeClean is a normal client-initiated disconnect.
	OutcomeClean Outcome = iota
	// OutcomeProtocolError is a malformed or rejected client frame.
	OutcomeProtocolError
	// OutcomeInternalError is a failure on the server's side (index, log,
	// or signing failure).
	OutcomeInternalError
)

// ConnLogger logs the lifecycle of one gateway connection: its open and its
// close, with the close logged at a level derived from outcome the same way
// the teacher's levelForStatus derives a level from an HTTP status code.
type ConnLogger struct {
	logger zerolog.Logger
	connID id.ID
	opened time.Time
}

// NewConnLogger starts timing a connection and logs its open at Info.
func NewConnLogger(logger zerolog.Logger, connID id.ID) *ConnLogger {
	logger.Info().Str("conn_id", connID.String()).Msg("Connection opened")
	return &ConnLogger{logger: logger, connID: connID, opened: time.Now()}
}

// Close logs the connection's end, including its lifetime, at the level
// outcome implies. err, if non-nil, is attached to the event.
func (c *ConnLogger) Close(outcome Outcome, err error) {
	event := levelForOutcome(c.logger, outcome)
	event.
		Str("conn_id", c.connID.String()).
		Dur("lifetime", time.Since(c.opened))
	if err != nil {
		event.Err(err)
	}
	event.Msg("Connection closed")
}

// levelForOutcome selects the appropriate log level based on how a
// connection ended: Error for internal failures, Warn for client protocol
// errors, and Info for a clean close.
func levelForOutcome(logger zerolog.Logger, outcome Outcome) *zerolog.Event {
	switch outcome {
	case OutcomeInternalError:
		return logger.Error()
	case OutcomeProtocolError:
		return logger.Warn()
	default:
		return logger.Info()
	}
}

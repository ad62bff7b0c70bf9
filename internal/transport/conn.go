// Package transport implements the WebSocket connection lifecycle: split
// read/write pumps, idempotent close, and bounded outbound queuing. It plays
// the same role as the teacher's gateway.Client, generalized from a
// fasthttp/gofiber-routed Client to a direct net/http + fasthttp/websocket
// upgrade, since the HTTP/GraphQL surface that made fiber's router necessary
// is out of scope here (see SPEC_FULL.md Non-goals).
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/nexushub/server/internal/errkind"
	"github.com/nexushub/server/internal/id"
)

// upgrader is the websocket.Upgrader with the CheckOrigin policy and buffer
// sizes the server wants.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageHandler processes one decoded inbound frame for a connection.
// Returning an error ends the read pump, which closes the connection; no
// close frame is sent.
type MessageHandler func(ctx context.Context, connID id.ID, payload []byte) error

// Conn wraps a single upgraded WebSocket, exposing the bounded Enqueue
// surface internal/registry.WriterHandle needs plus the read/write pump
// goroutines that drive it.
type Conn struct {
	ID   id.ID
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	pingInterval time.Duration
	pongTimeout  time.Duration
	maxMessage   int64
}

// Options configures a Conn's pump timings and limits.
type Options struct {
	WriteQueueDepth int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
}

// Upgrade promotes an HTTP request to a WebSocket connection and wraps it in
// a Conn, ready for Serve.
func Upgrade(w http.ResponseWriter, r *http.Request, connID id.ID, opts Options) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInvalidArgument, "upgrade to websocket", err)
	}
	if opts.WriteQueueDepth <= 0 {
		opts.WriteQueueDepth = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 8192
	}

	ws.SetReadLimit(opts.MaxMessageBytes)

	return &Conn{
		ID:           connID,
		ws:           ws,
		send:         make(chan []byte, opts.WriteQueueDepth),
		done:         make(chan struct{}),
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		maxMessage:   opts.MaxMessageBytes,
	}, nil
}

// Enqueue satisfies registry.WriterHandle. A full send queue or a closed
// connection drops the message rather than blocking the caller — delivery
// is best-effort (see SPEC_FULL.md Non-goals).
func (c *Conn) Enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errkind.New(errkind.KindUnavailable, "connection is closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errkind.New(errkind.KindUnavailable, "write queue full, dropping message")
	}
}

// Close idempotently shuts down the connection's pumps and underlying
// socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Serve runs the read and write pumps until the connection closes or ctx is
// canceled. handler is invoked once per inbound frame from the read pump;
// its return value is logged by the caller's own logging middleware, not by
// this package (see internal/httputil for the teacher's zerolog pattern).
func (c *Conn) Serve(ctx context.Context, handler MessageHandler) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()
	go func() {
		defer wg.Done()
		c.readPump(ctx, handler)
	}()
	wg.Wait()
}

func (c *Conn) readPump(ctx context.Context, handler MessageHandler) {
	defer c.Close()
	c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if handler == nil {
			continue
		}
		if err := handler(ctx, c.ID, payload); err != nil {
			return
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.pingInterval))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.pingInterval))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Package transport implements the WebSocket half of the Connection
// Registry (C7): connection handshake, the bounded outbound queue per
// connection, and the read/write pump goroutines that drain it to the
// wire.
//
// Grounded on internal/v1/session/client.go's wsConnection interface and
// readPump/writePump goroutine pair, generalized from a protobuf
// BinaryMessage codec to the JSON client/server frame formats in spec.md
// §6, and from an unbounded best-effort `send chan []byte` to the
// drop-oldest-vs-block-with-timeout policy spec.md §4.9 requires (the
// policy split itself lives in internal/v1/delivery; this file only
// implements the outbox primitive that policy drives).
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
	"github.com/mythosmud/realtimecore/internal/v1/logging"
	"github.com/mythosmud/realtimecore/internal/v1/metrics"

	"go.uber.org/zap"
)

// wsConn is the subset of *websocket.Conn this package depends on,
// matching a wsConnection-style testing seam.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Connection is one attached WebSocket connection: the transport side of
// a presence.Connection.
type Connection struct {
	ID       domain.ConnID
	PlayerID domain.PlayerID
	Token    string

	conn wsConn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	queueSize int
}

// NewConnection wraps conn for a given connection/player pair.
func NewConnection(id domain.ConnID, playerID domain.PlayerID, token string, conn wsConn, queueSize int) *Connection {
	return &Connection{
		ID:        id,
		PlayerID:  playerID,
		Token:     token,
		conn:      conn,
		send:      make(chan []byte, queueSize),
		closed:    make(chan struct{}),
		queueSize: queueSize,
	}
}

// Enqueue implements delivery.Outbox: a non-blocking send that evicts the
// oldest queued frame to make room for frame when the queue is full
// (spec.md §4.9/§8 drop-oldest policy), rather than dropping frame itself.
// It only reports false once the connection has closed.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		metrics.OutboundQueueDepth.WithLabelValues("drop_oldest").Observe(float64(len(c.send)))
		return true
	case <-c.closed:
		return false
	default:
	}

	select {
	case <-c.send:
		metrics.DroppedFrames.WithLabelValues("queue_full").Inc()
	default:
	}

	select {
	case c.send <- frame:
		metrics.OutboundQueueDepth.WithLabelValues("drop_oldest").Observe(float64(len(c.send)))
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

// EnqueueBlocking implements delivery.Outbox: blocks until the frame is
// enqueued, ctx is done, or the connection closes.
func (c *Connection) EnqueueBlocking(ctx context.Context, frame []byte) bool {
	select {
	case c.send <- frame:
		metrics.OutboundQueueDepth.WithLabelValues("block").Observe(float64(len(c.send)))
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}

// Detach implements delivery.Outbox: closes the connection's transport,
// unblocking its read/write pumps.
func (c *Connection) Detach() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Close implements presence.Transport, letting the Connection Registry
// close a connection's transport directly.
func (c *Connection) Close() error {
	c.Detach()
	return nil
}

// Ping implements health.Pinger by issuing a control-frame ping and
// waiting (via the pong handler installed in writePump) is not directly
// observable here; liveness is instead tracked by pongWait expiry in
// writePump, so Ping simply reports whether the connection is still open.
func (c *Connection) Ping(ctx context.Context) error {
	select {
	case <-c.closed:
		return domain.ErrConnectionDead
	default:
		return nil
	}
}

// Open reports whether the connection's transport is still live, for the
// Cleaner's dead-transport sweep.
func (c *Connection) Open() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// ReadPump reads inbound frames and hands each to handle until the
// connection closes or a read error occurs, then calls onClose exactly
// once. It runs until the underlying connection is closed; callers launch
// it as its own goroutine.
func (c *Connection) ReadPump(ctx context.Context, handle func(ctx context.Context, data []byte), onClose func()) {
	defer func() {
		c.Detach()
		onClose()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(ctx, data)
	}
}

// WritePump drains the outbox to the wire and sends periodic pings, until
// the connection closes.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "write pump: send failed", zap.Error(err), zap.String("conn_id", string(c.ID)))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

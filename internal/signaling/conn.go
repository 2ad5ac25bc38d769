package signaling

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voicesync/voicesync/internal/protocol"
)

// Compile-time interface assertion.
var _ Outbox = (*conn)(nil)

// conn wraps one accepted websocket connection. Outbound messages go through
// a bounded queue drained by a dedicated write loop, so the dispatcher never
// blocks on a slow recipient.
type conn struct {
	peerID string
	ws     *websocket.Conn
	log    *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(peerID string, ws *websocket.Conn, queueSize int, log *slog.Logger) *conn {
	return &conn{
		peerID: peerID,
		ws:     ws,
		log:    log,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// Send enqueues msg for delivery. It reports false when the queue is full, in
// which case the connection is closed; an unread queue of this depth means
// the recipient is gone or hopelessly behind.
func (c *conn) Send(msg any) bool {
	data, err := protocol.Marshal(msg)
	if err != nil {
		c.log.Error("dropping unencodable message", "peer", c.peerID, "error", err)
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send queue overflow, closing connection", "peer", c.peerID)
		c.close(websocket.StatusPolicyViolation, "send queue overflow")
		return false
	}
}

// writeLoop drains the send queue onto the wire. It exits when the queue
// producer side is shut down or a write fails.
func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case data := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				c.log.Debug("write failed", "peer", c.peerID, "error", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			c.close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// close tears down the connection exactly once. Safe from any goroutine.
func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}

// Package client implements the VoiceSync client side: the signaling
// transport with keep-alive and reconnection, and the session coordinator
// that owns signaling, peers, and audio.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicesync/voicesync/internal/config"
	"github.com/voicesync/voicesync/internal/protocol"
	"github.com/voicesync/voicesync/pkg/types"
)

// SignalingTransport is the session's view of the signaling channel.
// [Transport] is the production implementation.
type SignalingTransport interface {
	// Connect opens the channel. It returns a CONNECT_FAILED signaling error
	// when the initial handshake fails.
	Connect(ctx context.Context) error

	// Disconnect closes the channel intentionally, suppressing reconnection.
	Disconnect()

	// Send transmits one message. It drops silently when the channel is not
	// open.
	Send(msg any)

	// SetHandlers registers the inbound callbacks. onEvent receives each
	// parsed frame with its type tag; onClose fires once when the channel is
	// gone for good — err is nil after an intentional disconnect and a
	// CONN_LOST signaling error after reconnection is exhausted.
	SetHandlers(onEvent func(msgType string, raw []byte), onClose func(err error))
}

// Compile-time interface assertion.
var _ SignalingTransport = (*Transport)(nil)

// TransportOption configures a [Transport].
type TransportOption func(*Transport)

// WithTransportLogger sets the logger. Defaults to [slog.Default].
func WithTransportLogger(log *slog.Logger) TransportOption {
	return func(t *Transport) { t.log = log }
}

// WithKeepalive sets the keep-alive probe interval. Zero disables probes.
func WithKeepalive(interval time.Duration) TransportOption {
	return func(t *Transport) { t.keepalive = interval }
}

// WithReconnect sets the pause between reconnection attempts and how many
// are made before giving up.
func WithReconnect(delay time.Duration, maxAttempts int) TransportOption {
	return func(t *Transport) {
		t.reconnectDelay = delay
		t.maxReconnects = maxAttempts
	}
}

// Transport maintains the websocket to the signaling server. It frames
// outbound messages as JSON text, parses inbound frames and hands them to
// the event handler, pings the server on an interval, and transparently
// reconnects after unexpected closes.
type Transport struct {
	url            string
	log            *slog.Logger
	keepalive      time.Duration
	reconnectDelay time.Duration
	maxReconnects  int

	mu          sync.Mutex
	ws          *websocket.Conn
	open        bool
	intentional bool
	onEvent     func(msgType string, raw []byte)
	onClose     func(err error)
	closeOnce   sync.Once
	runCtx      context.Context
	runCancel   context.CancelFunc
}

// NewTransport creates a transport for the given websocket URL.
func NewTransport(url string, opts ...TransportOption) *Transport {
	t := &Transport{
		url:            url,
		log:            slog.Default(),
		keepalive:      config.DefaultKeepaliveInterval,
		reconnectDelay: config.DefaultReconnectDelay,
		maxReconnects:  config.DefaultMaxReconnectAttempts,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetHandlers registers the inbound callbacks. Call before Connect.
func (t *Transport) SetHandlers(onEvent func(string, []byte), onClose func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = onEvent
	t.onClose = onClose
}

// Connect dials the server and starts the read and keep-alive loops. The
// supplied ctx governs the dial only; the connection then lives until
// [Transport.Disconnect] or reconnection exhaustion.
func (t *Transport) Connect(ctx context.Context) error {
	ws, err := t.dial(ctx)
	if err != nil {
		return types.NewSignalingError(types.CodeConnectFailed,
			fmt.Sprintf("connect to %s: %v", t.url, err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.ws = ws
	t.open = true
	t.runCtx = runCtx
	t.runCancel = cancel
	t.mu.Unlock()

	t.log.Debug("signaling connected", "url", t.url)
	go t.readLoop(runCtx, ws)
	if t.keepalive > 0 {
		go t.keepaliveLoop(runCtx)
	}
	return nil
}

// Disconnect closes the channel and suppresses reconnection. Safe to call
// more than once and before Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.intentional = true
	ws := t.ws
	t.open = false
	cancel := t.runCancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	t.fireClose(nil)
}

// Send marshals and transmits msg. Messages are dropped silently when the
// channel is not open, matching the fire-and-forget protocol semantics.
func (t *Transport) Send(msg any) {
	t.mu.Lock()
	ws, open := t.ws, t.open
	t.mu.Unlock()
	if !open {
		t.log.Debug("dropping send while disconnected")
		return
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		t.log.Error("dropping unencodable message", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.log.Warn("send failed", "error", err)
	}
}

// ─── Loops ───────────────────────────────────────────────────────────────────

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := websocket.Dial(ctx, t.url, nil)
	return ws, err
}

// readLoop pumps inbound frames into the event handler until the connection
// dies, then hands off to the reconnect path.
func (t *Transport) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			t.handleReadFailure(ctx)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		t.dispatch(data)
	}
}

// dispatch parses one frame and re-emits it as an event named after its type
// tag. Non-JSON frames are logged and dropped.
func (t *Transport) dispatch(raw []byte) {
	msgType, err := protocol.PeekType(raw)
	if err != nil {
		t.log.Debug("dropping non-JSON frame", "error", err)
		return
	}

	t.mu.Lock()
	handler := t.onEvent
	t.mu.Unlock()
	if handler != nil {
		handler(msgType, raw)
	}
}

// keepaliveLoop pings the server on the configured interval. Send failures
// are logged only; liveness relies on the transport itself.
func (t *Transport) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(t.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Send(protocol.Ping{Type: protocol.TypePing})
		case <-ctx.Done():
			return
		}
	}
}

// handleReadFailure runs after an unexpected read error: pause, redial, and
// resume, up to the attempt limit. An intentional disconnect skips all of it.
func (t *Transport) handleReadFailure(ctx context.Context) {
	t.mu.Lock()
	if t.intentional {
		t.mu.Unlock()
		return
	}
	t.open = false
	t.mu.Unlock()

	for attempt := 1; attempt <= t.maxReconnects; attempt++ {
		select {
		case <-time.After(t.reconnectDelay):
		case <-ctx.Done():
			return
		}

		t.mu.Lock()
		if t.intentional {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		t.log.Info("reconnecting to signaling server", "attempt", attempt, "max", t.maxReconnects)
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ws, err := t.dial(dialCtx)
		cancel()
		if err != nil {
			t.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		t.mu.Lock()
		t.ws = ws
		t.open = true
		t.mu.Unlock()
		t.log.Info("signaling reconnected", "attempt", attempt)
		go t.readLoop(ctx, ws)
		return
	}

	t.fireClose(types.NewSignalingError(types.CodeConnLost,
		fmt.Sprintf("connection lost after %d reconnect attempts", t.maxReconnects)))
}

// fireClose invokes the close handler exactly once for the transport's
// lifetime.
func (t *Transport) fireClose(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		handler := t.onClose
		t.mu.Unlock()
		if handler != nil {
			handler(err)
		}
	})
}

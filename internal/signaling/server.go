package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicesync/voicesync/internal/config"
	"github.com/voicesync/voicesync/internal/health"
	"github.com/voicesync/voicesync/internal/observe"
	"github.com/voicesync/voicesync/internal/protocol"
)

// shutdownTimeout bounds graceful HTTP shutdown once the run context ends.
const shutdownTimeout = 5 * time.Second

// Server is the VoiceSync rendezvous server. It serves the websocket
// signaling endpoint at /ws and the HTTP surface (/health, /ping, /healthz,
// /metrics) on the same listener.
type Server struct {
	cfg        config.ServerConfig
	log        *slog.Logger
	metrics    *observe.Metrics
	dispatcher *Dispatcher
	health     *health.Handler
}

// NewServer creates a server over state. A nil logger means [slog.Default].
func NewServer(cfg config.ServerConfig, state *State, log *slog.Logger, metrics *observe.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		dispatcher: NewDispatcher(state, log, metrics),
		health:     health.New(),
	}
}

// Handler returns the full HTTP handler, exported so tests can mount it on
// an httptest server.
func (s *Server) Handler() http.Handler {
	httpMux := http.NewServeMux()
	s.health.Register(httpMux)
	httpMux.Handle("GET /metrics", promhttp.Handler())
	wrapped := observe.Middleware(s.metrics)(httpMux)

	// The websocket route stays outside the middleware: the status-recording
	// wrapper would hide the Hijacker interface the upgrade needs.
	root := http.NewServeMux()
	root.HandleFunc("GET /ws", s.handleWS)
	root.Handle("/", wrapped)
	return root
}

// Run binds the configured listen address and serves until ctx is cancelled,
// then shuts down gracefully. A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("signaling: bind %s: %w", s.cfg.ListenAddr, err)
	}
	s.log.Info("signaling server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	srv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var serveErr error
		if tls := s.cfg.TLS; tls != nil {
			serveErr = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			serveErr = srv.Serve(ln)
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// handleWS upgrades the connection, assigns a peer ID, and pumps inbound
// frames into the dispatcher until the connection dies.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Clients are terminal programs, not browsers; origin checks would
		// only reject legitimate connections.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	peerID := uuid.NewString()
	c := newConn(peerID, ws, s.cfg.SendQueueSize, s.log)

	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	s.log.Info("connection accepted", "peer", peerID, "remote", r.RemoteAddr)

	go c.writeLoop(ctx)
	c.Send(protocol.Connected{Type: protocol.TypeConnected, PeerID: peerID})

	s.readLoop(ctx, c)

	c.close(websocket.StatusNormalClosure, "")
	s.dispatcher.HandleDisconnect(context.WithoutCancel(ctx), peerID)
}

// readLoop reads frames until the connection errors or stays silent past the
// configured read timeout. Binary frames are ignored; the protocol is text.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.ReadTimeout)
		}
		typ, data, err := c.ws.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			s.log.Debug("connection closed", "peer", c.peerID, "error", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.dispatcher.HandleMessage(ctx, c.peerID, c, data)
	}
}

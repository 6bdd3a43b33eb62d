package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibesync/vibesync/signaling-relay/internal/metrics"
	"github.com/vibesync/vibesync/signaling-relay/internal/origin"
	"github.com/vibesync/vibesync/signaling-relay/internal/ratelimit"
)

// Config wires the WebSocket endpoint to a running Hub.
type Config struct {
	Hub     *Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is checked against the upgrade request's Origin header.
	// Empty means same-host only.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int
	PingInterval         time.Duration
	IdleTimeout          time.Duration

	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int

	// StrictPayloads drops offers, answers and candidates whose payload is not
	// a well-formed WebRTC description or candidate.
	StrictPayloads bool

	// Clock drives the per-connection rate limiter. Defaults to wall time.
	Clock ratelimit.Clock
}

// Server upgrades GET /signal to a signaling WebSocket.
type Server struct {
	cfg      Config
	log      *slog.Logger
	origins  origin.Policy
	upgrader websocket.Upgrader

	active atomic.Int64
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = 50
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}

	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{SubprotocolMsgpack, SubprotocolJSON},
			// The origin policy runs before Upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// ActiveConnections is the number of upgraded connections still open.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Wait blocks until every connection handler has returned. Hijacked
// connections are not tracked by http.Server.Shutdown, so callers stop the
// Hub (which closes them) and then Wait.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	if !s.origins.AllowsRequest(r) {
		s.cfg.Metrics.Inc(metrics.ConnectionsRejectedOrigin)
		s.log.Debug("signaling origin rejected", "origin", r.Header.Get("Origin"), "host", r.Host)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	n := s.active.Add(1)
	defer s.active.Add(-1)
	if s.cfg.MaxConnections > 0 && n > int64(s.cfg.MaxConnections) {
		s.cfg.Metrics.Inc(metrics.ConnectionsRejectedLimit)
		s.log.Warn("signaling connection limit reached", "max_connections", s.cfg.MaxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}

	c := &client{
		hub:     s.cfg.Hub,
		conn:    conn,
		handle:  newHandle(),
		codec:   codecFor(conn.Subprotocol()),
		log:     s.log,
		metrics: s.cfg.Metrics,

		limiter:         ratelimit.NewLimiter(s.cfg.Clock, s.cfg.MaxMessagesPerSecond),
		maxMessageBytes: s.cfg.MaxMessageBytes,
		pingInterval:    s.cfg.PingInterval,
		idleTimeout:     s.cfg.IdleTimeout,
		strictPayloads:  s.cfg.StrictPayloads,

		sendCh: make(chan Outbound, s.cfg.SendQueueLength),
	}

	if !s.cfg.Hub.Register(c) {
		writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	s.log.Debug("signaling websocket upgraded",
		"connection_handle", c.handle,
		"subprotocol", conn.Subprotocol(),
		"remote_addr", r.RemoteAddr,
		"request_id", r.Header.Get("X-Request-ID"),
	)

	go c.writePump()
	c.readPump()
}

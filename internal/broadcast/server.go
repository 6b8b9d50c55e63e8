package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indenscale/monoco/internal/buildinfo"
	"github.com/indenscale/monoco/internal/session"
	"github.com/indenscale/monoco/internal/watch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The Broadcaster is local operator tooling (spec.md §6), not a
	// public-facing API; any origin is accepted the same way /healthz is
	// unauthenticated.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Scheduler is the subset of *session.Scheduler the health endpoint
// reports on.
type Scheduler interface {
	GetStats() session.Stats
}

// Server serves the Broadcaster's WebSocket endpoint and the
// unauthenticated local /healthz surface (SPEC_FULL.md §12), modeled on
// connwatch.Manager.Status() and the teacher's api.Server.
type Server struct {
	address string
	port    int
	hub     *Hub
	sched   Scheduler
	watch   *watch.Set
	logger  *slog.Logger
	server  *http.Server
}

// NewServer constructs a Server. sched and watchSet may be nil (health
// reporting degrades gracefully, same pattern as the rest of the
// codebase's optional collaborators).
func NewServer(address string, port int, hub *Hub, sched Scheduler, watchSet *watch.Set, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{address: address, port: port, hub: hub, sched: sched, watch: watchSet, logger: logger}
}

// handler builds the mux served by Start; factored out so tests can
// exercise it directly against an httptest.Server.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	return s.withLogging(mux)
}

// Start begins serving HTTP requests; it blocks until the listener
// exits (mirroring net/http.Server.ListenAndServe).
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the /ws upgrade holds the connection open indefinitely
	}

	addr := s.address
	if addr == "" {
		addr = "127.0.0.1"
	}
	s.logger.Info("starting broadcaster", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("broadcast request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("broadcast: upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.hub.ringSize, s.logger)
	s.hub.register(c)
	s.logger.Info("broadcast: client connected", "remote", r.RemoteAddr, "clients", s.hub.ClientCount())

	go s.writePump(c)
	s.readPump(c)
}

// writePump drains c.send to the socket and keeps the connection alive
// with periodic pings; it returns (and closes the connection) once
// c.closed fires or a write fails.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readPump exists only to detect the client going away (browsers send
// close frames and respond to pings); the Broadcaster is one-directional
// and ignores any data frames the consumer sends.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.unregister(c)
		c.close()
		s.logger.Info("broadcast: client disconnected", "clients", s.hub.ClientCount())
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.sched != nil {
		resp["scheduler"] = s.sched.GetStats()
	}
	if s.watch != nil {
		resp["watchers"] = s.watch.Health()
	}
	resp["broadcast_clients"] = s.hub.ClientCount()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("broadcast: failed to write healthz response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(buildinfo.RuntimeInfo()); err != nil {
		s.logger.Debug("broadcast: failed to write version response", "error", err)
	}
}

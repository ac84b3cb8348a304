package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/config"
	"github.com/fluxstack/fluxlive/internal/live"
)

// Server tracks live WebSocket connections and bridges them to the runtime.
type Server struct {
	runtime *live.Runtime
	cfg     *config.Config
	log     zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewServer creates a connection registry over the given runtime.
func NewServer(runtime *live.Runtime, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		runtime: runtime,
		cfg:     cfg,
		conns:   make(map[string]*Conn),
		log:     logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket adopts a freshly upgraded socket: it registers a Conn and
// runs its pumps. It blocks until the read pump exits, which is what the
// fiber websocket handler expects.
func (s *Server) ServeWebSocket(ws *websocket.Conn) {
	conn := newConn(s, ws, s.log)

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.log.Debug().Str("connectionId", conn.id).Msg("connection accepted")

	go conn.writePump()
	conn.readPump()
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown closes every connection with a going-away frame and waits for the
// registry to empty or the context to expire.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.closeWithCode(CloseShutdown, "server shutting down")
		c.Close()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.ConnCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

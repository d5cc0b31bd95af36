package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/greeter-core/internal/bridge"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// clientConfig converts the websocket config section into socket bounds.
func (s *Server) clientConfig() bridge.ClientConfig {
	return bridge.ClientConfig{
		MaxMessageSize: int64(s.wsCfg.MaxMessageSize),
		PingInterval:   time.Duration(s.wsCfg.PingInterval) * time.Second,
		PongTimeout:    time.Duration(s.wsCfg.PongTimeout) * time.Second,
	}
}

// handleWebSocket upgrades the request and serves the client protocol on it
// until the client leaves or the server closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server shutting down")
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "path", r.URL.Path)
		return
	}

	log := s.logger.With("remote_addr", r.RemoteAddr, "path", r.URL.Path)
	log.Debug("websocket client connected", "clients", s.connections.Count()+1)
	bridge.Serve(s.ctx, conn, s.connections, s.router, s.clientConfig(), log)
	log.Debug("websocket client disconnected", "clients", s.connections.Count())
}

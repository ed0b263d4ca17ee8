// Package relay is a reference broadcast relay for the websocket transport.
// It echoes every frame received on a channel to all connections subscribed
// to that channel, including the sender. No ordering or delivery guarantee
// is offered; the client protocol is designed for that.
package relay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.RWMutex
	channels map[string]map[*conn]struct{}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ws.WriteMessage(messageType, payload)
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:   logger,
		channels: make(map[string]map[*conn]struct{}),
	}
}

func (s *Server) Mux() http.Handler {
	r := chi.NewRouter()

	r.HandleFunc("/ws/{channel}", s.handleChannel)

	return r
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("failed to upgrade connection", "error", err)
		return
	}

	c := &conn{ws: ws}
	s.join(channel, c)
	s.logger.Debug("connection joined channel", "channel", channel)

	defer func() {
		s.leave(channel, c)
		ws.Close()
		s.logger.Debug("connection left channel", "channel", channel)
	}()

	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}

		s.broadcast(channel, messageType, payload)
	}
}

func (s *Server) join(channel string, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channels[channel] == nil {
		s.channels[channel] = make(map[*conn]struct{})
	}
	s.channels[channel][c] = struct{}{}
}

func (s *Server) leave(channel string, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels[channel], c)
	if len(s.channels[channel]) == 0 {
		delete(s.channels, channel)
	}
}

// broadcast echoes to every member of the channel, the sender included.
func (s *Server) broadcast(channel string, messageType int, payload []byte) {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.channels[channel]))
	for c := range s.channels[channel] {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(messageType, payload); err != nil {
			s.logger.Debug("failed to write to connection", "channel", channel, "error", err)
		}
	}
}

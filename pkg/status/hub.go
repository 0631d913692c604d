/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/racegate/pkg/logger"
	"github.com/carverauto/racegate/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 1024
	defaultSendBuffer     = 64
	defaultBroadcastQueue = 256
)

// HubConfig holds websocket settings. Zero values take defaults.
type HubConfig struct {
	ListenAddr     string          `json:"listen_addr"`
	Path           string          `json:"path,omitempty"`
	WriteTimeout   models.Duration `json:"write_timeout,omitempty"`
	ReadTimeout    models.Duration `json:"read_timeout,omitempty"`
	PingInterval   models.Duration `json:"ping_interval,omitempty"`
	MaxMessageSize int64           `json:"max_message_size,omitempty"`
	// AllowedOrigins limits browser origins; empty allows any.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// SnapshotFunc returns the messages a newly connected client needs to render the
// current state.
type SnapshotFunc func() []models.StatusMessage

// Hub broadcasts status messages to websocket clients.
type Hub struct {
	cfg      HubConfig
	logger   logger.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[*client]struct{}
	snapshot SnapshotFunc

	broadcast chan []byte
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	closeOnce sync.Once
}

// NewHub creates a hub. Run must be running for Publish to reach clients.
func NewHub(cfg HubConfig, log logger.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	h := &Hub{
		cfg:       cfg,
		logger:    log,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, defaultBroadcastQueue),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}

	return false
}

// SetSnapshot installs the function that primes new clients.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Publish queues msg for every client. A full queue drops the message.
func (h *Hub) Publish(msg models.StatusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal status message")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("Status broadcast queue full, dropping message")
	}
}

// Run delivers queued messages until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case data := <-h.broadcast:
			h.deliver(data)
		}
	}
}

func (h *Hub) deliver(data []byte) {
	var slow []*client

	// Sends happen under the read lock so unregister cannot close a channel mid-send.
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client", c.id).Msg("Client send buffer full, disconnecting")
		h.unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, defaultSendBuffer),
		hub:  h,
	}

	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()

	if snapshot != nil {
		for _, msg := range snapshot() {
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}

			select {
			case c.send <- data:
			default:
			}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("Status client connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug().Str("client", c.id).Msg("Status client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))

	for c := range h.clients {
		targets = append(targets, c)
	}

	clear(h.clients)
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval.OrDefault(defaultPingInterval))

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	writeTimeout := cfg.WriteTimeout.OrDefault(defaultWriteTimeout)

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump only services control frames; the status feed is one-way.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	readTimeout := c.hub.cfg.ReadTimeout.OrDefault(defaultReadTimeout)

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("Unexpected websocket close")
			}

			return
		}
	}
}

// Server serves a Hub over HTTP.
type Server struct {
	hub    *Hub
	srv    *http.Server
	logger logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer mounts hub at cfg.Path (default /ws).
func NewServer(hub *Hub, log logger.Logger) *Server {
	path := hub.cfg.Path
	if path == "" {
		path = "/ws"
	}

	mux := http.NewServeMux()
	mux.Handle(path, hub)

	return &Server{
		hub:    hub,
		logger: log,
		srv: &http.Server{
			Addr:              hub.cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens and runs the hub in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.hub.Run(hubCtx)
	}()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")

	return nil
}

// Stop shuts the HTTP server down and disconnects clients.
func (s *Server) Stop(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	return err
}

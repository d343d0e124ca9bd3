package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/record"
)

// WebSocketConfig configures the WebSocket broadcast sink.
type WebSocketConfig struct {
	// Addr is the listen address, e.g. ":8081".
	Addr string `json:"addr"`

	// Path is the WebSocket endpoint path, defaulting to "/stream".
	Path string `json:"path"`

	// WriteTimeout bounds each client write so a slow client cannot
	// stall the broadcast.
	WriteTimeout time.Duration `json:"write_timeout"`
}

// Validate checks the configuration.
func (c WebSocketConfig) Validate() error {
	if c.Addr == "" {
		return errors.WrapConfig(errors.ErrMissingConfig, "sink.WebSocket", "Validate",
			"addr is required")
	}
	return nil
}

// WebSocket broadcasts records as JSON to all connected clients.
// Per-client write failures disconnect that client without affecting
// others or the drain.
type WebSocket struct {
	cfg      WebSocketConfig
	upgrader websocket.Upgrader
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]struct{}

	sent       int64
	writeFails int64
}

// NewWebSocket creates a broadcast sink. The HTTP server starts on
// Consume and stops when the stream ends.
func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = "/stream"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &WebSocket{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]struct{}),
	}, nil
}

func (s *WebSocket) Name() string { return "websocket:" + s.cfg.Addr + s.cfg.Path }

func (s *WebSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()

	// Reader goroutine detects client disconnects; inbound payloads are
	// discarded.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *WebSocket) dropClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	_ = conn.Close()
}

// ClientCount returns the number of connected clients.
func (s *WebSocket) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *WebSocket) broadcast(data []byte) {
	s.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.RUnlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			atomic.AddInt64(&s.writeFails, 1)
			s.dropClient(conn)
			continue
		}
		atomic.AddInt64(&s.sent, 1)
	}
}

func (s *WebSocket) Consume(ctx context.Context, in <-chan *record.Record) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		s.clientsMu.Lock()
		for conn := range s.clients {
			_ = conn.Close()
		}
		s.clients = make(map[*websocket.Conn]struct{})
		s.clientsMu.Unlock()
	}()

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			data, err := json.Marshal(rec)
			if err != nil {
				atomic.AddInt64(&s.writeFails, 1)
				continue
			}
			s.broadcast(data)
		case err := <-serveErr:
			return errors.WrapTransient(err, "sink.WebSocket", "Consume", "http server")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sent returns how many client writes succeeded.
func (s *WebSocket) Sent() int64 {
	return atomic.LoadInt64(&s.sent)
}

// WriteFailures returns how many client writes failed.
func (s *WebSocket) WriteFailures() int64 {
	return atomic.LoadInt64(&s.writeFails)
}

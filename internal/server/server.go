// Package server is the roster backend: it ingests keystone batches from
// agents, serves aggregated guild rosters, and pushes sync events to
// WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/guildkeys/keysync/internal/logging"
	"github.com/guildkeys/keysync/internal/store"
	"github.com/guildkeys/keysync/internal/syncclient"
)

// MessageType is the type of a live feed message.
type MessageType string

const (
	// MessageTypeHello is sent once to every client after it connects.
	MessageTypeHello MessageType = "hello"

	// MessageTypeSync is sent after an ingest batch has been stored.
	MessageTypeSync MessageType = "sync"
)

// Message is one live feed message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncData describes a stored ingest batch.
type SyncData struct {
	Batch      string   `json:"batch,omitempty"`
	Received   int      `json:"received"`
	Upserted   int      `json:"upserted"`
	Characters []string `json:"characters"`
}

// HelloData is the welcome payload.
type HelloData struct {
	Clients int `json:"clients"`
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8080"). Use "127.0.0.1:0" for a random port.
	Addr string

	// Store backs ingest and roster reads. Required.
	Store *store.Store

	// Token, when set, must be presented as a bearer token on ingest.
	Token string

	// Logger for server activity.
	Logger *zap.Logger
}

// Server serves the HTTP API and the live feed.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	handler  http.Handler

	store *store.Store
	token string

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// New creates a server. Call Start to listen, or mount Handler yourself.
func New(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      config.Addr,
		store:     config.Store,
		token:     config.Token,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.OrNop(config.Logger).Named("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+syncclient.SyncPath, s.handleSync)
	mux.HandleFunc("GET /api/guilds/{id}/roster", s.handleRoster)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.handler = instrument(mux)

	// The broadcast loop runs for the server's lifetime, whether or not
	// Start is used.
	s.wg.Add(1)
	go s.broadcastLoop()

	return s, nil
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop closes every WebSocket client, shuts the HTTP server down and waits
// for background goroutines. The store is left open.
func (s *Server) Stop() error {
	s.logger.Info("stopping")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	clientsGauge.Set(0)
	s.clientsMu.Unlock()

	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("stopped")
	return shutdownErr
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues a message for every connected client. Messages are
// dropped when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	clientsGauge.Set(float64(count))
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", zap.Int("clients", count))

	hello, _ := json.Marshal(HelloData{Clients: count})
	welcome, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now(), Data: hello})
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	go s.readLoop(conn)
}

// readLoop discards client messages and notices disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	clientsGauge.Set(float64(count))
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("client disconnected", zap.Int("clients", count))
}

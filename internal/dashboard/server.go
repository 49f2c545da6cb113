// Package dashboard provides the real-time WebSocket server.
//
// The server broadcasts node and edge changes, rollup progress updates,
// sync job reports and pending conflicts to connected clients, so a
// browser view of the task graph stays live without polling.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/braidhq/braid/internal/graph"
	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeTaskUpdate indicates a node was created, updated,
	// archived, restored or deleted
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeEdgeUpdate indicates a composition edge was added or
	// removed
	MessageTypeEdgeUpdate MessageType = "edge_update"

	// MessageTypeProgress indicates a node's rolled-up progress changed
	MessageTypeProgress MessageType = "progress"

	// MessageTypeSyncReport indicates a connector sync job finished
	MessageTypeSyncReport MessageType = "sync_report"

	// MessageTypeConflict indicates a sync conflict awaits the user
	MessageTypeConflict MessageType = "conflict"

	// MessageTypeStats indicates updated graph statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskUpdateData carries one node change.
type TaskUpdateData struct {
	NodeID string `json:"node_id"`
	Action string `json:"action"` // created, updated, archived, restored, deleted
	Name   string `json:"name,omitempty"`
	State  string `json:"state,omitempty"`
}

// EdgeUpdateData carries one edge change.
type EdgeUpdateData struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Action string `json:"action"` // added, removed
}

// ProgressData carries one rolled-up progress change.
type ProgressData struct {
	NodeID     string  `json:"node_id"`
	Progress   float64 `json:"progress"`
	Incomplete bool    `json:"incomplete"`
}

// SyncReportData summarizes a finished connector sync job.
type SyncReportData struct {
	ConnectorID string        `json:"connector_id"`
	Outcome     string        `json:"outcome"`
	Fetched     int           `json:"fetched"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Pushed      int           `json:"pushed"`
	Conflicts   int           `json:"conflicts"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// ConflictData announces a pending conflict.
type ConflictData struct {
	ConflictID  string `json:"conflict_id"`
	ConnectorID string `json:"connector_id"`
	NodeID      string `json:"node_id"`
}

// StatsData carries graph-level statistics.
type StatsData struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080)
	Port int

	// Logger for server activity (default: the process logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastData marshals data and broadcasts it under the given type.
func (s *Server) BroadcastData(t MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", t, err)
		return
	}
	s.Broadcast(Message{Type: t, Timestamp: time.Now(), Data: raw})
}

// Bind subscribes the server to a graph store so every node, edge and
// progress change streams to connected clients.
func (s *Server) Bind(store *graph.Store) {
	store.Subscribe(func(ev graph.Event) {
		switch ev.Type {
		case graph.EventNodeCreated, graph.EventNodeUpdated,
			graph.EventNodeArchived, graph.EventNodeRestored, graph.EventNodeDeleted:
			data := TaskUpdateData{
				NodeID: string(ev.Node),
				Action: taskAction(ev.Type),
			}
			if node, err := store.GetNode(ev.Node); err == nil {
				data.Name = node.Name
				data.State = string(node.State)
			}
			s.BroadcastData(MessageTypeTaskUpdate, data)

		case graph.EventEdgeCreated:
			s.BroadcastData(MessageTypeEdgeUpdate, EdgeUpdateData{
				Parent: string(ev.Parent), Child: string(ev.Child), Action: "added",
			})
		case graph.EventEdgeRemoved:
			s.BroadcastData(MessageTypeEdgeUpdate, EdgeUpdateData{
				Parent: string(ev.Parent), Child: string(ev.Child), Action: "removed",
			})

		case graph.EventProgressChanged:
			data := ProgressData{NodeID: string(ev.Node), Progress: ev.Progress}
			if _, incomplete, err := store.Progress(ev.Node); err == nil {
				data.Incomplete = incomplete
			}
			s.BroadcastData(MessageTypeProgress, data)
		}
	})
}

func taskAction(t graph.EventType) string {
	switch t {
	case graph.EventNodeCreated:
		return "created"
	case graph.EventNodeArchived:
		return "archived"
	case graph.EventNodeRestored:
		return "restored"
	case graph.EventNodeDeleted:
		return "deleted"
	default:
		return "updated"
	}
}

// broadcastLoop handles message broadcasting to all clients
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
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock so a slow client cannot block
			// new broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed; the stream is one-way.
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Braid Dashboard</title>
</head>
<body>
    <h1>Braid Dashboard Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive real-time task graph updates.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

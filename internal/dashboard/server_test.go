package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/braidhq/braid/internal/graph"
	"github.com/coder/websocket"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0, // random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func dialTestClient(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := startTestServer(t)
	dialTestClient(t, server)

	// Connection registration is asynchronous with Accept.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	server := startTestServer(t)
	conn := dialTestClient(t, server)
	time.Sleep(100 * time.Millisecond)

	server.BroadcastData(MessageTypeSyncReport, SyncReportData{
		ConnectorID: "inbox",
		Outcome:     "ok",
		Fetched:     3,
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncReport {
		t.Fatalf("Expected %s, got %s", MessageTypeSyncReport, msg.Type)
	}
	var report SyncReportData
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		t.Fatalf("Failed to unmarshal report: %v", err)
	}
	if report.ConnectorID != "inbox" || report.Fetched != 3 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Broadcast should stamp a timestamp")
	}
}

func TestBindStreamsStoreEvents(t *testing.T) {
	server := startTestServer(t)
	store := graph.NewStore(nil)
	server.Bind(store)

	conn := dialTestClient(t, server)
	time.Sleep(100 * time.Millisecond)

	id, err := store.CreateNode(graph.NodeSpec{Name: "live task"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeTaskUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeTaskUpdate, msg.Type)
	}
	var update TaskUpdateData
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		t.Fatalf("Failed to unmarshal update: %v", err)
	}
	if update.NodeID != string(id) || update.Action != "created" {
		t.Errorf("Unexpected update: %+v", update)
	}
	if update.Name != "live task" {
		t.Errorf("Name = %q, want %q", update.Name, "live task")
	}
}

func TestProgressEventsStream(t *testing.T) {
	server := startTestServer(t)
	store := graph.NewStore(nil)
	server.Bind(store)

	conn := dialTestClient(t, server)
	time.Sleep(100 * time.Millisecond)

	parent, err := store.CreateNode(graph.NodeSpec{Name: "parent"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	child, err := store.CreateNode(graph.NodeSpec{Name: "child"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := store.CreateEdge(graph.Edge{Parent: parent, Child: child, Weight: 1}); err != nil {
		t.Fatalf("CreateEdge failed: %v", err)
	}
	if err := store.SetCompletion(child, 0.5); err != nil {
		t.Fatalf("SetCompletion failed: %v", err)
	}

	// Drain until the parent's progress update arrives.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeProgress {
			continue
		}
		var progress ProgressData
		if err := json.Unmarshal(msg.Data, &progress); err != nil {
			t.Fatalf("Failed to unmarshal progress: %v", err)
		}
		if progress.NodeID == string(parent) {
			if progress.Progress != 0.5 {
				t.Errorf("Parent progress = %g, want 0.5", progress.Progress)
			}
			return
		}
	}
	t.Fatal("Timed out waiting for parent progress update")
}

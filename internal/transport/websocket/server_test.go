package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T, topics ...string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, topics)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:], nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub, server := startHub(t, "obligations", "obligation:ob-1")

	conn := dial(t, server)
	waitFor(t, func() bool { return hub.Subscribers("obligations") == 1 })

	if got := hub.Subscribers("obligation:ob-1"); got != 1 {
		t.Fatalf("Expected 1 subscriber on obligation topic, got %d", got)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.Subscribers("obligations") == 0 })

	hub.mu.RLock()
	_, exists := hub.topics["obligation:ob-1"]
	clients := len(hub.clients)
	hub.mu.RUnlock()
	if exists || clients != 0 {
		t.Fatal("Connection should be unregistered from every topic")
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub, server := startHub(t, "obligations")

	conn := dial(t, server)
	defer conn.Close()
	waitFor(t, func() bool { return hub.Subscribers("obligations") == 1 })

	hub.Broadcast("obligations", &Message{
		Type: "obligation_settled",
		Data: map[string]any{"obligationId": "ob-1"},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var received Message
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	if received.Type != "obligation_settled" {
		t.Errorf("Expected type 'obligation_settled', got '%s'", received.Type)
	}
	if received.Topic != "obligations" {
		t.Errorf("Expected topic 'obligations', got '%s'", received.Topic)
	}
}

func TestHub_TopicIsolation(t *testing.T) {
	hub, server := startHub(t, "obligation:ob-2")

	conn := dial(t, server)
	defer conn.Close()
	waitFor(t, func() bool { return hub.Subscribers("obligation:ob-2") == 1 })

	hub.Broadcast("obligation:ob-1", &Message{Type: "obligation_settled"})
	hub.Broadcast("obligation:ob-2", &Message{Type: "marker"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var received Message
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if received.Type != "marker" {
		t.Fatalf("Expected only messages of the subscribed topic, got %q", received.Type)
	}
}

func TestHub_MultipleConnections(t *testing.T) {
	hub, server := startHub(t, "exports")

	first := dial(t, server)
	defer first.Close()
	second := dial(t, server)
	defer second.Close()
	waitFor(t, func() bool { return hub.Subscribers("exports") == 2 })

	hub.Broadcast("exports", &Message{Type: "export_progress"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var received Message
		if err := conn.ReadJSON(&received); err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		if received.Type != "export_progress" {
			t.Errorf("Expected type 'export_progress', got '%s'", received.Type)
		}
	}
}

func TestHub_RemoveIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	conn := &Connection{topics: []string{"obligations"}, send: make(chan *Message, 1), hub: hub}

	hub.clients[conn] = true
	hub.topics["obligations"] = map[*Connection]bool{conn: true}

	hub.remove(conn)
	hub.remove(conn)

	if _, ok := <-conn.send; ok {
		t.Fatal("send channel should be closed")
	}
	if hub.Subscribers("obligations") != 0 {
		t.Fatal("topic should be empty")
	}
}

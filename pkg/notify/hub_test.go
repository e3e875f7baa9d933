package notify

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	defer hub.Close()

	first := dialHub(t, server)
	second := dialHub(t, server)

	// Registration happens in the handler goroutine; wait for both.
	waitForClients(t, hub, 2)

	hub.Broadcast(map[string]string{"type": "fill.ingested", "symbol": "BTCUSDT"})

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}

		var msg map[string]string
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg["type"] != "fill.ingested" || msg["symbol"] != "BTCUSDT" {
			t.Fatalf("unexpected message %v", msg)
		}
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	defer hub.Close()

	// Must not panic or block.
	hub.Broadcast(map[string]string{"type": "review.resolved"})
}

func TestClosedHubRejectsClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	if err := hub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn := dialHub(t, server)

	// The server side closes immediately; the next read fails.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to a closed hub to be shut")
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		hub.mu.Lock()
		got := len(hub.clients)
		hub.mu.Unlock()
		if got >= want {
			return
		}

		select {
		case <-deadline:
			t.Fatalf("only %d of %d clients registered", got, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

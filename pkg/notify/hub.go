package notify

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout    = 10 * time.Second
	sendBufferSize  = 32
	readSizeLimit   = 512 // clients only receive; tiny limit discourages abuse
	pingInterval    = 30 * time.Second
	pongWaitTimeout = 60 * time.Second
)

// Hub broadcasts JSON-encoded messages to all connected websocket clients.
// The UI subscribes here to hear about new fills and resolved reviews
// without polling.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a new broadcast hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is same-origin behind the UI's reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Handler upgrades the request and registers the connection for broadcasts.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket-upgrade-failed", zap.Error(err))
			return
		}

		c := &client{
			conn: conn,
			send: make(chan []byte, sendBufferSize),
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
		h.clients[c] = struct{}{}
		clientCount := len(h.clients)
		h.mu.Unlock()

		ClientsConnected.Set(float64(clientCount))
		h.logger.Debug("websocket-client-connected",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Int("clients", clientCount))

		go h.writeLoop(c)
		go h.readLoop(c)
	}
}

// Broadcast JSON-encodes message and queues it to every connected client.
// Slow clients are dropped rather than allowed to block the broadcast.
func (h *Hub) Broadcast(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("broadcast-marshal-failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropClientLocked(c)
		}
	}

	BroadcastsTotal.Inc()
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeTimeout))
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.TextMessage, payload)
			if err != nil {
				h.removeClient(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				h.removeClient(c)
				return
			}
		}
	}
}

// readLoop drains (and discards) client frames so pings/pongs and close
// handshakes are processed.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(readSizeLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWaitTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWaitTimeout))
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			h.removeClient(c)
			return
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropClientLocked(c)
}

func (h *Hub) dropClientLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)
	ClientsConnected.Set(float64(len(h.clients)))
}

// Close disconnects all clients and stops accepting new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	ClientsConnected.Set(0)

	h.logger.Info("notify-hub-closed")
	return nil
}

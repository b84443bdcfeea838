// Package notify pushes events to connected users over websockets.
// Delivery is best-effort and local-process only: events for users without
// a live connection are dropped.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Event names pushed to clients.
const (
	EventJobProgress  = "job:progress"
	EventJobNode      = "job:node"
	EventJobCompleted = "job:completed"
	EventJobFailed    = "job:failed"
	EventJobCancelled = "job:cancelled"
)

// Message is the wire envelope for pushed events.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Notifier is the sending side of the channel.
type Notifier interface {
	SendToUser(userID, event string, data any)
}

// client is one live socket. Writes are serialized through mu because
// gorilla/websocket allows at most one concurrent writer per connection
// and events arrive from multiple goroutines.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks live connections per user.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string][]*client

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[string][]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades an HTTP request to a websocket and registers it for the
// user. Blocks until the connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	cl := &client{conn: conn}
	h.register(userID, cl)
	defer h.unregister(userID, cl)

	h.logger.Info("Notification socket connected",
		slog.String("user_id", userID),
	)

	// Drain the connection; clients do not send anything meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// SendToUser pushes an event to every live connection of a user.
// Silently drops if the user is not connected.
func (h *Hub) SendToUser(userID, event string, data any) {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.logger.Error("Failed to encode notification",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return
	}

	h.mu.RLock()
	clients := append([]*client(nil), h.conns[userID]...)
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.write(payload); err != nil {
			h.logger.Debug("Dropping dead notification socket",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
			h.unregister(userID, cl)
		}
	}
}

func (h *Hub) register(userID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[userID] = append(h.conns[userID], cl)
}

func (h *Hub) unregister(userID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.conns[userID]
	for i, c := range clients {
		if c == cl {
			clients = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(clients) == 0 {
		delete(h.conns, userID)
	} else {
		h.conns[userID] = clients
	}
	cl.conn.Close()
}

package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/crew/internal/natsbus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one bus message relayed to websocket clients.
type Event struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// subscriber is a websocket client and the events it asked for. An empty
// topic or type list matches everything.
type subscriber struct {
	conn  *websocket.Conn
	topic string
	types []string
}

func (s *subscriber) wants(e Event) bool {
	if s.topic != "" && e.Topic != s.topic {
		return false
	}
	return len(s.types) == 0 || slices.Contains(s.types, e.Type)
}

// Hub fans bus events out to the connected websocket clients.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]*subscriber
	broadcast chan Event
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]*subscriber),
		broadcast: make(chan Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, sub := range h.clients {
		if !sub.wants(event) {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("websocket broadcast channel full, dropping event", "type", event.Type)
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[sub.conn] = sub
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// handleWebSocket streams bus events. ?run=<id> narrows the stream to one
// run and ?type=a,b to the listed event types.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn}
	q := r.URL.Query()
	if run := q.Get("run"); run != "" {
		sub.topic = natsbus.TopicEventsRun(run)
	}
	if types := q.Get("type"); types != "" {
		sub.types = strings.Split(types, ",")
	}

	s.hub.register(sub)
	defer func() {
		s.hub.unregister(conn)
		conn.Close()
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

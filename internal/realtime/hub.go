// Package realtime relays notification bus events to websocket clients.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"messenger/internal/messaging"
	"messenger/internal/metrics"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 16
)

// Frame is the JSON message written to websocket clients for every bus event.
type Frame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub holds one bus subscription and fans each event out to every attached
// websocket client. Every client has its own queue and writer goroutine, so
// a slow client only delays itself. Frames that do not fit in a full queue
// are dropped; any later frame still makes that client resync.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
	subs    []messaging.Subscription
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]*wsClient),
	}
}

// Attach subscribes the hub to one bus channel and event.
func (h *Hub) Attach(bus messaging.Subscriber, channel, event string) error {
	sub, err := bus.Subscribe(channel, event, func(ev messaging.Event) {
		f := Frame{Channel: ev.Channel, Event: ev.Name}
		if json.Valid(ev.Payload) {
			f.Data = ev.Payload
		}
		h.Broadcast(f)
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return nil
}

// Broadcast queues f for every client without blocking.
func (h *Hub) Broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Warn("Dropping unencodable frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("Client queue full, frame dropped", "client_id", id)
		}
	}
}

// writeLoop drains the client queue until it is closed. On a write error
// the connection is closed, which ends the read loop in ServeHTTP.
func (c *wsClient) writeLoop(done chan<- struct{}) {
	defer close(done)
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) add(id string, c *wsClient) {
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
}

// remove deregisters the client and closes its queue. Broadcast holds the
// read lock while sending, so no send can race with the close.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// ServeHTTP upgrades the request and keeps the client attached until it
// disconnects. Inbound frames are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := &wsClient{conn: conn, send: make(chan []byte, sendQueueSize)}
	written := make(chan struct{})
	go c.writeLoop(written)
	h.add(id, c)
	metrics.RealtimeClients.Inc()
	h.log.Info("Realtime client connected", "client_id", id, "remote", r.RemoteAddr)

	defer func() {
		h.remove(id)
		<-written
		metrics.RealtimeClients.Dec()
		_ = conn.Close()
		h.log.Info("Realtime client disconnected", "client_id", id)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Websocket read error", "client_id", id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops the bus subscriptions and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			h.log.Warn("Failed to unsubscribe relay", "error", err)
		}
	}
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

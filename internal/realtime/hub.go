package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventState          = "state"
	EventDatasetUpdated = "dataset_updated"
)

const (
	// A chart refresh is two events at most, so a short queue is enough.
	sendQueue       = 8
	maxInboundBytes = 512
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingPeriod      = pongWait * 2 / 3
)

// Event is pushed to every connected browser. State carries a dashboard
// snapshot for EventState; RefreshedAt is set for EventDatasetUpdated.
type Event struct {
	Type        string     `json:"type"`
	State       any        `json:"state,omitempty"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	At          time.Time  `json:"at"`
}

type Hub struct {
	upgrader websocket.Upgrader
	// greet, if set, produces the first event a new client receives.
	greet func() Event

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(greet func() Event) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Same page, same origin; a read-only view needs no stricter check.
				return true
			},
		},
		greet:   greet,
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueue)}
	if h.greet != nil {
		if b, err := encode(h.greet()); err == nil {
			c.send <- b
		}
	}
	h.addClient(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) Broadcast(ev Event) {
	b, err := encode(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// Slow client; drop it.
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func encode(ev Event) ([]byte, error) {
	ev.At = time.Now().UTC()
	return json.Marshal(ev)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

// The page never sends anything, so the read side only tracks liveness.
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(maxInboundBytes)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// writePump owns all writes to conn. A closed send channel means the hub
// dropped the client.
func (h *Hub) writePump(c *client) {
	heartbeat := time.NewTicker(pingPeriod)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard closed the stream"))
				return
			}
			err = c.write(websocket.TextMessage, msg)
		case <-heartbeat.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *client) write(kind int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, payload)
}

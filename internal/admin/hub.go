package admin

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

// message is the envelope pushed to websocket clients.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// hub fans pushed messages out to websocket clients. A slow client loses its
// oldest queued messages rather than stalling the others.
type hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, clients: make(map[*client]struct{})}
}

func (h *hub) broadcast(kind string, v any) {
	data, ok := h.encode(kind, v)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		enqueue(c, data)
	}
}

// sendTo queues a message for one client if it is still registered.
func (h *hub) sendTo(c *client, kind string, v any) {
	data, ok := h.encode(kind, v)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; live {
		enqueue(c, data)
	}
}

func (h *hub) encode(kind string, v any) ([]byte, bool) {
	data, err := json.Marshal(message{Type: kind, Data: v})
	if err != nil {
		h.log.Error("marshal push message", "type", kind, "err", err)
		return nil, false
	}
	return data, true
}

// enqueue drops the oldest queued message when the client is full.
// Callers hold h.mu.
func enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	go h.writeLoop(c)
	go h.readLoop(c)
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client frames and notices disconnects.
func (h *hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

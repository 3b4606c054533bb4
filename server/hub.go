package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/protocol"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = 30 * time.Second
)

// Client is one connected push-stream subscriber.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	closed bool // guarded by hub.mu
}

// UserID returns the authenticated user of this connection.
func (c *Client) UserID() string {
	return c.userID
}

// SendEnvelope queues a typed envelope for delivery.
func (c *Client) SendEnvelope(eventType protocol.EventType, data interface{}) {
	env, err := protocol.NewEnvelope(eventType, data)
	if err != nil {
		jww.ERROR.Printf("[HUB] encode %s envelope: %v", eventType, err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		jww.ERROR.Printf("[HUB] marshal %s envelope: %v", eventType, err)
		return
	}
	c.hub.mu.RLock()
	if c.closed {
		c.hub.mu.RUnlock()
		return
	}
	select {
	case c.send <- raw:
		c.hub.mu.RUnlock()
	default:
		c.hub.mu.RUnlock()
		// Subscriber too slow; drop the connection rather than block.
		c.hub.Unregister(c)
	}
}

// Hub tracks push-stream connections by user and fans envelopes out to all
// of a user's open sessions.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{byUser: make(map[string]map[*Client]bool)}
}

// NewClient wraps a websocket connection for a user.
func (h *Hub) NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 64),
	}
}

// Register adds a client and starts its pumps.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]bool)
	}
	h.byUser[c.userID][c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
	jww.INFO.Printf("[HUB] stream connected for user %s", c.userID)
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	clients, ok := h.byUser[c.userID]
	if ok && clients[c] {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byUser, c.userID)
		}
		c.closed = true
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		jww.INFO.Printf("[HUB] stream disconnected for user %s", c.userID)
	}
}

// SendToUser delivers an envelope to every open session of a user. Users
// with no open stream simply miss the event; they resync on reconnect from
// the connected snapshot.
func (h *Hub) SendToUser(userID string, eventType protocol.EventType, data interface{}) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SendEnvelope(eventType, data)
	}
}

func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})

	// The push stream is one-way; inbound frames only keep the connection
	// alive.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

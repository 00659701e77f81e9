package live

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// request is a client control frame
type request struct {
	Action string `json:"action"` // subscribe | unsubscribe
	PoleID string `json:"pole_id"`
}

// Client is one WebSocket connection and its pole subscriptions
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	all   bool
	poles map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		poles: make(map[string]struct{}),
	}
}

func (c *Client) wants(poleID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return true
	}
	_, ok := c.poles[poleID]
	return ok
}

func (c *Client) subscribe(poleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if poleID == AllPoles {
		c.all = true
		return
	}
	c.poles[poleID] = struct{}{}
}

func (c *Client) unsubscribe(poleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if poleID == AllPoles {
		c.all = false
		c.poles = make(map[string]struct{})
		return
	}
	delete(c.poles, poleID)
}

// reply hands a control response to the hub, which owns c.send
func (c *Client) reply(env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- directMsg{client: c, msg: msg}:
	case <-c.hub.done:
	}
}

// readPump handles subscription frames and keepalive pongs
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", "error", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(Envelope{Type: "error", Error: "invalid request"})
			continue
		}
		pole := strings.TrimSpace(req.PoleID)
		if pole == "" {
			c.reply(Envelope{Type: "error", Error: "pole_id is required"})
			continue
		}

		switch strings.ToLower(req.Action) {
		case "subscribe":
			c.subscribe(pole)
			c.reply(Envelope{Type: "subscribed", PoleID: pole})
		case "unsubscribe":
			c.unsubscribe(pole)
			c.reply(Envelope{Type: "unsubscribed", PoleID: pole})
		default:
			c.reply(Envelope{Type: "error", Error: "unknown action " + req.Action})
		}
	}
}

// writePump writes queued frames and pings the peer
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

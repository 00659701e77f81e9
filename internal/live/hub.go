// Package live streams persisted telemetry to WebSocket clients that
// subscribe per pole.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

// AllPoles subscribes a client to every pole
const AllPoles = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the frame format sent to clients
type Envelope struct {
	Type   string `json:"type"`
	PoleID string `json:"pole_id,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// directMsg is a frame for a single client, such as a subscription ack
type directMsg struct {
	client *Client
	msg    []byte
}

// Hub maintains the set of connected clients and fans samples out to them
type Hub struct {
	log        *slog.Logger
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *storage.TelemetrySample
	direct     chan directMsg
	count      chan chan int
	done       chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:        logger.With("component", "live"),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *storage.TelemetrySample, 256),
		direct:     make(chan directMsg, 16),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug("client connected", "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			h.remove(c)

		case s := <-h.broadcast:
			msg, err := json.Marshal(Envelope{Type: "telemetry", PoleID: s.PoleID, Data: s})
			if err != nil {
				h.log.Error("failed to marshal sample", "pole_id", s.PoleID, "error", err)
				continue
			}
			for c := range h.clients {
				if !c.wants(s.PoleID) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					h.log.Warn("client send buffer full, disconnecting", "remote", c.conn.RemoteAddr().String())
					h.remove(c)
				}
			}

		case d := <-h.direct:
			if _, ok := h.clients[d.client]; !ok {
				continue
			}
			select {
			case d.client.send <- d.msg:
			default:
				h.remove(d.client)
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues a sample for delivery. It never blocks; samples are
// dropped when the queue is full.
func (h *Hub) Broadcast(s *storage.TelemetrySample) {
	select {
	case h.broadcast <- s:
	default:
		h.log.Warn("live feed backlog full, dropping sample", "pole_id", s.PoleID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	case <-ctx.Done():
		return 0
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn)
	if pole := r.URL.Query().Get("pole_id"); pole != "" {
		c.subscribe(pole)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

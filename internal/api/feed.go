package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/goodtune/licensewatch/internal/metrics"
	"github.com/goodtune/licensewatch/internal/storage"
)

// Feed message types.
const (
	MsgSnapshot = "snapshot"
	MsgChanged  = "changed"
)

// FeedMessage is one message on the change feed.
type FeedMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ChangedPayload identifies the pass published after a change.
type ChangedPayload struct {
	PassID   string    `json:"passId"`
	ParsedAt time.Time `json:"parsedAt"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 16),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcaster pushes inventory change notifications to websocket clients.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	closed   bool
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			// The feed is read-only and carries the same data as the open JSON endpoints
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "feed").Logger(),
	}
}

// ServeWS upgrades the request and registers the connection. The current inventory is sent
// first as a snapshot message.
func (b *Broadcaster) ServeWS(inventory Inventory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Websocket upgrade failed")
			return
		}

		var snapshot *storage.Pass
		if inventory != nil {
			snapshot, err = inventory.Current(r.Context())
			if err != nil {
				b.logger.Error().Err(err).Msg("Failed to load inventory for new feed client")
			}
		}

		c, ok := b.addClient(conn, snapshot)
		if !ok {
			_ = conn.Close()
			return
		}
		b.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Feed client connected")

		// Drain reads so close frames and dead peers are noticed
		go func() {
			defer func() {
				b.removeClient(c)
				b.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Feed client disconnected")
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func (b *Broadcaster) addClient(conn *websocket.Conn, snapshot *storage.Pass) (*client, bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, false
	}
	c := newClient(conn)
	b.clients[c] = true
	metrics.FeedClients.Set(float64(len(b.clients)))
	b.mu.Unlock()

	if snapshot != nil {
		if data, err := json.Marshal(FeedMessage{Type: MsgSnapshot, Payload: snapshot}); err == nil {
			b.enqueue(c, data)
		}
	}
	return c, true
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		metrics.FeedClients.Set(float64(len(b.clients)))
	}
	b.mu.Unlock()
}

// enqueue hands data to a client, disconnecting it when it cannot keep up.
func (b *Broadcaster) enqueue(c *client, data []byte) {
	b.mu.RLock()
	_, ok := b.clients[c]
	if ok {
		select {
		case c.send <- data:
			b.mu.RUnlock()
			return
		default:
		}
	}
	b.mu.RUnlock()

	if ok {
		b.logger.Warn().Msg("Feed client too slow, disconnecting")
		b.removeClient(c)
	}
}

// NotifyChanged tells every client that a new pass was published.
func (b *Broadcaster) NotifyChanged(pass *storage.Pass) {
	msg := FeedMessage{Type: MsgChanged}
	if pass != nil {
		msg.Payload = ChangedPayload{PassID: pass.ID, ParsedAt: pass.ParsedAt}
	}
	b.broadcast(msg)
}

func (b *Broadcaster) broadcast(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal feed message")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.enqueue(c, data)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	metrics.FeedClients.Set(0)
}

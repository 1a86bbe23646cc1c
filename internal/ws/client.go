// Package ws bridges browser WebSocket connections to notebook sessions.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/internal/notebook"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	// Outbound buffer size per client. A client that cannot drain this many
	// updates is considered dead and dropped.
	sendBufferSize = 256
)

// Conn is the subset of *websocket.Conn the client uses. Tests substitute a
// fake; production passes the upgraded gorilla connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one browser connection bound to a notebook path. It satisfies
// the session layer's Connection interface: updates are queued on a buffered
// channel and flushed by the write pump, inbound frames are handed to the
// registered action callback by the read pump.
type Client struct {
	id   string
	path string
	conn Conn
	log  *zap.Logger

	send chan []byte

	mu           sync.Mutex
	closed       bool
	onAction     func(raw []byte)
	onDisconnect func()
}

// NewClient wraps an upgraded connection. Call Run to start the pumps.
func NewClient(id, path string, conn Conn, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		id:   id,
		path: path,
		conn: conn,
		log:  log.With(zap.String("connectionId", id), zap.String("path", path)),
		send: make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Path returns the notebook path requested at handshake time.
func (c *Client) Path() string { return c.path }

// OnAction registers the callback invoked with each inbound text frame.
func (c *Client) OnAction(fn func(raw []byte)) {
	c.mu.Lock()
	c.onAction = fn
	c.mu.Unlock()
}

// OnDisconnect registers the callback invoked once when the connection ends.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SendUpdate serializes an update and queues it for delivery. A full buffer
// closes the client; the session layer must never block on a slow peer.
func (c *Client) SendUpdate(u notebook.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		c.log.Error("failed to marshal update",
			zap.String("update", u.UpdateName()), zap.Error(err))
		return
	}
	c.Send(data)
}

// Send queues a raw frame for delivery.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping client")
		c.closeLocked()
	}
}

// Close marks the client closed and lets the write pump terminate the
// underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Run starts the read and write pumps and blocks until the read pump exits,
// then fires the disconnect callback exactly once.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()

	c.mu.Lock()
	fn := c.onDisconnect
	c.onDisconnect = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// readPump pumps inbound frames to the action callback until the connection
// errors or closes.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		fn := c.onAction
		c.mu.Unlock()
		if fn != nil {
			fn(message)
		}
	}
}

// writePump flushes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each update goes in its own text frame so the frontend can
			// JSON.parse frame-by-frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				queued := <-c.send
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

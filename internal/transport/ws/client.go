package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oggyb/anon-relay/internal/session"
)

const (
	defaultSendQueueSize = 64
	wsWriteTimeout       = 5 * time.Second
)

// Client wraps one websocket connection of a user. Writes go through a
// bounded queue drained by a single writer goroutine.
type Client struct {
	id   string
	user session.UserID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewClient(conn *websocket.Conn, user session.UserID) *Client {
	return &Client{
		id:   uuid.NewString(),
		user: user,
		conn: conn,
		send: make(chan []byte, defaultSendQueueSize),
		done: make(chan struct{}),
	}
}

// ID identifies the connection, not the user.
func (c *Client) ID() string { return c.id }

func (c *Client) User() session.UserID { return c.user }

func (c *Client) Done() <-chan struct{} { return c.done }

// Enqueue queues msg for writing. False means the connection is closed or
// the queue is full.
func (c *Client) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Run starts the writer and blocks in the read loop until the connection
// ends. onClose runs exactly once afterwards.
func (c *Client) Run(ctx context.Context, onMessage func(raw []byte), onClose func()) {
	defer func() {
		c.Close()
		if onClose != nil {
			onClose()
		}
	}()

	go c.writeLoop(ctx)
	c.readLoop(ctx, onMessage)
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop(ctx context.Context, onMessage func(raw []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(raw)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		}
	}
}

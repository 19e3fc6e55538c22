package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sentinal-relay/internal/events"
	"sentinal-relay/internal/registry"
	sentinal_errors "sentinal-relay/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var newline = []byte{'\n'}

// Gateway is what a client needs from the service layer.
type Gateway interface {
	Connect(ctx context.Context, conn registry.Conn) error
	Disconnect(ctx context.Context, conn registry.Conn)
	HandleFrame(ctx context.Context, conn registry.Conn, frame []byte)
}

// Client is one websocket session. Outbound frames go through a buffered
// channel drained by writePump; a full buffer marks the client stale.
type Client struct {
	id          string
	userID      uuid.UUID
	conn        *websocket.Conn
	send        chan []byte
	rateLimiter *ClientRateLimiter
	logger      *ConnLogger

	mu     sync.Mutex
	closed bool

	connectedAt  time.Time
	lastActivity atomic.Int64
}

func NewClient(conn *websocket.Conn, userID uuid.UUID, sendBuffer int, limits FrameLimits, l *ConnLogger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	c := &Client{
		id:          uuid.NewString(),
		userID:      userID,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		rateLimiter: NewClientRateLimiter(limits),
		logger:      l,
		connectedAt: time.Now(),
	}
	c.touch()
	return c
}

func (c *Client) ID() string        { return c.id }
func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sentinal_errors.ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return sentinal_errors.ErrSendBufferFull
	}
}

// Close stops the writer, which sends a close frame and shuts the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) AllowFrame(kind events.Kind) bool {
	if c.rateLimiter.Allow(kind) {
		return true
	}
	c.logger.Warn("rate limit exceeded", c.userID, c.id, zap.String("msg_type", string(kind)))
	return false
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Client) readPump(ctx context.Context, gw Gateway) {
	defer func() {
		gw.Disconnect(ctx, c)
		c.Close()
		c.conn.Close()
		c.logger.Info("disconnected", c.userID, c.id, zap.Duration("session", time.Since(c.connectedAt)))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.id, err)
			}
			return
		}
		c.touch()

		message = bytes.TrimSpace(message)
		if len(message) == 0 {
			continue
		}
		gw.HandleFrame(ctx, c, message)
	}
}

// writePump batches whatever is queued into one text message, one frame per
// line.
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newline)
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.idle() > pongWait*2 {
				c.logger.Info("client idle timeout", c.userID, c.id)
				return
			}
		}
	}
}

// Package client is a websocket client for the relay, used by relayctl and
// end-to-end tests.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sentinal-relay/internal/events"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	inboxSize = 256
)

// Client owns one relay connection. Inbound frames are decoded and
// delivered on Events until the connection ends.
type Client struct {
	conn   *websocket.Conn
	logger *logger.Logger

	writeMu sync.Mutex
	events  chan events.Event
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// WebSocketURL turns an http(s) base URL into the relay's websocket URL.
func WebSocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to base (http, https, ws or wss) with an access token.
func Dial(ctx context.Context, base, token string, l *logger.Logger) (*Client, error) {
	if l == nil {
		l = logger.NewNop()
	}
	target, err := WebSocketURL(base, token)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, sentinal_errors.ErrUnauthorized
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		conn:   conn,
		logger: l.Named("client"),
		events: make(chan events.Event, inboxSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Events yields decoded server events. It is closed when the connection ends.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read loop stopped, if it has.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send encodes ev and writes it as one frame.
func (c *Client) Send(ctx context.Context, ev events.Event) error {
	frame, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.TextMessage, frame)
}

// Signal sends a call signal. It lets a Client serve a call controller.
func (c *Client) Signal(ctx context.Context, sig events.Signal) error {
	return c.Send(ctx, sig)
}

func (c *Client) write(ctx context.Context, messageType int, data []byte) error {
	select {
	case <-c.done:
		return sentinal_errors.ErrConnectionClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			c.fail(err)
			return
		}

		// the server batches queued frames into one message
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			ev, err := events.Decode(line)
			if err != nil {
				if errors.Is(err, sentinal_errors.ErrUnknownEvent) {
					c.logger.Debug("skipping unknown event", zap.ByteString("frame", line))
					continue
				}
				c.logger.Warn("bad frame", zap.Error(err))
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Package registrytest provides an in-memory registry.Conn for tests.
package registrytest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"sentinal-relay/internal/events"
	sentinal_errors "sentinal-relay/pkg/errors"
)

// Conn records every frame it accepts.
type Conn struct {
	id     string
	userID uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
	notify chan struct{}
}

func NewConn(userID uuid.UUID) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		userID: userID,
		notify: make(chan struct{}, 1),
	}
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) UserID() uuid.UUID { return c.userID }

func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sentinal_errors.ErrConnectionClosed
	}
	if c.fail {
		return sentinal_errors.ErrSendBufferFull
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// FailSends makes every following Send report a full buffer.
func (c *Conn) FailSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = true
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events decodes every frame received so far.
func (c *Conn) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, 0, len(c.frames))
	for _, f := range c.frames {
		ev, err := events.Decode(f)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// EventsOf returns the received events of one kind.
func (c *Conn) EventsOf(kind events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range c.Events() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor blocks until n events of kind arrived or timeout passes.
func (c *Conn) WaitFor(kind events.Kind, n int, timeout time.Duration) []events.Event {
	deadline := time.After(timeout)
	for {
		got := c.EventsOf(kind)
		if len(got) >= n {
			return got
		}
		select {
		case <-c.notify:
		case <-deadline:
			return got
		}
	}
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

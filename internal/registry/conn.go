package registry

import (
	"sync"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/identity"
	"github.com/google/uuid"
)

// Conn is one live connection bound to exactly one identity. An identity
// may own several at once (multi-device). Outbound events are buffered;
// the transport layer drains Outbound until Done closes.
type Conn struct {
	ID   string
	User identity.Identity

	out       chan event.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a connection handle for a verified identity. buffer is
// the outbound event buffer size.
func NewConn(user identity.Identity, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	return &Conn{
		ID:   uuid.New().String(),
		User: user,
		out:  make(chan event.Envelope, buffer),
		done: make(chan struct{}),
	}
}

// Deliver queues an event for the connection without blocking. A closed
// connection or a full buffer is an Upstream fault; callers fan-out and
// must not let one bad recipient abort the rest.
func (c *Conn) Deliver(env event.Envelope) error {
	select {
	case <-c.done:
		return fault.New(fault.Upstream, "connection closed")
	default:
	}
	select {
	case c.out <- env:
		return nil
	case <-c.done:
		return fault.New(fault.Upstream, "connection closed")
	default:
		return fault.New(fault.Upstream, "send buffer full")
	}
}

// Outbound returns the channel the transport drains.
func (c *Conn) Outbound() <-chan event.Envelope { return c.out }

// Done closes when the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection dead. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

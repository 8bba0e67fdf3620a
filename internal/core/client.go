package core

import "sync"

// Conn is one live channel to one client as seen by the registry and router.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	// Send queues an event for transmission. It must not block.
	Send(ev *Event) error
	// Close marks the connection dead and wakes its writer. Safe to call repeatedly.
	Close()
}

// Client is the Conn implementation backing a WebSocket session. The transport
// drains Events and stops writing once Done is closed.
type Client struct {
	id     string
	User   string
	Events chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*Client)(nil)

// NewClient constructs a client with a buffered outbound channel.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		id:     id,
		Events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Send queues ev without blocking. A full buffer counts as a send failure.
func (c *Client) Send(ev *Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.Events <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the client closed. Events is left open so late senders never panic.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

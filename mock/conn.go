package mock

import (
	"errors"
	"sync"

	arena "github.com/clickarena/backend"
)

// Conn is a hub connection that records written messages. Setting WriteErr
// simulates a peer that went away; setting Block simulates one that stopped
// reading, wedging every write until the channel is closed.
type Conn struct {
	mu       sync.Mutex
	WriteErr error
	Block    chan struct{}
	closed   bool
	Written  chan interface{}
}

var _ arena.Conn = (*Conn)(nil)

func NewConn() *Conn {
	return &Conn{Written: make(chan interface{}, 64)}
}

func (c *Conn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	closed, writeErr, block := c.closed, c.WriteErr, c.Block
	c.mu.Unlock()

	if closed {
		return errors.New("write on closed conn")
	}
	if writeErr != nil {
		return writeErr
	}
	if block != nil {
		<-block
	}
	c.Written <- v
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WriteErr = err
}

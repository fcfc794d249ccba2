package mock

import (
	"sync"
	"time"

	arena "github.com/clickarena/backend"
)

// Clock is a hand-steered clock for expiry tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

var _ arena.Clock = (*Clock)(nil)

func NewClock(start time.Time) *Clock {
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

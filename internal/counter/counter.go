// Package counter implements the shared heartbeat value served in every reply.
//
// A single background updater increments the value modulo
// protocol.CounterModulus at a fixed interval while the serve loop takes
// snapshots. Both sides go through one mutex; the critical section is a
// single read or a single increment and is never held across I/O.
package counter

import (
	"context"
	"sync"
	"time"

	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/protocol"
)

// Counter is a mutex-guarded value in [0, protocol.CounterModulus).
//
// The zero value is ready to use and starts at 0.
type Counter struct {
	mu    sync.Mutex
	value uint32
}

// New returns a counter starting at 0.
func New() *Counter {
	return &Counter{}
}

// Increment advances the value by one, wrapping at protocol.CounterModulus,
// and returns the new value.
func (c *Counter) Increment() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = (c.value + 1) % protocol.CounterModulus
	return c.value
}

// Snapshot returns a copy of the current value.
func (c *Counter) Snapshot() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Run is the background updater. It increments the counter, waits for
// interval, and repeats until ctx is done.
//
// Returns:
//   - ctx.Err() once ctx is cancelled
//   - *errors.ValidationError if interval is not positive
func (c *Counter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return &errors.ValidationError{
			Field:   "update interval",
			Value:   interval,
			Message: "must be positive",
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Increment()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package objectmgr

import (
	"context"
	"sync"

	"github.com/objectfs/objectcache/pkg/errors"
)

// counter tracks objects with a flush in flight
type counter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value int
}

func newCounter() *counter {
	c := &counter{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *counter) increment(n int) {
	c.mu.Lock()
	c.value += n
	c.mu.Unlock()
}

func (c *counter) decrement(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value -= n
	if c.value < 0 {
		c.value = 0
	}
	if c.value == 0 {
		c.cond.Broadcast()
	}
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// waitUntilZero blocks until the counter drops to zero or ctx ends
func (c *counter) waitUntilZero(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.value > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeOperationCanceled, "wait for flush completion canceled").
				WithComponent("objectmgr").
				WithDetail("in_flight", c.value)
		}
		c.cond.Wait()
	}
	return nil
}

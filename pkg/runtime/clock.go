package runtime

import (
	"fmt"
	"sync"

	"github.com/relves/trustledger/pkg/types"
)

// Clock supplies the current logical tick. Components only read it.
type Clock interface {
	Now() types.Tick
}

// Advancer is implemented by clocks the host can move forward.
type Advancer interface {
	Advance(n uint64) types.Tick
}

// Counter is a monotonically non-decreasing in-process clock.
type Counter struct {
	mu   sync.Mutex
	tick types.Tick
}

var _ Advancer = (*Counter)(nil)

// NewCounter returns a clock reading start.
func NewCounter(start types.Tick) *Counter {
	return &Counter{tick: start}
}

func (c *Counter) Now() types.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Advance moves the clock forward by n ticks and returns the new reading.
func (c *Counter) Advance(n uint64) types.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += types.Tick(n)
	return c.tick
}

// Set moves the clock to t. The clock never moves backwards.
func (c *Counter) Set(t types.Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < c.tick {
		return fmt.Errorf("clock cannot move backwards from %d to %d", c.tick, t)
	}
	c.tick = t
	return nil
}

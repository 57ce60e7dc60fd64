// Package stats tracks network throughput.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Rates are byte counts for the last completed second.
type Rates struct {
	InBytes  int64 `json:"networkIn"`
	OutBytes int64 `json:"networkOut"`
}

// Counters accumulate inbound and outbound bytes and roll them every second.
type Counters struct {
	clock clock.Clock
	in    atomic.Int64
	out   atomic.Int64

	mu        sync.Mutex
	last      Rates
	lastReset time.Time
}

func NewCounters(clk clock.Clock) *Counters {
	return &Counters{clock: clk, lastReset: clk.Now()}
}

func (c *Counters) AddIn(n int)  { c.in.Add(int64(n)) }
func (c *Counters) AddOut(n int) { c.out.Add(int64(n)) }

// Roll moves the running totals into the last-second snapshot once a second
// has passed since the previous roll.
func (c *Counters) Roll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if now.Sub(c.lastReset) < time.Second {
		return
	}
	c.last = Rates{InBytes: c.in.Swap(0), OutBytes: c.out.Swap(0)}
	c.lastReset = now
}

// Snapshot returns the last completed second.
func (c *Counters) Snapshot() Rates {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

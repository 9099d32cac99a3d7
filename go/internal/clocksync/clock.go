package clocksync

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// NetworkClock reads the shared network time: the local clock shifted by the
// last estimated offset. Timers and tickers run on the local clock since
// durations are unaffected by the offset.
type NetworkClock struct {
	clockwork.Clock
	offset atomic.Int64
}

var _ clockwork.Clock = (*NetworkClock)(nil)

// NewNetworkClock wraps local with a zero offset
func NewNetworkClock(local clockwork.Clock) *NetworkClock {
	return &NetworkClock{Clock: local}
}

// Local returns the unshifted clock
func (c *NetworkClock) Local() clockwork.Clock { return c.Clock }

// Offset returns the current offset
func (c *NetworkClock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// SetOffset replaces the current offset
func (c *NetworkClock) SetOffset(d time.Duration) {
	c.offset.Store(int64(d))
}

func (c *NetworkClock) Now() time.Time {
	return c.Clock.Now().Add(c.Offset())
}

func (c *NetworkClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *NetworkClock) Until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}

// ToLocal converts a network instant into the local time base
func (c *NetworkClock) ToLocal(t time.Time) time.Time {
	return t.Add(-c.Offset())
}

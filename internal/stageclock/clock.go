// Package stageclock provides the countdown that drives one timed stage.
//
// Remaining time is always derived from a stored deadline rather than a
// decremented counter, so a delayed or throttled tick reports the true
// remaining time instead of drifting.
package stageclock

import (
	"sync"
	"time"
)

// Option configures a Clock.
type Option func(*Clock)

// WithUnit sets the length of one countdown second. Tests shrink it.
func WithUnit(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.unit = d
		}
	}
}

// WithNow replaces the time source used to compute remaining time.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// Clock arms at most one countdown at a time.
type Clock struct {
	unit time.Duration
	now  func() time.Time

	mu     sync.Mutex
	active *countdown
}

type countdown struct {
	deadline time.Time
	total    int
	stop     chan struct{}
}

// New creates a disarmed Clock with one-second resolution.
func New(opts ...Option) *Clock {
	c := &Clock{
		unit: time.Second,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start arms a countdown of seconds. onTick receives the remaining whole
// seconds on every tick; onExpire fires once when the deadline passes.
// A countdown already armed is cancelled first, with the same guarantee
// as Cancel. A zero duration expires on the next tick.
//
// Callbacks run on the countdown's goroutine without the clock lock held,
// so they may call Cancel or Start.
func (c *Clock) Start(seconds int, onTick func(remaining int), onExpire func()) {
	if seconds < 0 {
		seconds = 0
	}
	cd := &countdown{
		deadline: c.now().Add(time.Duration(seconds) * c.unit),
		total:    seconds,
		stop:     make(chan struct{}),
	}

	c.mu.Lock()
	if c.active != nil {
		close(c.active.stop)
	}
	c.active = cd
	c.mu.Unlock()

	go c.run(cd, onTick, onExpire)
}

// Cancel disarms the active countdown. Once Cancel returns no further tick
// or expiry starts for it; one whose delivery had already begun may still
// complete, so callers tag callbacks if they must ignore late ones.
func (c *Clock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		close(c.active.stop)
		c.active = nil
	}
}

// Armed reports whether a countdown is running.
func (c *Clock) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Remaining returns the whole seconds left on the active countdown, or 0.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	cd := c.active
	c.mu.Unlock()
	if cd == nil {
		return 0
	}
	return c.remainingAt(cd, c.now())
}

func (c *Clock) run(cd *countdown, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(c.unit)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.C:
		}

		remaining := c.remainingAt(cd, c.now())

		// Decided under the lock; the callback itself runs outside it.
		c.mu.Lock()
		if c.active != cd {
			c.mu.Unlock()
			return
		}
		if remaining <= 0 {
			c.active = nil
		}
		c.mu.Unlock()

		if remaining <= 0 {
			if onExpire != nil {
				onExpire()
			}
			return
		}
		if onTick != nil {
			onTick(remaining)
		}
	}
}

// remainingAt rounds up so a countdown shows its full length until the
// first whole second has elapsed.
func (c *Clock) remainingAt(cd *countdown, now time.Time) int {
	left := cd.deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + c.unit - 1) / c.unit)
}

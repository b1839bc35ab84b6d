package interaction

import (
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/platform/clock"
)

// CountdownTick is the sampling period of a Countdown.
const CountdownTick = time.Second

// Countdown samples the clock every CountdownTick until the target is reached.
type Countdown struct {
	scheduler clock.Scheduler
	target    time.Time
	onZero    func()

	mu        sync.Mutex
	remaining time.Duration
	done      bool
	started   bool
	closed    bool
	timer     clock.Timer
}

// NewCountdown prepares a countdown to target. onZero runs once, from a timer, when it reaches zero.
func NewCountdown(s clock.Scheduler, target time.Time, onZero func()) *Countdown {
	if onZero == nil {
		onZero = func() {}
	}
	return &Countdown{scheduler: s, target: target, onZero: onZero}
}

// Start takes the first sample. A target already in the past completes on a zero-delay timer.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.sampleLocked()
	if c.done {
		c.timer = c.scheduler.AfterFunc(0, c.fireZero)
		return
	}
	c.timer = clock.Ticker(c.scheduler, CountdownTick, c.tick)
}

// Remaining is the duration left at the last sample, never negative.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Done reports whether the target has been reached.
func (c *Countdown) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Target returns the countdown target.
func (c *Countdown) Target() time.Time { return c.target }

// Close cancels sampling. onZero will not run after Close returns.
func (c *Countdown) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Countdown) tick() {
	c.mu.Lock()
	if c.closed || c.done {
		c.mu.Unlock()
		return
	}
	c.sampleLocked()
	if !c.done {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.onZero()
}

func (c *Countdown) fireZero() {
	c.mu.Lock()
	closed := c.closed
	c.timer = nil
	c.mu.Unlock()
	if !closed {
		c.onZero()
	}
}

func (c *Countdown) sampleLocked() {
	left := c.target.Sub(c.scheduler.Now())
	if left <= 0 {
		c.remaining = 0
		c.done = true
		return
	}
	c.remaining = left
}

// Breakdown splits d into whole days, hours, minutes and seconds.
func Breakdown(d time.Duration) (days, hours, minutes, seconds int) {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	days = total / 86400
	hours = total % 86400 / 3600
	minutes = total % 3600 / 60
	seconds = total % 60
	return days, hours, minutes, seconds
}

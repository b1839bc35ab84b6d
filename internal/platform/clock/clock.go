// Package clock abstracts wall time and cancellable timers so session timers can be driven manually in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the callback from running.
	Stop() bool
}

// Scheduler creates timers and reports the current time.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is the wall-clock scheduler backed by time.AfterFunc.
type Real struct{}

// NewReal returns the wall-clock scheduler.
func NewReal() Scheduler {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Ticker invokes fn every interval until the returned timer is stopped.
func Ticker(s Scheduler, interval time.Duration, fn func()) Timer {
	t := &ticker{scheduler: s, interval: interval, fn: fn}
	t.schedule()
	return t
}

type ticker struct {
	scheduler Scheduler
	interval  time.Duration
	fn        func()

	mu      sync.Mutex
	current Timer
	stopped bool
}

func (t *ticker) schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.current = t.scheduler.AfterFunc(t.interval, t.fire)
}

func (t *ticker) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.fn()
	t.schedule()
}

func (t *ticker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	if t.current != nil {
		t.current.Stop()
	}
	return true
}

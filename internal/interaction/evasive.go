package interaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/platform/clock"
)

// DefaultAcceptDelay is the celebration shown before an accepted choice advances.
const DefaultAcceptDelay = 2 * time.Second

// Position places the negative control, in percent of the page box.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
}

var evasiveLabels = []string{
	"No",
	"Are you sure?",
	"Really?",
	"Think again!",
	"Last chance...",
	"Pretty please?",
	"You can't catch me",
}

// PositionFor is the deterministic placement of the negative control after declines attempts.
func PositionFor(declines int) Position {
	if declines <= 0 {
		return Position{X: 60, Y: 70, Label: evasiveLabels[0]}
	}
	h := uint64(declines) * 0x9E3779B97F4A7C15
	h ^= h >> 29
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 32
	label := evasiveLabels[len(evasiveLabels)-1]
	if declines < len(evasiveLabels) {
		label = evasiveLabels[declines]
	}
	return Position{
		X:     5 + float64(h%8000)/100,
		Y:     10 + float64((h>>16)%7000)/100,
		Label: label,
	}
}

// EvasiveChoice counts declines of a question that can only really be answered yes.
type EvasiveChoice struct {
	scheduler clock.Scheduler
	delay     time.Duration
	onAccept  func()

	mu       sync.Mutex
	declines int
	accepted bool
	fired    bool
	timer    clock.Timer
	closed   bool
}

// NewEvasiveChoice calls onAccept once, delay after the positive choice. delay <= 0 selects DefaultAcceptDelay.
func NewEvasiveChoice(s clock.Scheduler, delay time.Duration, onAccept func()) *EvasiveChoice {
	if delay <= 0 {
		delay = DefaultAcceptDelay
	}
	if onAccept == nil {
		onAccept = func() {}
	}
	return &EvasiveChoice{scheduler: s, delay: delay, onAccept: onAccept}
}

// Decline records an interaction with the negative control and returns the new count.
// There is no cap. Declines after acceptance are ignored.
func (e *EvasiveChoice) Decline() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.accepted && !e.closed {
		e.declines++
	}
	return e.declines
}

// Declines returns the declined-attempt counter.
func (e *EvasiveChoice) Declines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.declines
}

// NegativePosition is PositionFor(Declines()).
func (e *EvasiveChoice) NegativePosition() Position {
	return PositionFor(e.Declines())
}

// Accept starts the celebration. Only the first call is accepted.
func (e *EvasiveChoice) Accept() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.accepted {
		return fmt.Errorf("%w: already answered", ErrInvalidTransition)
	}
	e.accepted = true
	e.timer = e.scheduler.AfterFunc(e.delay, e.fire)
	return nil
}

// Accepted reports whether the positive control was chosen.
func (e *EvasiveChoice) Accepted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted
}

// Celebrating is true between Accept and the advance callback.
func (e *EvasiveChoice) Celebrating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted && !e.fired
}

// Close cancels a pending accept callback.
func (e *EvasiveChoice) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *EvasiveChoice) fire() {
	e.mu.Lock()
	if e.closed || e.fired {
		e.mu.Unlock()
		return
	}
	e.fired = true
	e.timer = nil
	e.mu.Unlock()
	e.onAccept()
}

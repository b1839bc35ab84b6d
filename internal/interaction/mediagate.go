package interaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/platform/clock"
)

// GateState is a state of the media-gated reveal.
type GateState string

const (
	GateClosed         GateState = "closed"
	GatePlaying        GateState = "playing"
	GateEnded          GateState = "ended"
	GateAwaitingChoice GateState = "awaiting_choice"
	GateCelebrating    GateState = "celebrating"
	GateDeclined       GateState = "declined"
	GateFinished       GateState = "finished"
)

// DefaultCelebration is how long the celebrating state lasts.
const DefaultCelebration = 3 * time.Second

// MediaGateOptions configures a MediaGate.
type MediaGateOptions struct {
	// Branch enables the post-media binary choice.
	Branch       bool
	CelebrateFor time.Duration
	// OnChange runs after every transition, including timed ones.
	OnChange func(GateState)
}

// MediaGate is the closed box / video reveal machine:
// Closed -> Playing -> Ended -> [AwaitingChoice -> Celebrating|Declined] -> Finished.
type MediaGate struct {
	scheduler    clock.Scheduler
	branch       bool
	celebrateFor time.Duration
	onChange     func(GateState)

	mu      sync.Mutex
	state   GateState
	outcome GateState
	history []GateState
	timer   clock.Timer
	closed  bool
}

func NewMediaGate(s clock.Scheduler, opts MediaGateOptions) *MediaGate {
	celebrate := opts.CelebrateFor
	if celebrate <= 0 {
		celebrate = DefaultCelebration
	}
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func(GateState) {}
	}
	return &MediaGate{
		scheduler:    s,
		branch:       opts.Branch,
		celebrateFor: celebrate,
		onChange:     onChange,
		state:        GateClosed,
		history:      []GateState{GateClosed},
	}
}

// Open starts the media. It is always a user action.
func (g *MediaGate) Open() error {
	return g.transition(func() error {
		if err := g.expectLocked(GateClosed); err != nil {
			return err
		}
		g.enterLocked(GatePlaying)
		return nil
	})
}

// MediaEnded handles the media completion signal.
func (g *MediaGate) MediaEnded() error {
	return g.transition(func() error {
		if err := g.expectLocked(GatePlaying); err != nil {
			return err
		}
		g.enterLocked(GateEnded)
		if g.branch {
			g.enterLocked(GateAwaitingChoice)
		} else {
			g.enterLocked(GateFinished)
		}
		return nil
	})
}

// Choose answers the post-media question.
func (g *MediaGate) Choose(positive bool) error {
	return g.transition(func() error {
		if err := g.expectLocked(GateAwaitingChoice); err != nil {
			return err
		}
		if !positive {
			g.outcome = GateDeclined
			g.enterLocked(GateDeclined)
			g.enterLocked(GateFinished)
			return nil
		}
		g.outcome = GateCelebrating
		g.enterLocked(GateCelebrating)
		g.timer = g.scheduler.AfterFunc(g.celebrateFor, g.finishCelebration)
		return nil
	})
}

// State returns the current state.
func (g *MediaGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Outcome is GateCelebrating or GateDeclined once a choice has been made, empty otherwise.
func (g *MediaGate) Outcome() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// History lists every state entered, in order.
func (g *MediaGate) History() []GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GateState(nil), g.history...)
}

// CanAdvance reports whether the outer cursor may leave the page.
func (g *MediaGate) CanAdvance() bool {
	return g.State() == GateFinished
}

// Close cancels the celebration timer.
func (g *MediaGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *MediaGate) finishCelebration() {
	g.mu.Lock()
	if g.closed || g.state != GateCelebrating {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	g.enterLocked(GateFinished)
	g.mu.Unlock()
	g.onChange(GateFinished)
}

func (g *MediaGate) transition(fn func() error) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("%w: gate closed", ErrInvalidTransition)
	}
	if err := fn(); err != nil {
		g.mu.Unlock()
		return err
	}
	state := g.state
	g.mu.Unlock()
	g.onChange(state)
	return nil
}

func (g *MediaGate) expectLocked(want GateState) error {
	if g.state != want {
		return fmt.Errorf("%w: %s does not accept this event (want %s)", ErrInvalidTransition, g.state, want)
	}
	return nil
}

func (g *MediaGate) enterLocked(next GateState) {
	g.state = next
	g.history = append(g.history, next)
}

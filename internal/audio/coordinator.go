// Package audio coordinates background music and effect sounds for one editor or viewer session.
//
// A Coordinator models browser autoplay rules: nothing is audible until Unlock has been
// called from a user gesture, and background music is never started implicitly. Requests
// made while locked or muted are remembered and take effect once both gates open.
package audio

import (
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/platform/clock"
)

const (
	// BaseVolume is the background level outside of ducking.
	BaseVolume = 1.0
	// DuckVolume is the background level while an effect plays.
	DuckVolume = 0.2
	// DuckRestoreDelay is how long a duck lasts before the base volume returns.
	DuckRestoreDelay = time.Second
)

// Player receives the audible side effects decided by a Coordinator.
type Player interface {
	PlayBackground(url string)
	PauseBackground()
	SetVolume(volume float64)
	PlayEffect(effectID string)
}

// State is a point-in-time copy of the coordinator axes.
type State struct {
	Unlocked          bool    `json:"unlocked"`
	Muted             bool    `json:"muted"`
	TrackURL          string  `json:"trackUrl,omitempty"`
	BackgroundStarted bool    `json:"backgroundStarted"`
	Playing           bool    `json:"playing"`
	Volume            float64 `json:"volume"`
	Ducked            bool    `json:"ducked"`
}

// Options configures a Coordinator.
type Options struct {
	Player    Player
	Scheduler clock.Scheduler
	// Track is the default background track used when PlayBackground is called with an empty URL.
	Track string
}

// Coordinator is safe for concurrent use. Construct one per session and Dispose it on teardown.
type Coordinator struct {
	player    Player
	scheduler clock.Scheduler

	mu                sync.Mutex
	unlocked          bool
	muted             bool
	track             string
	backgroundStarted bool
	playing           bool
	volume            float64
	restore           clock.Timer
	duckGeneration    int
	disposed          bool
}

// NewCoordinator builds a locked, unmuted coordinator.
func NewCoordinator(opts Options) *Coordinator {
	player := opts.Player
	if player == nil {
		player = discardPlayer{}
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	return &Coordinator{
		player:    player,
		scheduler: scheduler,
		track:     opts.Track,
		volume:    BaseVolume,
	}
}

// Unlock records the first user gesture. It reports whether this call changed the lock state.
// A background request made earlier starts now if the session is not muted.
func (c *Coordinator) Unlock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.unlocked {
		return false
	}
	c.unlocked = true
	c.syncLocked()
	return true
}

// PlayBackground requests background playback. An empty url keeps the current track.
// The request is remembered even when it cannot be heard yet.
func (c *Coordinator) PlayBackground(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	if url != "" && url != c.track {
		if c.playing {
			c.player.PauseBackground()
			c.playing = false
		}
		c.track = url
	}
	c.backgroundStarted = true
	c.syncLocked()
}

// SetMuted silences or resumes the background track.
func (c *Coordinator) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.muted = muted
	if muted {
		if c.playing {
			c.player.PauseBackground()
			c.playing = false
		}
		return
	}
	c.syncLocked()
}

// Duck lowers the background, plays the effect and restores the base volume after
// DuckRestoreDelay. Overlapping ducks push the restore out; they do not stack.
// It reports whether the effect was played.
func (c *Coordinator) Duck(effectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || !c.unlocked || c.muted {
		return false
	}
	if c.restore != nil {
		c.restore.Stop()
	}
	c.volume = DuckVolume
	c.player.SetVolume(DuckVolume)
	c.player.PlayEffect(effectID)

	c.duckGeneration++
	generation := c.duckGeneration
	c.restore = c.scheduler.AfterFunc(DuckRestoreDelay, func() {
		c.restoreVolume(generation)
	})
	return true
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Unlocked:          c.unlocked,
		Muted:             c.muted,
		TrackURL:          c.track,
		BackgroundStarted: c.backgroundStarted,
		Playing:           c.playing,
		Volume:            c.volume,
		Ducked:            c.volume != BaseVolume,
	}
}

// Dispose stops playback and releases the restore timer. Later calls are ignored.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	if c.restore != nil {
		c.restore.Stop()
		c.restore = nil
	}
	if c.playing {
		c.player.PauseBackground()
		c.playing = false
	}
}

func (c *Coordinator) restoreVolume(generation int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || generation != c.duckGeneration {
		return
	}
	c.restore = nil
	c.volume = BaseVolume
	c.player.SetVolume(BaseVolume)
}

func (c *Coordinator) syncLocked() {
	if c.playing || !c.backgroundStarted || !c.unlocked || c.muted || c.track == "" {
		return
	}
	c.player.PlayBackground(c.track)
	c.playing = true
}

type discardPlayer struct{}

func (discardPlayer) PlayBackground(string) {}
func (discardPlayer) PauseBackground()      {}
func (discardPlayer) SetVolume(float64)     {}
func (discardPlayer) PlayEffect(string)     {}

package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giftcraft/experience/internal/platform/clock"
)

const track = "https://cdn.example.com/theme.mp3"

func newTestCoordinator(t *testing.T) (*Coordinator, *CommandLog, *clock.Manual) {
	t.Helper()
	log := NewCommandLog(0)
	manual := clock.NewManual(time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC))
	c := NewCoordinator(Options{Player: log, Scheduler: manual, Track: track})
	return c, log, manual
}

func kinds(cmds []Command) []CommandKind {
	out := make([]CommandKind, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Kind
	}
	return out
}

func TestNothingPlaysOnMount(t *testing.T) {
	c, log, _ := newTestCoordinator(t)
	require.True(t, c.Unlock())
	require.False(t, c.Unlock())

	state := c.Snapshot()
	require.True(t, state.Unlocked)
	require.False(t, state.BackgroundStarted)
	require.False(t, state.Playing)
	require.Empty(t, log.Since(0))
}

func TestPlayBeforeUnlockStartsRetroactively(t *testing.T) {
	c, log, _ := newTestCoordinator(t)

	c.PlayBackground("")
	state := c.Snapshot()
	require.True(t, state.BackgroundStarted)
	require.False(t, state.Playing)
	require.Empty(t, log.Since(0))

	c.Unlock()
	require.True(t, c.Snapshot().Playing)
	cmds := log.Since(0)
	require.Len(t, cmds, 1)
	require.Equal(t, CommandPlayBackground, cmds[0].Kind)
	require.Equal(t, track, cmds[0].URL)
}

func TestMuteAndUnmute(t *testing.T) {
	c, log, _ := newTestCoordinator(t)

	c.SetMuted(false)
	require.Empty(t, log.Since(0), "unmute without a request must stay silent")

	c.Unlock()
	c.SetMuted(true)
	c.PlayBackground("")
	require.False(t, c.Snapshot().Playing)

	c.SetMuted(false)
	require.True(t, c.Snapshot().Playing)

	c.SetMuted(true)
	require.False(t, c.Snapshot().Playing)
	require.Equal(t, []CommandKind{CommandPlayBackground, CommandPauseBackground}, kinds(log.Since(0)))
}

func TestSwitchingTrackRestartsPlayback(t *testing.T) {
	c, log, _ := newTestCoordinator(t)
	c.Unlock()
	c.PlayBackground("")
	c.PlayBackground("https://cdn.example.com/other.mp3")

	cmds := log.Since(0)
	require.Equal(t, []CommandKind{CommandPlayBackground, CommandPauseBackground, CommandPlayBackground}, kinds(cmds))
	require.Equal(t, "https://cdn.example.com/other.mp3", cmds[2].URL)
}

func TestDuckRestoresToBaseline(t *testing.T) {
	c, log, manual := newTestCoordinator(t)

	require.False(t, c.Duck("chime"), "locked sessions play no effects")

	c.Unlock()
	c.PlayBackground("")
	require.True(t, c.Duck("chime"))
	require.InDelta(t, DuckVolume, c.Snapshot().Volume, 1e-9)

	manual.Advance(600 * time.Millisecond)
	require.True(t, c.Duck("pop"))
	manual.Advance(600 * time.Millisecond)
	require.True(t, c.Snapshot().Ducked, "second duck pushes the restore out")

	manual.Advance(500 * time.Millisecond)
	state := c.Snapshot()
	require.False(t, state.Ducked)
	require.InDelta(t, BaseVolume, state.Volume, 1e-9)
	require.Zero(t, manual.Pending())

	var volumes []float64
	for _, cmd := range log.Since(0) {
		if cmd.Kind == CommandSetVolume {
			volumes = append(volumes, cmd.Volume)
		}
	}
	require.Equal(t, []float64{DuckVolume, DuckVolume, BaseVolume}, volumes)
}

func TestDisposeReleasesTimers(t *testing.T) {
	c, log, manual := newTestCoordinator(t)
	c.Unlock()
	c.PlayBackground("")
	c.Duck("chime")
	require.Equal(t, 1, manual.Pending())

	c.Dispose()
	require.Zero(t, manual.Pending())
	require.False(t, c.Snapshot().Playing)

	before := log.Last()
	c.PlayBackground("")
	c.SetMuted(false)
	manual.Advance(time.Minute)
	require.Equal(t, before, log.Last())
}

func TestCommandLogKeepsRecentCommands(t *testing.T) {
	log := NewCommandLog(2)
	log.PlayEffect("a")
	log.PlayEffect("b")
	log.PlayEffect("c")

	cmds := log.Since(0)
	require.Len(t, cmds, 2)
	require.Equal(t, "b", cmds[0].EffectID)
	require.Equal(t, 3, cmds[1].Seq)
	require.Len(t, log.Since(2), 1)
}

func TestTeeForwardsToEveryPlayer(t *testing.T) {
	a, b := NewCommandLog(0), NewCommandLog(0)
	p := Tee(a, nil, b)

	p.PlayBackground(track)
	p.SetVolume(DuckVolume)
	p.PlayEffect("confetti")
	p.PauseBackground()

	want := []CommandKind{CommandPlayBackground, CommandSetVolume, CommandPlayEffect, CommandPauseBackground}
	require.Equal(t, want, kinds(a.Since(0)))
	require.Equal(t, want, kinds(b.Since(0)))
}

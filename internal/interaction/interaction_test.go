package interaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giftcraft/experience/internal/platform/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCountdownTicksToZero(t *testing.T) {
	manual := clock.NewManual(epoch)
	zero := 0
	c := NewCountdown(manual, epoch.Add(3*time.Second+500*time.Millisecond), func() { zero++ })
	c.Start()
	require.Equal(t, 3500*time.Millisecond, c.Remaining())
	require.False(t, c.Done())

	manual.Advance(time.Second)
	require.Equal(t, 2500*time.Millisecond, c.Remaining())

	manual.Advance(3 * time.Second)
	require.True(t, c.Done())
	require.Zero(t, c.Remaining())
	require.Equal(t, 1, zero)

	manual.Advance(time.Minute)
	require.Equal(t, 1, zero)
	require.Zero(t, manual.Pending())
}

func TestCountdownPastTargetIsImmediatelyDone(t *testing.T) {
	manual := clock.NewManual(epoch)
	zero := 0
	c := NewCountdown(manual, epoch.Add(-48*time.Hour), func() { zero++ })
	c.Start()

	require.True(t, c.Done())
	require.Zero(t, c.Remaining())
	require.Zero(t, zero, "callback is delivered from a timer")

	manual.Advance(0)
	require.Equal(t, 1, zero)
}

func TestCountdownCloseCancels(t *testing.T) {
	manual := clock.NewManual(epoch)
	zero := 0
	c := NewCountdown(manual, epoch.Add(2*time.Second), func() { zero++ })
	c.Start()
	c.Close()
	manual.Advance(10 * time.Second)
	require.Zero(t, zero)
	require.Zero(t, manual.Pending())
}

func TestBreakdown(t *testing.T) {
	d, h, m, s := Breakdown(50*time.Hour + 3*time.Minute + 7*time.Second + 900*time.Millisecond)
	require.Equal(t, []int{2, 2, 3, 7}, []int{d, h, m, s})
	d, h, m, s = Breakdown(-time.Second)
	require.Equal(t, []int{0, 0, 0, 0}, []int{d, h, m, s})
}

func TestMediaGateWithBranch(t *testing.T) {
	manual := clock.NewManual(epoch)
	var seen []GateState
	g := NewMediaGate(manual, MediaGateOptions{Branch: true, OnChange: func(s GateState) { seen = append(seen, s) }})

	require.ErrorIs(t, g.MediaEnded(), ErrInvalidTransition)
	require.NoError(t, g.Open())
	require.ErrorIs(t, g.Open(), ErrInvalidTransition)
	require.NoError(t, g.MediaEnded())
	require.Equal(t, GateAwaitingChoice, g.State())
	require.False(t, g.CanAdvance())

	require.NoError(t, g.Choose(true))
	require.Equal(t, GateCelebrating, g.State())
	manual.Advance(2999 * time.Millisecond)
	require.False(t, g.CanAdvance())
	manual.Advance(time.Millisecond)
	require.True(t, g.CanAdvance())
	require.Equal(t, GateCelebrating, g.Outcome())

	require.Equal(t, []GateState{GateClosed, GatePlaying, GateEnded, GateAwaitingChoice, GateCelebrating, GateFinished}, g.History())
	require.Equal(t, []GateState{GatePlaying, GateAwaitingChoice, GateCelebrating, GateFinished}, seen)
}

func TestMediaGateDeclineAndNoBranch(t *testing.T) {
	manual := clock.NewManual(epoch)

	declined := NewMediaGate(manual, MediaGateOptions{Branch: true})
	require.NoError(t, declined.Open())
	require.NoError(t, declined.MediaEnded())
	require.NoError(t, declined.Choose(false))
	require.True(t, declined.CanAdvance())
	require.Equal(t, GateDeclined, declined.Outcome())
	require.ErrorIs(t, declined.Choose(true), ErrInvalidTransition)

	plain := NewMediaGate(manual, MediaGateOptions{})
	require.NoError(t, plain.Open())
	require.NoError(t, plain.MediaEnded())
	require.Equal(t, GateFinished, plain.State())
	require.ErrorIs(t, plain.Choose(true), ErrInvalidTransition)
	require.Zero(t, manual.Pending())
}

func TestMediaGateCloseStopsCelebration(t *testing.T) {
	manual := clock.NewManual(epoch)
	g := NewMediaGate(manual, MediaGateOptions{Branch: true})
	require.NoError(t, g.Open())
	require.NoError(t, g.MediaEnded())
	require.NoError(t, g.Choose(true))
	g.Close()
	manual.Advance(time.Hour)
	require.Equal(t, GateCelebrating, g.State())
	require.ErrorIs(t, g.Open(), ErrInvalidTransition)
}

func TestEvasiveChoiceScenario(t *testing.T) {
	manual := clock.NewManual(epoch)
	advances := 0
	e := NewEvasiveChoice(manual, 0, func() { advances++ })

	positions := map[Position]bool{}
	for i := 1; i <= 5; i++ {
		require.Equal(t, i, e.Decline())
		positions[e.NegativePosition()] = true
	}
	require.Equal(t, 5, e.Declines())
	require.Len(t, positions, 5)
	require.Equal(t, PositionFor(5), e.NegativePosition())

	require.NoError(t, e.Accept())
	require.ErrorIs(t, e.Accept(), ErrInvalidTransition)
	require.True(t, e.Celebrating())
	require.Equal(t, 5, e.Decline(), "declines after acceptance are ignored")

	manual.Advance(DefaultAcceptDelay - time.Millisecond)
	require.Zero(t, advances)
	manual.Advance(time.Millisecond)
	require.Equal(t, 1, advances)
	require.False(t, e.Celebrating())

	manual.Advance(time.Hour)
	require.Equal(t, 1, advances)
}

func TestPositionForIsBoundedAndUncapped(t *testing.T) {
	require.Equal(t, "No", PositionFor(0).Label)
	for n := 1; n < 500; n++ {
		p := PositionFor(n)
		require.GreaterOrEqual(t, p.X, 5.0)
		require.Less(t, p.X, 85.0)
		require.GreaterOrEqual(t, p.Y, 10.0)
		require.Less(t, p.Y, 80.0)
		require.NotEmpty(t, p.Label)
	}
	require.Equal(t, PositionFor(1000), PositionFor(1000))
}

package renderer

import (
	"fmt"
	"strings"
	"time"

	"github.com/giftcraft/experience/internal/interaction"
)

var targetLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseTarget(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range targetLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// CountdownUnit counts down to the targetDate field and moves on by itself at zero.
// In the editor it never advances.
type CountdownUnit struct{}

func (CountdownUnit) Mount(ctx PageContext) Instance {
	inst := &countdownInstance{base: newBase(ctx, "countdown", "targetDate", "recipientName", "headline")}
	target, ok := parseTarget(inst.ctx.Content.String("targetDate"))
	if !ok {
		return inst
	}
	editing := ctx.Editing
	inst.countdown = interaction.NewCountdown(inst.ctx.Scheduler, target, func() {
		if !editing {
			inst.advance()
		}
	})
	inst.countdown.Start()
	return inst
}

type countdownInstance struct {
	base
	countdown *interaction.Countdown
}

func (c *countdownInstance) View() View {
	v := c.view()
	if c.countdown == nil {
		v.State = "unset"
		v.Controls = []Control{{Action: ActionNext, Label: "Next", Enabled: true}}
		return v
	}
	remaining := c.countdown.Remaining()
	days, hours, minutes, seconds := interaction.Breakdown(remaining)
	v.Fields["remainingSeconds"] = int64(remaining / time.Second)
	v.Fields["days"] = days
	v.Fields["hours"] = hours
	v.Fields["minutes"] = minutes
	v.Fields["seconds"] = seconds
	done := c.countdown.Done()
	v.State = "counting"
	if done {
		v.State = "done"
	}
	v.Controls = []Control{{Action: ActionNext, Label: "Open", Enabled: done}}
	return v
}

func (c *countdownInstance) Interact(action Action) error {
	if action.Name == ActionNext && c.countdown != nil && !c.countdown.Done() {
		return fmt.Errorf("%w: countdown still running", interaction.ErrInvalidTransition)
	}
	return c.common(action)
}

func (c *countdownInstance) Close() {
	if c.countdown != nil {
		c.countdown.Close()
	}
}

// MediaGateUnit is the gift box / video reveal with an optional question after the media.
type MediaGateUnit struct{}

func (MediaGateUnit) Mount(ctx PageContext) Instance {
	inst := &mediaGateInstance{base: newBase(ctx, "media-gate", "videoUrl", "caption")}
	inst.gate = interaction.NewMediaGate(inst.ctx.Scheduler, interaction.MediaGateOptions{
		Branch:       ctx.Page.ConfigBool("branch", false),
		CelebrateFor: configSeconds(ctx.Page, "celebrate_seconds", interaction.DefaultCelebration),
		OnChange: func(state interaction.GateState) {
			if state == interaction.GateCelebrating {
				inst.duck("celebrate")
			}
		},
	})
	return inst
}

type mediaGateInstance struct {
	base
	gate *interaction.MediaGate
}

func (m *mediaGateInstance) View() View {
	v := m.view()
	state := m.gate.State()
	v.State = string(state)
	page := m.ctx.Page
	switch state {
	case interaction.GateClosed:
		v.Controls = []Control{{Action: ActionOpen, Label: page.ConfigString("open_label", "Open"), Enabled: true}}
	case interaction.GatePlaying:
		v.Controls = []Control{{Action: ActionMediaEnded, Label: "Finished watching", Enabled: true}}
	case interaction.GateAwaitingChoice:
		v.Fields["question"] = page.ConfigString("question", "Did you like it?")
		v.Controls = []Control{
			{Action: ActionChooseYes, Label: page.ConfigString("yes_label", "Yes"), Enabled: true},
			{Action: ActionChooseNo, Label: page.ConfigString("no_label", "No"), Enabled: true},
		}
	case interaction.GateCelebrating:
		v.Fields["message"] = page.ConfigString("celebrate_message", "Yay!")
	case interaction.GateFinished:
		if m.gate.Outcome() == interaction.GateDeclined {
			v.Fields["message"] = page.ConfigString("declined_message", "That's okay. Thank you for watching.")
		}
		v.Controls = []Control{{Action: ActionNext, Label: "Next", Enabled: true}}
	}
	return v
}

func (m *mediaGateInstance) Interact(action Action) error {
	switch action.Name {
	case ActionOpen:
		return m.gate.Open()
	case ActionMediaEnded:
		return m.gate.MediaEnded()
	case ActionChooseYes:
		return m.gate.Choose(true)
	case ActionChooseNo:
		return m.gate.Choose(false)
	case ActionNext:
		if !m.gate.CanAdvance() {
			return fmt.Errorf("%w: reveal not finished", interaction.ErrInvalidTransition)
		}
	}
	return m.common(action)
}

func (m *mediaGateInstance) Close() { m.gate.Close() }

// EvasiveChoiceUnit asks a question whose negative answer keeps running away.
type EvasiveChoiceUnit struct{}

func (EvasiveChoiceUnit) Mount(ctx PageContext) Instance {
	inst := &evasiveInstance{base: newBase(ctx, "evasive-choice", "question")}
	inst.choice = interaction.NewEvasiveChoice(
		inst.ctx.Scheduler,
		configSeconds(ctx.Page, "celebrate_seconds", interaction.DefaultAcceptDelay),
		inst.advance,
	)
	return inst
}

type evasiveInstance struct {
	base
	choice *interaction.EvasiveChoice
}

func (e *evasiveInstance) View() View {
	v := e.view()
	declines := e.choice.Declines()
	v.Fields["declines"] = declines
	page := e.ctx.Page
	if e.choice.Accepted() {
		v.State = "celebrating"
		if !e.choice.Celebrating() {
			v.State = "accepted"
		}
		v.Fields["message"] = page.ConfigString("celebrate_message", "I knew it!")
		return v
	}
	v.State = "asking"
	position := interaction.PositionFor(declines)
	if declines == 0 {
		position.Label = page.ConfigString("no_label", position.Label)
	}
	v.Controls = []Control{
		{Action: ActionAccept, Label: page.ConfigString("yes_label", "Yes"), Enabled: true},
		{Action: ActionDecline, Label: position.Label, Enabled: true, Position: &position},
	}
	return v
}

func (e *evasiveInstance) Interact(action Action) error {
	switch action.Name {
	case ActionDecline:
		e.choice.Decline()
		return nil
	case ActionAccept:
		if err := e.choice.Accept(); err != nil {
			return err
		}
		e.duck("celebrate")
		return nil
	case ActionNext:
		return fmt.Errorf("%w: answer the question first", interaction.ErrInvalidTransition)
	}
	return e.common(action)
}

func (e *evasiveInstance) Close() { e.choice.Close() }

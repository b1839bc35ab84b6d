package renderer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/interaction"
	"github.com/giftcraft/experience/internal/platform/clock"
)

type base struct {
	ctx    PageContext
	kind   string
	fields []string
}

func newBase(ctx PageContext, kind string, fields ...string) base {
	if ctx.Scheduler == nil {
		ctx.Scheduler = clock.NewReal()
	}
	if ctx.Content == nil {
		ctx.Content = domain.PageContent{}
	}
	known := append([]string(nil), fields...)
	for _, field := range ctx.Page.RequiredFields {
		if !containsString(known, field) {
			known = append(known, field)
		}
	}
	return base{ctx: ctx, kind: kind, fields: known}
}

func (b base) view() View {
	fields := make(map[string]any, len(b.fields))
	for _, name := range b.fields {
		if v, ok := b.ctx.Content[name]; ok && domain.IsPresent(v) {
			fields[name] = v
		}
	}
	return View{
		Kind:   b.kind,
		PageID: b.ctx.Page.ID,
		Title:  b.ctx.Page.Title,
		Fields: fields,
	}
}

func (b base) common(action Action) error {
	switch action.Name {
	case ActionNext:
		b.advance()
		return nil
	case ActionEdit:
		return b.edit(action)
	}
	return fmt.Errorf("%w: %q on %s page", ErrUnknownAction, action.Name, b.kind)
}

func (b base) edit(action Action) error {
	if !b.ctx.Editing || b.ctx.UpdateField == nil {
		return fmt.Errorf("%w: edit is only available while editing", ErrUnknownAction)
	}
	if strings.TrimSpace(action.Field) == "" {
		return fmt.Errorf("%w: edit requires a field", ErrUnknownAction)
	}
	b.ctx.UpdateField(action.Field, action.Value)
	return nil
}

func (b base) advance() {
	if b.ctx.Advance != nil {
		b.ctx.Advance()
	}
}

func (b base) duck(effectID string) {
	if b.ctx.Audio != nil && effectID != "" {
		b.ctx.Audio.Duck(effectID)
	}
}

// StaticUnit renders content whose only interaction is moving on.
type StaticUnit struct {
	Kind      string
	Fields    []string
	NextLabel string
}

func (u StaticUnit) Mount(ctx PageContext) Instance {
	label := u.NextLabel
	if label == "" {
		label = "Next"
	}
	return &staticInstance{base: newBase(ctx, u.Kind, u.Fields...), label: label}
}

type staticInstance struct {
	base
	label string
}

func (s *staticInstance) View() View {
	v := s.view()
	v.Controls = []Control{{Action: ActionNext, Label: s.label, Enabled: true}}
	return v
}

func (s *staticInstance) Interact(action Action) error { return s.common(action) }

func (s *staticInstance) Close() {}

// CelebrationUnit plays its effect over the ducked background when mounted for a viewer.
type CelebrationUnit struct{}

func (CelebrationUnit) Mount(ctx PageContext) Instance {
	inst := &celebrationInstance{
		staticInstance: staticInstance{base: newBase(ctx, "celebration", "headline", "message"), label: "Replay"},
		effect:         ctx.Page.ConfigString("effect", "confetti"),
	}
	if !ctx.Editing {
		inst.duck(inst.effect)
	}
	return inst
}

type celebrationInstance struct {
	staticInstance
	effect string
}

func (c *celebrationInstance) View() View {
	v := c.staticInstance.View()
	v.State = c.effect
	v.Controls = []Control{{Action: "replay", Label: c.label, Enabled: true}}
	return v
}

func (c *celebrationInstance) Interact(action Action) error {
	if action.Name == "replay" {
		c.duck(c.effect)
		return nil
	}
	return c.common(action)
}

// RichTextUnit renders one Markdown field as sanitised HTML.
type RichTextUnit struct {
	Kind   string
	Field  string
	Fields []string
}

func (u RichTextUnit) Mount(ctx PageContext) Instance {
	fields := append([]string{u.Field}, u.Fields...)
	return &richTextInstance{
		staticInstance: staticInstance{base: newBase(ctx, u.Kind, fields...), label: "Next"},
		html:           RenderRichText(ctx.Content.String(u.Field)),
	}
}

type richTextInstance struct {
	staticInstance
	html string
}

func (r *richTextInstance) View() View {
	v := r.staticInstance.View()
	v.HTML = r.html
	return v
}

// FlipCardsUnit shows cards that flip individually.
type FlipCardsUnit struct{}

func (FlipCardsUnit) Mount(ctx PageContext) Instance {
	return &flipCardsInstance{
		base:    newBase(ctx, "flip-cards", "cards"),
		cards:   ctx.Content.Records("cards"),
		flipped: make(map[int]bool),
	}
}

type flipCardsInstance struct {
	base
	cards []map[string]any

	mu      sync.Mutex
	flipped map[int]bool
}

func (f *flipCardsInstance) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.view()
	cards := make([]map[string]any, 0, len(f.cards))
	for i, card := range f.cards {
		cards = append(cards, map[string]any{
			"front":   card["front"],
			"back":    card["back"],
			"flipped": f.flipped[i],
		})
	}
	v.Fields["cards"] = cards
	v.State = fmt.Sprintf("%d/%d", len(f.flipped), len(f.cards))
	v.Controls = []Control{
		{Action: ActionFlip, Label: "Flip", Enabled: len(f.cards) > 0},
		{Action: ActionNext, Label: "Next", Enabled: true},
	}
	return v
}

func (f *flipCardsInstance) Interact(action Action) error {
	if action.Name != ActionFlip {
		return f.common(action)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if action.Index < 0 || action.Index >= len(f.cards) {
		return fmt.Errorf("%w: card %d out of range", interaction.ErrInvalidTransition, action.Index)
	}
	if f.flipped[action.Index] {
		delete(f.flipped, action.Index)
	} else {
		f.flipped[action.Index] = true
	}
	return nil
}

func (f *flipCardsInstance) Close() {}

// PendingUnit is the fallback for pages without an implementation. It always lets the cursor move on.
type PendingUnit struct{}

func (PendingUnit) Mount(ctx PageContext) Instance {
	return &pendingInstance{base: newBase(ctx, "pending")}
}

type pendingInstance struct {
	base
}

func (p *pendingInstance) View() View {
	v := p.view()
	v.Placeholder = true
	if v.Title == "" {
		v.Title = "Coming soon"
	}
	v.State = "pending"
	v.Controls = []Control{{Action: ActionNext, Label: "Continue", Enabled: true}}
	return v
}

func (p *pendingInstance) Interact(action Action) error { return p.common(action) }

func (p *pendingInstance) Close() {}

func configSeconds(page domain.TemplatePage, key string, fallback time.Duration) time.Duration {
	switch v := page.Config[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return fallback
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

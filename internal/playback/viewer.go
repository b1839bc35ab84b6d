package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/giftcraft/experience/internal/audio"
	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/renderer"
)

// ErrViewerClosed is returned by interactions with a closed viewer.
var ErrViewerClosed = errors.New("playback: viewer closed")

// Options configures a Viewer.
type Options struct {
	Registry  *renderer.Registry
	Scheduler clock.Scheduler
	Player    audio.Player
	Track     string
	Logger    func(context.Context, string, map[string]any)
}

// Position is the cursor as reported to the viewer shell.
type Position struct {
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	PageID string `json:"pageId"`
	AtEnd  bool   `json:"atEnd"`
}

// Viewer is the playback cursor over one published gift. The page under the
// cursor is mounted on entry and closed on leave, so page-local state resets.
type Viewer struct {
	gift      domain.Gift
	template  domain.TemplateDefinition
	registry  *renderer.Registry
	scheduler clock.Scheduler
	logger    func(context.Context, string, map[string]any)
	audio     *audio.Coordinator
	audioLog  *audio.CommandLog

	mu         sync.Mutex
	cursor     int
	instance   renderer.Instance
	generation int
	started    bool
	closed     bool
}

// NewViewer mounts the first page of tpl for gift.
func NewViewer(gift domain.Gift, tpl domain.TemplateDefinition, opts Options) *Viewer {
	registry := opts.Registry
	if registry == nil {
		registry = renderer.NewRegistry(nil)
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	track := opts.Track
	if track == "" {
		track = tpl.BackgroundTrack
	}

	log := audio.NewCommandLog(0)

	v := &Viewer{
		gift:      gift.Clone(),
		template:  tpl.Clone(),
		registry:  registry,
		scheduler: scheduler,
		logger:    logger,
		audio:     audio.NewCoordinator(audio.Options{Player: audio.Tee(log, opts.Player), Scheduler: scheduler, Track: track}),
		audioLog:  log,
	}
	v.mu.Lock()
	v.mountLocked()
	v.mu.Unlock()
	return v
}

// Gift returns the gift being played.
func (v *Viewer) Gift() domain.Gift { return v.gift.Clone() }

// Template returns the template being played.
func (v *Viewer) Template() domain.TemplateDefinition { return v.template.Clone() }

// Audio returns the viewer's audio coordinator.
func (v *Viewer) Audio() *audio.Coordinator { return v.audio }

// AudioLog returns the commands issued by the viewer's audio coordinator.
func (v *Viewer) AudioLog() *audio.CommandLog { return v.audioLog }

// Cursor returns the current page index.
func (v *Viewer) Cursor() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cursor
}

// Position returns the cursor with its bounds.
func (v *Viewer) Position() Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionLocked()
}

// CurrentPage returns the template page under the cursor.
func (v *Viewer) CurrentPage() domain.TemplatePage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pageLocked().Clone()
}

// View renders the current page.
func (v *Viewer) View() renderer.View {
	v.mu.Lock()
	inst := v.instance
	v.mu.Unlock()
	if inst == nil {
		return renderer.View{}
	}
	return inst.View()
}

// Advance asks the current page to let the cursor move on. Gated pages refuse
// with interaction.ErrInvalidTransition until their gate opens. At the last page
// it returns false. The first successful advance requests the background track.
func (v *Viewer) Advance() (bool, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false, ErrViewerClosed
	}
	inst := v.instance
	gen := v.generation
	v.mu.Unlock()
	if inst == nil {
		return false, nil
	}
	if err := inst.Interact(renderer.Action{Name: renderer.ActionNext}); err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed && v.generation != gen, nil
}

// Interact routes action to the current page. The page may advance the cursor.
func (v *Viewer) Interact(action renderer.Action) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewerClosed
	}
	inst := v.instance
	v.mu.Unlock()
	if inst == nil {
		return fmt.Errorf("%w: %q on empty template", renderer.ErrUnknownAction, action.Name)
	}
	return inst.Interact(action)
}

// Close releases the page instance and disposes the audio coordinator. It is idempotent.
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.generation++
	inst := v.instance
	v.instance = nil
	v.mu.Unlock()

	if inst != nil {
		inst.Close()
	}
	v.audio.Dispose()
}

// Closed reports whether Close has been called.
func (v *Viewer) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// advanceFrom ignores requests made by instances that are no longer current.
func (v *Viewer) advanceFrom(gen int) bool {
	v.mu.Lock()
	if v.closed || gen != v.generation || v.cursor >= len(v.template.Pages)-1 {
		v.mu.Unlock()
		return false
	}
	old := v.instance
	v.cursor++
	first := !v.started
	v.started = true
	v.mountLocked()
	pos := v.positionLocked()
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if first {
		v.audio.PlayBackground("")
	}
	v.logger(context.Background(), "playback.cursor.advanced", map[string]any{"shareId": v.gift.ShareID, "index": pos.Index, "pageId": pos.PageID})
	return true
}

func (v *Viewer) mountLocked() {
	v.generation++
	gen := v.generation
	if len(v.template.Pages) == 0 {
		v.instance = nil
		return
	}
	page := v.pageLocked()
	unit := v.registry.Resolve(v.template.Slug, page.ID)
	v.instance = unit.Mount(renderer.PageContext{
		TemplateSlug: v.template.Slug,
		Page:         page,
		Content:      v.gift.Content.Page(page.ID).Clone(),
		Editing:      false,
		Advance:      func() { v.advanceFrom(gen) },
		Scheduler:    v.scheduler,
		Audio:        v.audio,
	})
}

func (v *Viewer) pageLocked() domain.TemplatePage {
	if v.cursor < 0 || v.cursor >= len(v.template.Pages) {
		return domain.TemplatePage{}
	}
	return v.template.Pages[v.cursor]
}

func (v *Viewer) positionLocked() Position {
	return Position{
		Index:  v.cursor,
		Total:  len(v.template.Pages),
		PageID: v.pageLocked().ID,
		AtEnd:  v.cursor >= len(v.template.Pages)-1,
	}
}

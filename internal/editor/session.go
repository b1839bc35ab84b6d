// Package editor holds the server side of one editing session for a gift draft.
//
// A Session owns the in-memory content bag, merges field edits into it, autosaves
// on a fixed interval and serialises saves so at most one write per session is in
// flight. Late save results never touch a closed session.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/audio"
	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/services"
)

// DefaultAutosaveInterval is the autosave period when Deps leaves it unset.
const DefaultAutosaveInterval = 30 * time.Second

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("editor: session closed")
	// ErrInvalidEdit indicates a field edit without page or field name.
	ErrInvalidEdit = errors.New("editor: invalid edit")
)

// State is the draft lifecycle state.
type State string

const (
	StateLoading   State = "loading"
	StateClean     State = "clean"
	StateDirty     State = "dirty"
	StateSaving    State = "saving"
	StateSaveError State = "save_error"
)

// SaveError wraps a failed content write. The draft is kept and the session is dirty again.
type SaveError struct {
	Err      error
	At       time.Time
	Explicit bool
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("editor: save failed: %v", e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Retryable is false when the store rejected the content itself; resending the
// same draft cannot succeed.
func (e *SaveError) Retryable() bool { return !errors.Is(e.Err, services.ErrGiftInvalidInput) }

// PublishResult is returned by Publish. ValidationSkipped is informational:
// publishing is not gated on completeness.
type PublishResult struct {
	Gift              domain.Gift
	ShareID           string
	IncompletePages   []string
	ValidationSkipped bool
}

// Deps wires a Session.
type Deps struct {
	Content  services.ContentService
	Registry *renderer.Registry
	// Scheduler drives autosave and preview timers. Defaults to the wall clock.
	Scheduler        clock.Scheduler
	AutosaveInterval time.Duration
	// AudioPlayer receives preview audio commands in addition to the session command log.
	AudioPlayer audio.Player
	// OnStateChange observes every state transition. It runs outside the session lock.
	OnStateChange func(from, to State)
	Logger        func(context.Context, string, map[string]any)
}

// Session is safe for concurrent use.
type Session struct {
	content   services.ContentService
	registry  *renderer.Registry
	scheduler clock.Scheduler
	observe   func(from, to State)
	logger    func(context.Context, string, map[string]any)
	// ctx carries the opener's identity for autosave; it is never cancelled.
	ctx      context.Context
	giftID   string
	template domain.TemplateDefinition
	audio    *audio.Coordinator
	audioLog *audio.CommandLog

	// saveMu admits one save at a time.
	saveMu sync.Mutex

	mu          sync.Mutex
	state       State
	gift        domain.Gift
	draft       domain.ContentBag
	editRev     int64
	savedRev    int64
	// rejectedRev is the revision the store refused as invalid; autosave skips it.
	rejectedRev int64
	lastSavedAt time.Time
	lastErr     *SaveError
	autosave    clock.Timer
	closed      bool
}

// Open loads the gift and starts the autosave timer. The caller must own the gift.
func Open(ctx context.Context, deps Deps, giftID string) (*Session, error) {
	if deps.Content == nil {
		return nil, errors.New("editor: content service is required")
	}
	if strings.TrimSpace(giftID) == "" {
		return nil, fmt.Errorf("%w: gift id is required", services.ErrGiftInvalidInput)
	}
	registry := deps.Registry
	if registry == nil {
		registry = renderer.NewRegistry(nil)
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	interval := deps.AutosaveInterval
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	observe := deps.OnStateChange
	if observe == nil {
		observe = func(State, State) {}
	}

	s := &Session{
		content:   deps.Content,
		registry:  registry,
		scheduler: scheduler,
		observe:   observe,
		logger:    logger,
		ctx:       context.WithoutCancel(ctx),
		giftID:    strings.TrimSpace(giftID),
		state:     StateLoading,
	}

	gift, err := deps.Content.GetGift(ctx, s.giftID)
	if err != nil {
		return nil, err
	}
	tpl, err := deps.Content.Template(gift)
	if err != nil {
		return nil, err
	}

	s.template = tpl
	s.gift = gift
	s.draft = gift.Content.Clone()
	s.audioLog = audio.NewCommandLog(0)
	s.audio = audio.NewCoordinator(audio.Options{Player: audio.Tee(s.audioLog, deps.AudioPlayer), Scheduler: scheduler, Track: tpl.BackgroundTrack})
	s.setState(StateClean)
	s.autosave = clock.Ticker(scheduler, interval, s.autosaveTick)

	logger(ctx, "editor.session.opened", map[string]any{"giftId": s.giftID, "template": tpl.Slug})
	return s, nil
}

// GiftID returns the id of the gift being edited.
func (s *Session) GiftID() string { return s.giftID }

// Template returns the template of the gift.
func (s *Session) Template() domain.TemplateDefinition { return s.template.Clone() }

// Audio returns the preview audio coordinator.
func (s *Session) Audio() *audio.Coordinator { return s.audio }

// AudioLog returns the commands the preview audio coordinator issued.
func (s *Session) AudioLog() *audio.CommandLog { return s.audioLog }

// State returns the current draft state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSavedAt returns the time of the last successful save, zero if none.
func (s *Session) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}

// LastError returns the most recent save failure since the last successful save.
func (s *Session) LastError() *SaveError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Draft returns a deep copy of the in-memory content bag.
func (s *Session) Draft() domain.ContentBag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// Gift returns the gift as last loaded, saved or published.
func (s *Session) Gift() domain.Gift {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gift.Clone()
}

// CompletionMatrix derives per-page completion from the current draft.
func (s *Session) CompletionMatrix() []domain.PageCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Completion(s.template, s.draft)
}

// ApplyEdit merges one field into its page, keeping the page's other fields.
func (s *Session) ApplyEdit(req FieldEditRequest) error {
	req, err := req.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	current, known := s.draft[req.PageID]
	if !known && len(s.draft) >= services.MaxContentPages {
		s.mu.Unlock()
		return fmt.Errorf("%w: draft already has %d pages", ErrInvalidEdit, services.MaxContentPages)
	}
	if _, ok := current[req.Field]; !ok && len(current) >= services.MaxFieldsPerPage {
		s.mu.Unlock()
		return fmt.Errorf("%w: page %s already has %d fields", ErrInvalidEdit, req.PageID, services.MaxFieldsPerPage)
	}
	page := current.Clone()
	page[req.Field] = req.Value
	s.draft[req.PageID] = page
	s.editRev++
	from := s.state
	if s.state != StateSaving {
		s.state = StateDirty
	}
	to := s.state
	s.mu.Unlock()

	if from != to {
		s.observe(from, to)
	}
	return nil
}

// Save writes the current draft. It waits for an in-flight save, then saves
// again only if edits arrived meanwhile. Failures are returned as *SaveError.
func (s *Session) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.save(ctx, true)
}

// Publish saves the draft and publishes the gift. Incomplete pages do not block publishing.
func (s *Session) Publish(ctx context.Context) (PublishResult, error) {
	if err := s.Save(ctx); err != nil {
		return PublishResult{}, err
	}
	gift, err := s.content.PublishGift(ctx, s.giftID)
	if err != nil {
		return PublishResult{}, err
	}

	s.mu.Lock()
	if !s.closed {
		s.gift = gift
	}
	s.mu.Unlock()

	incomplete := domain.IncompletePages(domain.Completion(s.template, gift.Content))
	result := PublishResult{
		Gift:              gift,
		ShareID:           gift.ShareID,
		IncompletePages:   incomplete,
		ValidationSkipped: len(incomplete) > 0,
	}
	s.logger(ctx, "editor.session.published", map[string]any{
		"giftId":     s.giftID,
		"shareId":    gift.ShareID,
		"incomplete": len(incomplete),
	})
	return result, nil
}

// Close stops autosave and disposes the preview audio. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timer := s.autosave
	s.autosave = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if s.audio != nil {
		s.audio.Dispose()
	}
	s.logger(s.ctx, "editor.session.closed", map[string]any{"giftId": s.giftID})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) autosaveTick() {
	// A save already in flight will be followed by the next tick.
	if !s.saveMu.TryLock() {
		return
	}
	defer s.saveMu.Unlock()
	_ = s.save(s.ctx, false)
}

// save must be called with saveMu held.
func (s *Session) save(ctx context.Context, explicit bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.editRev == s.savedRev || (!explicit && s.editRev == s.rejectedRev) {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.draft.Clone()
	rev := s.editRev
	from := s.state
	s.state = StateSaving
	s.mu.Unlock()
	s.observe(from, StateSaving)

	gift, err := s.content.UpdateContent(ctx, services.UpdateContentCommand{GiftID: s.giftID, Content: snapshot})
	now := s.scheduler.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		saveErr := &SaveError{Err: err, At: now, Explicit: explicit}
		s.lastErr = saveErr
		if !saveErr.Retryable() {
			s.rejectedRev = rev
		}
		s.state = StateDirty
		s.mu.Unlock()
		s.observe(StateSaving, StateSaveError)
		s.observe(StateSaveError, StateDirty)
		s.logger(ctx, "editor.save.failed", map[string]any{"giftId": s.giftID, "explicit": explicit, "error": err.Error()})
		if explicit {
			return saveErr
		}
		return nil
	}

	s.gift = gift
	s.savedRev = rev
	s.lastSavedAt = now
	s.lastErr = nil
	to := StateClean
	if s.editRev != rev {
		to = StateDirty
	}
	s.state = to
	s.mu.Unlock()
	s.observe(StateSaving, to)
	s.logger(ctx, "editor.save.succeeded", map[string]any{"giftId": s.giftID, "revision": gift.Revision, "explicit": explicit})
	return nil
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to {
		s.observe(from, to)
	}
}

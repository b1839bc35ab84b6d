// Package renderer resolves (template, page) pairs to page units and defines the unit contract.
package renderer

import (
	"errors"
	"sync"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/interaction"
	"github.com/giftcraft/experience/internal/platform/clock"
)

// ErrUnknownAction is returned by Interact for actions a unit does not handle.
var ErrUnknownAction = errors.New("renderer: unknown action")

// Common action names.
const (
	ActionNext       = "next"
	ActionEdit       = "edit"
	ActionOpen       = "open"
	ActionMediaEnded = "media_ended"
	ActionChooseYes  = "choose_yes"
	ActionChooseNo   = "choose_no"
	ActionDecline    = "decline"
	ActionAccept     = "accept"
	ActionFlip       = "flip"
)

// AudioHandle is the part of the audio coordinator a page may use.
type AudioHandle interface {
	Duck(effectID string) bool
}

// PageContext is everything a unit receives when mounted.
type PageContext struct {
	TemplateSlug string
	Page         domain.TemplatePage
	Content      domain.PageContent
	Editing      bool
	// Advance asks the host to move past this page. Hosts ignore calls from pages no longer current.
	Advance func()
	// UpdateField proposes a new value for one field of this page (editing only).
	UpdateField func(name string, value any)
	Scheduler   clock.Scheduler
	// Audio may be nil.
	Audio AudioHandle
}

// PageUnit is the polymorphic implementation of one page type for one template.
// Mount must not call Advance synchronously; timed completions go through the Scheduler.
type PageUnit interface {
	Mount(ctx PageContext) Instance
}

// Instance is a mounted page. Close releases every timer the instance owns.
type Instance interface {
	View() View
	Interact(action Action) error
	Close()
}

// Action is a user interaction routed to the current page.
type Action struct {
	Name  string `json:"name"`
	Field string `json:"field,omitempty"`
	Value any    `json:"value,omitempty"`
	Index int    `json:"index,omitempty"`
}

// Control describes an affordance the shell should render.
type Control struct {
	Action   string                `json:"action"`
	Label    string                `json:"label"`
	Enabled  bool                  `json:"enabled"`
	Position *interaction.Position `json:"position,omitempty"`
}

// View is the serialisable representation of a mounted page.
type View struct {
	Kind        string         `json:"kind"`
	PageID      string         `json:"pageId"`
	Title       string         `json:"title"`
	Fields      map[string]any `json:"fields,omitempty"`
	HTML        string         `json:"html,omitempty"`
	State       string         `json:"state,omitempty"`
	Controls    []Control      `json:"controls,omitempty"`
	Placeholder bool           `json:"placeholder,omitempty"`
}

// TemplateSource looks templates up by slug.
type TemplateSource interface {
	GetBySlug(slug string) (domain.TemplateDefinition, error)
}

type typeKey struct {
	slug     string
	pageType domain.PageType
}

type pageKey struct {
	slug   string
	pageID string
}

// Registry maps template pages to units. Page-specific registrations win over type-level ones.
type Registry struct {
	templates TemplateSource
	fallback  PageUnit

	mu     sync.RWMutex
	byType map[typeKey]PageUnit
	byPage map[pageKey]PageUnit
}

// NewRegistry returns an empty registry that resolves page types through templates.
func NewRegistry(templates TemplateSource) *Registry {
	return &Registry{
		templates: templates,
		fallback:  PendingUnit{},
		byType:    make(map[typeKey]PageUnit),
		byPage:    make(map[pageKey]PageUnit),
	}
}

// Register binds unit to every page of pageType in the template.
func (r *Registry) Register(templateSlug string, pageType domain.PageType, unit PageUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typeKey{slug: templateSlug, pageType: pageType}] = unit
}

// RegisterPage binds unit to one page of the template.
func (r *Registry) RegisterPage(templateSlug, pageID string, unit PageUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPage[pageKey{slug: templateSlug, pageID: pageID}] = unit
}

// Resolve never fails: unknown templates, pages or implementations get the pending unit.
func (r *Registry) Resolve(templateSlug, pageID string) PageUnit {
	unit, _ := r.Lookup(templateSlug, pageID)
	return unit
}

// Lookup is Resolve that also reports whether a specific implementation was found.
func (r *Registry) Lookup(templateSlug, pageID string) (PageUnit, bool) {
	r.mu.RLock()
	if unit, ok := r.byPage[pageKey{slug: templateSlug, pageID: pageID}]; ok {
		r.mu.RUnlock()
		return unit, true
	}
	r.mu.RUnlock()

	if r.templates == nil {
		return r.fallback, false
	}
	tpl, err := r.templates.GetBySlug(templateSlug)
	if err != nil {
		return r.fallback, false
	}
	page, _, ok := tpl.Page(pageID)
	if !ok {
		return r.fallback, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if unit, ok := r.byType[typeKey{slug: templateSlug, pageType: page.Type}]; ok {
		return unit, true
	}
	return r.fallback, false
}

// Implemented lists the page ids of tpl that have a specific unit.
func (r *Registry) Implemented(tpl domain.TemplateDefinition) []string {
	var ids []string
	for _, page := range tpl.Pages {
		if _, ok := r.Lookup(tpl.Slug, page.ID); ok {
			ids = append(ids, page.ID)
		}
	}
	return ids
}

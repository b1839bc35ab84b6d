// Package playback loads published gifts and steps a recipient through their pages.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giftcraft/experience/internal/audio"
	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/renderer"
)

// sharedLoadTimeout bounds a fetch that no longer follows its first caller's context.
const sharedLoadTimeout = 10 * time.Second

// SharedGiftSource returns published gifts by share id.
type SharedGiftSource interface {
	GetByShareID(ctx context.Context, shareID string) (domain.Gift, error)
}

// TemplateSource resolves the template a gift was created from.
type TemplateSource interface {
	GetByID(id int) (domain.TemplateDefinition, error)
	GetBySlug(slug string) (domain.TemplateDefinition, error)
}

// EngineDeps wires an Engine.
type EngineDeps struct {
	Gifts     SharedGiftSource
	Templates TemplateSource
	Registry  *renderer.Registry
	Scheduler clock.Scheduler
	Logger    func(context.Context, string, map[string]any)
}

// Engine opens viewers. Concurrent loads of one share id share a single fetch.
type Engine struct {
	gifts     SharedGiftSource
	templates TemplateSource
	registry  *renderer.Registry
	scheduler clock.Scheduler
	logger    func(context.Context, string, map[string]any)
	group     singleflight.Group
}

// NewEngine validates deps and returns an Engine.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Gifts == nil {
		return nil, errors.New("playback: gift source is required")
	}
	if deps.Templates == nil {
		return nil, errors.New("playback: template source is required")
	}
	registry := deps.Registry
	if registry == nil {
		registry = renderer.NewRegistry(deps.Templates)
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = clock.NewReal()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Engine{
		gifts:     deps.Gifts,
		templates: deps.Templates,
		registry:  registry,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// Load fetches the published gift and its template.
func (e *Engine) Load(ctx context.Context, shareID string) (domain.Gift, domain.TemplateDefinition, error) {
	shareID = strings.TrimSpace(shareID)
	// The shared fetch outlives any one caller; each caller stops waiting on its own ctx.
	results := e.group.DoChan(shareID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return e.gifts.GetByShareID(fetchCtx, shareID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return domain.Gift{}, domain.TemplateDefinition{}, ctx.Err()
	case res = <-results:
	}
	if res.Err != nil {
		return domain.Gift{}, domain.TemplateDefinition{}, res.Err
	}
	gift := res.Val.(domain.Gift).Clone()
	if res.Shared {
		e.logger(ctx, "playback.load.shared", map[string]any{"shareId": shareID})
	}

	tpl, err := e.templates.GetByID(gift.TemplateID)
	if err != nil {
		tpl, err = e.templates.GetBySlug(gift.TemplateSlug)
	}
	if err != nil {
		return domain.Gift{}, domain.TemplateDefinition{}, fmt.Errorf("%w: gift %s uses %q", catalog.ErrTemplateNotFound, gift.ID, gift.TemplateSlug)
	}
	return gift, tpl, nil
}

// ViewerOptions customises a viewer opened by the engine.
type ViewerOptions struct {
	// Player receives audio commands in addition to the viewer command log.
	Player audio.Player
	// Track overrides the template background track.
	Track string
}

// Open loads the gift and returns a viewer positioned on its first page.
func (e *Engine) Open(ctx context.Context, shareID string, opts ViewerOptions) (*Viewer, error) {
	gift, tpl, err := e.Load(ctx, shareID)
	if err != nil {
		return nil, err
	}
	v := NewViewer(gift, tpl, Options{
		Registry:  e.registry,
		Scheduler: e.scheduler,
		Player:    opts.Player,
		Track:     opts.Track,
		Logger:    e.logger,
	})
	e.logger(ctx, "playback.viewer.opened", map[string]any{"shareId": gift.ShareID, "template": tpl.Slug, "pages": len(tpl.Pages)})
	return v, nil
}

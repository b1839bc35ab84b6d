package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/platform/httpx"
	"github.com/giftcraft/experience/internal/playback"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/sessions"
)

// ViewerSessionDeps wires the recipient playback endpoints.
type ViewerSessionDeps struct {
	// Authenticator is optional; signed-in recipients get sessions bound to their uid.
	Authenticator *auth.Authenticator
	Engine        *playback.Engine
	Store         *sessions.Store[*playback.Viewer]
	// OpenLimit caps viewer opens per client within RateWindow. Zero disables limiting.
	OpenLimit int
	// ActionLimit caps advance, action and audio calls per client within RateWindow.
	ActionLimit int
	RateWindow  time.Duration
	Scheduler   clock.Scheduler
	Logger      func(context.Context, string, map[string]any)
}

// ViewerSessionHandlers steps recipients through published gifts.
type ViewerSessionHandlers struct {
	deps          ViewerSessionDeps
	openLimiter   *clientLimiter
	actionLimiter *clientLimiter
}

// NewViewerSessionHandlers constructs the viewer endpoints.
func NewViewerSessionHandlers(deps ViewerSessionDeps) *ViewerSessionHandlers {
	if deps.Logger == nil {
		deps.Logger = func(context.Context, string, map[string]any) {}
	}
	return &ViewerSessionHandlers{
		deps:          deps,
		openLimiter:   newClientLimiter(deps.OpenLimit, deps.RateWindow, deps.Scheduler),
		actionLimiter: newClientLimiter(deps.ActionLimit, deps.RateWindow, deps.Scheduler),
	}
}

// Close stops the rate limiter sweeps.
func (h *ViewerSessionHandlers) Close() {
	h.openLimiter.Stop()
	h.actionLimiter.Stop()
}

// Routes registers the endpoints under /viewer/sessions.
func (h *ViewerSessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.deps.Authenticator != nil {
		r.Use(h.deps.Authenticator.OptionalFirebaseAuth())
	}
	r.Post("/", h.openSession)

	sid := r.With(tagSession)
	sid.Delete("/{sid}", h.closeSession)
	sid.Get("/{sid}/page", h.page)
	sid.Get("/{sid}/cursor", h.cursor)

	limited := sid.With(throttle(h.actionLimiter, viewerOwner))
	limited.Post("/{sid}:advance", h.advance)
	limited.Post("/{sid}/actions", h.interact)
	registerAudioRoutes(limited, func(w http.ResponseWriter, req *http.Request) (audioSession, bool) {
		return h.lookup(w, req)
	})
}

type openViewerRequest struct {
	ShareID string `json:"shareId"`
}

type viewerGiftResponse struct {
	Title        string `json:"title,omitempty"`
	TemplateSlug string `json:"templateSlug"`
	ShareID      string `json:"shareId"`
}

type viewerResponse struct {
	SessionID string              `json:"sessionId,omitempty"`
	Gift      *viewerGiftResponse `json:"gift,omitempty"`
	Advanced  *bool               `json:"advanced,omitempty"`
	Position  playback.Position   `json:"position"`
	View      *renderer.View      `json:"view,omitempty"`
}

func (h *ViewerSessionHandlers) openSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Engine == nil || h.deps.Store == nil {
		writeUnavailable(ctx, w, "playback")
		return
	}
	owner := viewerOwner(r)
	if !h.openLimiter.Allow(owner) {
		writeRateLimited(ctx, w)
		return
	}

	var payload openViewerRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &payload); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	shareID := strings.TrimSpace(payload.ShareID)
	if shareID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shareId is required", http.StatusBadRequest))
		return
	}

	viewer, err := h.deps.Engine.Open(ctx, shareID, playback.ViewerOptions{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	id, err := h.deps.Store.Add(owner, viewer)
	if err != nil {
		viewer.Close()
		writeServiceError(ctx, w, err)
		return
	}

	gift := viewer.Gift()
	view := viewer.View()
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+id)
	httpx.WriteJSON(w, http.StatusCreated, viewerResponse{
		SessionID: id,
		Gift: &viewerGiftResponse{
			Title:        gift.Title,
			TemplateSlug: gift.TemplateSlug,
			ShareID:      gift.ShareID,
		},
		Position: viewer.Position(),
		View:     &view,
	})
}

func (h *ViewerSessionHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Store == nil {
		writeUnavailable(ctx, w, "playback")
		return
	}
	if err := h.deps.Store.Remove(chi.URLParam(r, "sid"), viewerOwner(r)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ViewerSessionHandlers) advance(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.lookup(w, r)
	if !ok {
		return
	}
	advanced, err := viewer.Advance()
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	view := viewer.View()
	httpx.WriteJSON(w, http.StatusOK, viewerResponse{
		Advanced: &advanced,
		Position: viewer.Position(),
		View:     &view,
	})
}

func (h *ViewerSessionHandlers) page(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.lookup(w, r)
	if !ok {
		return
	}
	view := viewer.View()
	httpx.WriteJSON(w, http.StatusOK, viewerResponse{
		Position: viewer.Position(),
		View:     &view,
	})
}

func (h *ViewerSessionHandlers) cursor(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewerResponse{Position: viewer.Position()})
}

func (h *ViewerSessionHandlers) interact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var action renderer.Action
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &action); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	action.Name = strings.TrimSpace(action.Name)
	if action.Name == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "action name is required", http.StatusBadRequest))
		return
	}

	before := viewer.Cursor()
	if err := viewer.Interact(action); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	advanced := viewer.Cursor() != before
	view := viewer.View()
	httpx.WriteJSON(w, http.StatusOK, viewerResponse{
		Advanced: &advanced,
		Position: viewer.Position(),
		View:     &view,
	})
}

func (h *ViewerSessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*playback.Viewer, bool) {
	return lookupSession(w, r, h.deps.Store, viewerOwner(r))
}

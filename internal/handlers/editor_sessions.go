package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/editor"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/platform/httpx"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/services"
	"github.com/giftcraft/experience/internal/sessions"
)

// EditorSessionDeps wires the editor session endpoints.
type EditorSessionDeps struct {
	Authenticator    *auth.Authenticator
	Content          services.ContentService
	Registry         *renderer.Registry
	Store            *sessions.Store[*editor.Session]
	Scheduler        clock.Scheduler
	AutosaveInterval time.Duration
	Logger           func(context.Context, string, map[string]any)
}

// EditorSessionHandlers hosts live editing sessions for gift authors.
type EditorSessionHandlers struct {
	deps EditorSessionDeps
}

// NewEditorSessionHandlers constructs the editor endpoints.
func NewEditorSessionHandlers(deps EditorSessionDeps) *EditorSessionHandlers {
	if deps.Logger == nil {
		deps.Logger = func(context.Context, string, map[string]any) {}
	}
	return &EditorSessionHandlers{deps: deps}
}

// Routes registers the endpoints under /editor/sessions.
func (h *EditorSessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.deps.Authenticator != nil {
		r.Use(h.deps.Authenticator.RequireFirebaseAuth())
	}
	r.Post("/", h.openSession)

	sid := r.With(tagSession)
	sid.Get("/{sid}", h.getSession)
	sid.Delete("/{sid}", h.closeSession)
	sid.Patch("/{sid}/fields", h.applyEdit)
	sid.Post("/{sid}:save", h.save)
	sid.Post("/{sid}:publish", h.publish)
	sid.Get("/{sid}/completion", h.completion)
	sid.Get("/{sid}/draft", h.draft)
	sid.Get("/{sid}/pages/{pageID}/preview", h.preview)
	sid.Post("/{sid}/pages/{pageID}/preview/actions", h.previewAction)
	registerAudioRoutes(sid, func(w http.ResponseWriter, req *http.Request) (audioSession, bool) {
		return h.lookup(w, req)
	})
}

type openEditorRequest struct {
	GiftID string `json:"giftId"`
}

type editorSessionResponse struct {
	SessionID    string             `json:"sessionId"`
	GiftID       string             `json:"giftId"`
	TemplateSlug string             `json:"templateSlug"`
	State        editor.State       `json:"state"`
	LastSavedAt  string             `json:"lastSavedAt,omitempty"`
	LastError    *saveErrorResponse `json:"lastError,omitempty"`
	Pages        []string           `json:"pages"`
}

type saveErrorResponse struct {
	Message string `json:"message"`
	At      string `json:"at"`
}

type draftResponse struct {
	SessionID string         `json:"sessionId"`
	State     editor.State   `json:"state"`
	Content   map[string]any `json:"content"`
}

type completionResponse struct {
	SessionID       string             `json:"sessionId"`
	Pages           []completionRecord `json:"pages"`
	IncompletePages []string           `json:"incompletePages"`
}

type publishResponse struct {
	ShareID           string       `json:"shareId"`
	IncompletePages   []string     `json:"incompletePages"`
	ValidationSkipped bool         `json:"validationSkipped"`
	Gift              giftResponse `json:"gift"`
}

func (h *EditorSessionHandlers) openSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Content == nil || h.deps.Store == nil {
		writeUnavailable(ctx, w, "editor")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload openEditorRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &payload); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}

	session, err := editor.Open(ctx, editor.Deps{
		Content:          h.deps.Content,
		Registry:         h.deps.Registry,
		Scheduler:        h.deps.Scheduler,
		AutosaveInterval: h.deps.AutosaveInterval,
		Logger:           h.deps.Logger,
	}, strings.TrimSpace(payload.GiftID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	id, err := h.deps.Store.Add(identity.UID, session)
	if err != nil {
		session.Close()
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+id)
	httpx.WriteJSON(w, http.StatusCreated, buildEditorSession(id, session))
}

func (h *EditorSessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildEditorSession(chi.URLParam(r, "sid"), session))
}

func (h *EditorSessionHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.deps.Store == nil {
		writeUnavailable(ctx, w, "editor")
		return
	}
	if err := h.deps.Store.Remove(chi.URLParam(r, "sid"), identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EditorSessionHandlers) applyEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload editor.FieldEditRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &payload); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	if err := session.ApplyEdit(payload); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildEditorSession(chi.URLParam(r, "sid"), session))
}

func (h *EditorSessionHandlers) save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := session.Save(ctx); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildEditorSession(chi.URLParam(r, "sid"), session))
}

func (h *EditorSessionHandlers) publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	result, err := session.Publish(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	incomplete := result.IncompletePages
	if incomplete == nil {
		incomplete = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, publishResponse{
		ShareID:           result.ShareID,
		IncompletePages:   incomplete,
		ValidationSkipped: result.ValidationSkipped,
		Gift:              giftPayload(result.Gift, nil),
	})
}

func (h *EditorSessionHandlers) completion(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	matrix := session.CompletionMatrix()
	incomplete := []string{}
	for _, row := range matrix {
		if !row.Complete {
			incomplete = append(incomplete, row.PageID)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, completionResponse{
		SessionID:       chi.URLParam(r, "sid"),
		Pages:           buildCompletion(matrix),
		IncompletePages: incomplete,
	})
}

func (h *EditorSessionHandlers) draft(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	bag := session.Draft()
	content := make(map[string]any, len(bag))
	for pageID, page := range bag {
		content[pageID] = map[string]any(page)
	}
	httpx.WriteJSON(w, http.StatusOK, draftResponse{
		SessionID: chi.URLParam(r, "sid"),
		State:     session.State(),
		Content:   content,
	})
}

func (h *EditorSessionHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	view, err := session.Preview(chi.URLParam(r, "pageID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *EditorSessionHandlers) previewAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var action renderer.Action
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &action); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	view, err := session.PreviewAction(chi.URLParam(r, "pageID"), action)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

// lookup resolves the caller's session or writes the error response.
func (h *EditorSessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	identity, ok := requireIdentity(r.Context(), w)
	if !ok {
		return nil, false
	}
	return lookupSession(w, r, h.deps.Store, identity.UID)
}

func buildEditorSession(id string, session *editor.Session) editorSessionResponse {
	resp := editorSessionResponse{
		SessionID:    id,
		GiftID:       session.GiftID(),
		TemplateSlug: session.Template().Slug,
		State:        session.State(),
		LastSavedAt:  formatTime(session.LastSavedAt()),
		Pages:        session.Template().PageIDs(),
	}
	if last := session.LastError(); last != nil {
		resp.LastError = &saveErrorResponse{Message: last.Error(), At: formatTime(last.At)}
	}
	return resp
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/editor"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/playback"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/repositories/memory"
	"github.com/giftcraft/experience/internal/services"
	"github.com/giftcraft/experience/internal/sessions"
)

var fixtureStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const testUIDHeader = "X-Test-UID"

// testIdentity stands in for the Firebase middleware: the uid comes from a test header.
func testIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid := strings.TrimSpace(r.Header.Get(testUIDHeader)); uid != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: uid}))
		}
		next.ServeHTTP(w, r)
	})
}

type apiFixture struct {
	t       *testing.T
	manual  *clock.Manual
	content services.ContentService
	engine  *playback.Engine
	editors *sessions.Store[*editor.Session]
	viewers *sessions.Store[*playback.Viewer]
	router  chi.Router
}

func newAPIFixture(t *testing.T, opts ...GiftOption) *apiFixture {
	t.Helper()
	manual := clock.NewManual(fixtureStart)
	templates := catalog.MustDefault()
	registry := renderer.NewDefaultRegistry(templates)

	content, err := services.NewContentService(services.ContentServiceDeps{
		Gifts:     memory.NewGiftRepository(),
		Templates: templates,
		Clock:     manual.Now,
	})
	if err != nil {
		t.Fatalf("content service: %v", err)
	}
	engine, err := playback.NewEngine(playback.EngineDeps{
		Gifts:     content,
		Templates: templates,
		Registry:  registry,
		Scheduler: manual,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	editors := sessions.NewStore[*editor.Session](sessions.Options{Prefix: "eds_", Scheduler: manual})
	viewers := sessions.NewStore[*playback.Viewer](sessions.Options{Prefix: "vws_", Scheduler: manual})
	t.Cleanup(editors.Close)
	t.Cleanup(viewers.Close)

	gifts := NewGiftHandlers(nil, content, opts...)
	editorHandlers := NewEditorSessionHandlers(EditorSessionDeps{
		Content:   content,
		Registry:  registry,
		Store:     editors,
		Scheduler: manual,
	})
	viewerHandlers := NewViewerSessionHandlers(ViewerSessionDeps{
		Engine: engine,
		Store:  viewers,
	})

	router := NewRouter(
		WithMiddlewares(testIdentity),
		WithPublicRoutes(NewTemplateHandlers(templates, registry).Routes),
		WithGiftRoutes(gifts.Routes),
		WithSharedRoutes(gifts.SharedRoutes),
		WithEditorRoutes(editorHandlers.Routes),
		WithViewerRoutes(viewerHandlers.Routes),
	)

	return &apiFixture{
		t:       t,
		manual:  manual,
		content: content,
		engine:  engine,
		editors: editors,
		viewers: viewers,
		router:  router,
	}
}

func (f *apiFixture) do(method, path, uid string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set(testUIDHeader, uid)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// createGift creates a gift through the service and returns its id.
func (f *apiFixture) createGift(uid, slug string) string {
	f.t.Helper()
	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: uid})
	gift, err := f.content.CreateGift(ctx, services.CreateGiftCommand{TemplateSlug: slug})
	if err != nil {
		f.t.Fatalf("create gift: %v", err)
	}
	return gift.ID
}

// publishGift fills content, publishes and returns the share id.
func (f *apiFixture) publishGift(uid, giftID string, content services.ContentBag) string {
	f.t.Helper()
	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: uid})
	if content != nil {
		if _, err := f.content.UpdateContent(ctx, services.UpdateContentCommand{GiftID: giftID, Content: content}); err != nil {
			f.t.Fatalf("update content: %v", err)
		}
	}
	gift, err := f.content.PublishGift(ctx, giftID)
	if err != nil {
		f.t.Fatalf("publish: %v", err)
	}
	return gift.ShareID
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

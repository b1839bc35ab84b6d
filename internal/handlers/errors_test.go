package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/editor"
	"github.com/giftcraft/experience/internal/interaction"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/platform/requestctx"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/services"
	"github.com/giftcraft/experience/internal/sessions"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"template", fmt.Errorf("%w: slug x", catalog.ErrTemplateNotFound), http.StatusNotFound, "template_not_found", false},
		{"gift", fmt.Errorf("%w: gift 1", services.ErrGiftNotFound), http.StatusNotFound, "gift_not_found", false},
		{"session", sessions.ErrSessionNotFound, http.StatusNotFound, "session_not_found", false},
		{"unauthenticated", services.ErrGiftUnauthenticated, http.StatusUnauthorized, "unauthenticated", false},
		{"invalid", fmt.Errorf("%w: blank", services.ErrGiftInvalidInput), http.StatusBadRequest, "invalid_request", false},
		{"too large", services.ErrMediaTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large", false},
		{"transition", fmt.Errorf("%w: countdown still running", interaction.ErrInvalidTransition), http.StatusConflict, "conflict", false},
		{"unknown action", fmt.Errorf("%w: dance", renderer.ErrUnknownAction), http.StatusBadRequest, "unknown_action", false},
		{"capacity", sessions.ErrCapacity, http.StatusTooManyRequests, "too_many_sessions", true},
		{"unavailable", fmt.Errorf("%w: deadline", services.ErrGiftUnavailable), http.StatusServiceUnavailable, "service_unavailable", true},
		{"save", &editor.SaveError{Err: services.ErrGiftUnavailable, At: time.Now(), Explicit: true}, http.StatusServiceUnavailable, "save_failed", true},
		{"rejected save", &editor.SaveError{Err: fmt.Errorf("%w: content has 65 pages, limit is 64", services.ErrGiftInvalidInput), Explicit: true}, http.StatusBadRequest, "invalid_content", false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(context.Background(), rr, tc.err)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if got := body["retryable"] == true; got != tc.retryable {
				t.Fatalf("expected retryable=%v, got %v", tc.retryable, body["retryable"])
			}
		})
	}
}

func TestViewerOwner(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := viewerOwner(req); got != "anon:203.0.113.9" {
		t.Fatalf("unexpected owner %q", got)
	}

	req.RemoteAddr = "203.0.113.9"
	if got := viewerOwner(req); got != "anon:203.0.113.9" {
		t.Fatalf("unexpected owner without port %q", got)
	}
}

func TestClientLimiter(t *testing.T) {
	manual := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	limiter := newClientLimiter(2, time.Minute, manual)
	t.Cleanup(limiter.Stop)

	if !limiter.Allow("anon:198.51.100.1") || !limiter.Allow("anon:198.51.100.1") {
		t.Fatalf("expected first two calls to pass")
	}
	if limiter.Allow("anon:198.51.100.1") {
		t.Fatalf("expected third call to be limited")
	}
	if !limiter.Allow("uid:recipient") {
		t.Fatalf("expected other clients to be independent")
	}

	manual.Advance(30 * time.Second)
	if !limiter.Allow("anon:198.51.100.2") {
		t.Fatalf("expected a new client to pass")
	}
	manual.Advance(30 * time.Second)
	if got := limiter.tracked(); got != 1 {
		t.Fatalf("sweep should keep only the open window, tracking %d", got)
	}
	if !limiter.Allow("anon:198.51.100.1") {
		t.Fatalf("expected window reset")
	}

	manual.Advance(2 * time.Minute)
	if got := limiter.tracked(); got != 0 {
		t.Fatalf("expected every finished window swept, tracking %d", got)
	}

	if newClientLimiter(0, time.Minute, manual) != nil {
		t.Fatalf("zero limit should disable limiting")
	}
	var disabled *clientLimiter
	if !disabled.Allow("anyone") {
		t.Fatalf("nil limiter admits everything")
	}
}

func TestTagSessionAddsSessionIDToContext(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.With(tagSession).Get("/sessions/{sid}/page", func(w http.ResponseWriter, req *http.Request) {
		seen = requestctx.SessionID(req.Context())
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/vws_01/page", nil))
	if seen != "vws_01" {
		t.Fatalf("expected session id on context, got %q", seen)
	}
}

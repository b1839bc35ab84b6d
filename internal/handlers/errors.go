package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/editor"
	"github.com/giftcraft/experience/internal/interaction"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/httpx"
	"github.com/giftcraft/experience/internal/platform/requestctx"
	"github.com/giftcraft/experience/internal/playback"
	"github.com/giftcraft/experience/internal/renderer"
	"github.com/giftcraft/experience/internal/services"
	"github.com/giftcraft/experience/internal/sessions"
)

const maxJSONBody = 256 * 1024

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var saveErr *editor.SaveError
	switch {
	case errors.As(err, &saveErr) && !saveErr.Retryable():
		httpx.WriteError(ctx, w, httpx.NewError("invalid_content", saveErr.Err.Error(), http.StatusBadRequest))
	case errors.As(err, &saveErr):
		httpx.WriteError(ctx, w, httpx.NewError("save_failed", "draft could not be saved; it is kept and can be retried", http.StatusServiceUnavailable).AsRetryable())
	case errors.Is(err, catalog.ErrTemplateNotFound), errors.Is(err, services.ErrGiftTemplateNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("template_not_found", "template not found", http.StatusNotFound))
	case errors.Is(err, services.ErrGiftNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("gift_not_found", "gift not found", http.StatusNotFound))
	case errors.Is(err, sessions.ErrSessionNotFound), errors.Is(err, editor.ErrSessionClosed), errors.Is(err, playback.ErrViewerClosed):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "session not found or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrGiftUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrMediaTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
	case errors.Is(err, services.ErrGiftInvalidInput), errors.Is(err, services.ErrMediaInvalidInput), errors.Is(err, editor.ErrInvalidEdit):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, renderer.ErrUnknownAction):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_action", err.Error(), http.StatusBadRequest))
	case errors.Is(err, interaction.ErrInvalidTransition), errors.Is(err, services.ErrGiftConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, sessions.ErrCapacity):
		httpx.WriteError(ctx, w, httpx.NewError("too_many_sessions", "session capacity reached", http.StatusTooManyRequests).AsRetryable())
	case errors.Is(err, services.ErrGiftUnavailable), errors.Is(err, services.ErrMediaUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable).AsRetryable())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out", http.StatusGatewayTimeout).AsRetryable())
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeInvalidBody(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid request body: "+err.Error(), http.StatusBadRequest))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, what string) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", what+" unavailable", http.StatusServiceUnavailable))
}

func writeRateLimited(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).AsRetryable())
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// viewerOwner keys viewer sessions. Anonymous recipients are scoped by client address.
func viewerOwner(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return "uid:" + identity.UID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "anon:" + host
}

// tagSession puts the {sid} path parameter on the request context for event logs.
func tagSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sid := chi.URLParam(r, "sid"); sid != "" {
			r = r.WithContext(requestctx.WithSessionID(r.Context(), sid))
		}
		next.ServeHTTP(w, r)
	})
}

// lookupSession resolves the {sid} path parameter in store for owner, writing the error response on failure.
func lookupSession[T sessions.Closer](w http.ResponseWriter, r *http.Request, store *sessions.Store[T], owner string) (T, bool) {
	var zero T
	ctx := r.Context()
	if store == nil {
		writeUnavailable(ctx, w, "session store")
		return zero, false
	}
	session, err := store.Get(chi.URLParam(r, "sid"), owner)
	if err != nil {
		writeServiceError(ctx, w, err)
		return zero, false
	}
	return session, true
}

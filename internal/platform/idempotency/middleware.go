package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/httpx"
)

const (
	// HeaderKey carries the client-chosen key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay is set to "true" on replayed responses.
	HeaderReplay = "X-Idempotent-Replay"

	maxKeyLength  = 255
	maxBodyBuffer = 1 << 20
)

var errBodyTooLarge = errors.New("idempotency: body too large")

type config struct {
	ttl        time.Duration
	requireKey bool
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// Option customises Middleware.
type Option func(*config)

// WithTTL sets how long a completed response can be replayed.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects guarded requests that carry no key.
func WithRequiredKey() Option {
	return func(cfg *config) { cfg.requireKey = true }
}

func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Middleware replays the stored response for a repeated POST carrying the same
// Idempotency-Key from the same caller. Requests without a key pass through
// unless WithRequiredKey is set. 5xx responses are not stored so the client
// can retry them.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := config{
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			switch {
			case key == "" && cfg.requireKey:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing Idempotency-Key header", http.StatusBadRequest))
				return
			case key == "":
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Idempotency-Key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if errors.Is(err, errBodyTooLarge) {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			caller := callerOf(ctx)
			scoped := caller + "|" + key
			fingerprint := fingerprintOf(r, body, caller)

			claim, err := store.Claim(ctx, scoped, fingerprint, cfg.clock(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrKeyReused) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "Idempotency-Key was already used for a different request", http.StatusConflict))
					return
				}
				cfg.logger(ctx, "idempotency.claim_failed", map[string]any{"error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "unable to check Idempotency-Key", http.StatusServiceUnavailable).AsRetryable())
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				cfg.logger(ctx, "idempotency.replayed", map[string]any{"path": r.URL.Path, "status": claim.Entry.Status})
				replay(w, claim.Entry)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this Idempotency-Key is still running", http.StatusConflict).AsRetryable())
				return
			}

			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logger(ctx, "idempotency.release_failed", map[string]any{"error": err.Error()})
				}
				rec.flush(w)
				return
			}

			entry := Entry{
				Fingerprint: fingerprint,
				Status:      rec.status(),
				Headers:     storableHeaders(rec.header),
				Body:        rec.body.Bytes(),
			}
			if err := store.Complete(ctx, scoped, entry, cfg.clock(), cfg.ttl); err != nil {
				cfg.logger(ctx, "idempotency.complete_failed", map[string]any{"error": err.Error()})
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logger(ctx, "idempotency.release_failed", map[string]any{"error": err.Error()})
				}
			}
			rec.flush(w)
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBuffer+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBuffer {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func callerOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.Valid() {
		return "uid:" + identity.UID
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte, caller string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(caller)
	b.WriteByte('|')
	b.WriteString(sha256Hex(body))
	return sha256Hex([]byte(b.String()))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(HeaderReplay, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(entry.Body) > 0 {
		_, _ = w.Write(entry.Body)
	}
}

// recorder buffers the handler output until the outcome is stored.
type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status())
	_, _ = w.Write(r.body.Bytes())
}

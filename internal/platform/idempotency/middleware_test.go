package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/giftcraft/experience/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func postGift(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gifts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/gifts/gft_1")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"gft_1"}`))
	})
}

func TestMiddleware_PassesThroughWithoutKey(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, postGift("author-1", "", `{"templateSlug":"birthday-countdown"}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("nothing should be stored without a key")
	}
}

func TestMiddleware_RequiredKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusCreated))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postGift("author-1", "", `{}`))
	if rr.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without reaching handler, got %d (calls %d)", rr.Code, calls)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postGift("author-1", "k-1", `{"templateSlug":"birthday-countdown"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postGift("author-1", "k-1", `{"templateSlug":"birthday-countdown"}`))

	if calls != 1 {
		t.Fatalf("expected a single handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("unexpected replay %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get(HeaderReplay) != "true" {
		t.Fatalf("replay header missing")
	}
	if second.Header().Get("Location") != "/api/v1/gifts/gft_1" {
		t.Fatalf("stored headers not replayed: %v", second.Header())
	}
	if first.Header().Get(HeaderReplay) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
}

func TestMiddleware_KeysAreScopedToCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	for _, uid := range []string{"author-1", "author-2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, postGift(uid, "shared-key", `{}`))
		if rr.Header().Get(HeaderReplay) != "" {
			t.Fatalf("caller %s got someone else's response", uid)
		}
	}
	if calls != 2 {
		t.Fatalf("expected one call per caller, got %d", calls)
	}
}

func TestMiddleware_KeyReusedWithDifferentBody(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), postGift("author-1", "k-2", `{"templateSlug":"a"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postGift("author-1", "k-2", `{"templateSlug":"b"}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_InFlightIsRetryableConflict(t *testing.T) {
	store := NewMemoryStore()
	req := postGift("author-1", "k-3", `{}`)
	fingerprint := fingerprintOf(req, []byte(`{}`), "uid:author-1")
	if _, err := store.Claim(context.Background(), "uid:author-1|k-3", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusServiceUnavailable))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, postGift("author-1", "k-4", `{}`))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("5xx responses must allow a retry, got %d calls", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected the claim to be released")
	}
}

func TestMiddleware_CompleteFailureReleasesClaim(t *testing.T) {
	store := &failingStore{}
	var events []string
	handler := Middleware(store,
		WithClock(fixedClock),
		WithLogger(func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }),
	)(countingHandler(new(int), http.StatusCreated))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postGift("author-1", "k-5", `{}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler response should still reach the client, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected the claim to be released")
	}
	if len(events) != 1 || events[0] != "idempotency.complete_failed" {
		t.Fatalf("unexpected log events %v", events)
	}
}

func TestMiddleware_IgnoresOtherMethods(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusOK))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/gifts/gft_1/content", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("PUT should pass through, got %d", rr.Code)
	}
}

func TestMemoryStore_ExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Claim(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, "a", Entry{Fingerprint: "fp", Status: 201}, fixedTime, time.Minute); err != nil {
		t.Fatalf("complete: %v", err)
	}
	claim, err := store.Claim(ctx, "a", "fp", fixedTime.Add(30*time.Second), time.Minute)
	if err != nil || claim.Outcome != OutcomeReplay || claim.Entry.Status != 201 {
		t.Fatalf("expected replay, got %+v (%v)", claim, err)
	}

	if _, err := store.Claim(ctx, "b", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	removed, err := store.Sweep(ctx, fixedTime.Add(2*time.Minute), 0)
	if err != nil || removed != 2 {
		t.Fatalf("expected two expired entries removed, got %d (%v)", removed, err)
	}

	claim, err = store.Claim(ctx, "a", "other", fixedTime.Add(3*time.Minute), time.Minute)
	if err != nil || claim.Outcome != OutcomeClaimed {
		t.Fatalf("expired keys must be claimable again, got %+v (%v)", claim, err)
	}
}

type failingStore struct {
	released bool
}

func (s *failingStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{Outcome: OutcomeClaimed}, nil
}

func (s *failingStore) Complete(context.Context, string, Entry, time.Time, time.Duration) error {
	return errors.New("write failed")
}

func (s *failingStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func (s *failingStore) Sweep(context.Context, time.Time, int) (int, error) { return 0, nil }

func assertErrorCode(t *testing.T, payload []byte, want string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != want {
		t.Fatalf("expected error %s, got %s", want, body.Error)
	}
}

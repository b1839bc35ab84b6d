package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/platform/idempotency"
	"github.com/giftcraft/experience/internal/services"
)

func TestGiftHandlers_CreateAndGet(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/gifts", "author-1", map[string]any{"templateSlug": "birthday-countdown", "title": "For Mina"})
	expectStatus(t, rr, http.StatusCreated)

	created := decodeBody[giftResponse](t, rr)
	if created.ID == "" || created.TemplateSlug != "birthday-countdown" || created.Title != "For Mina" {
		t.Fatalf("unexpected gift %+v", created)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/gifts/"+created.ID {
		t.Fatalf("unexpected location %q", loc)
	}
	if len(created.Completion) != 5 {
		t.Fatalf("expected completion matrix with 5 rows, got %d", len(created.Completion))
	}

	rr = f.do(http.MethodGet, "/api/v1/gifts/"+created.ID, "author-1", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = f.do(http.MethodGet, "/api/v1/gifts/"+created.ID, "someone-else", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestGiftHandlers_RequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/gifts", "", map[string]any{"templateSlug": "birthday-countdown"})
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestGiftHandlers_CreateRejectsUnknownFieldsAndTemplates(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/gifts", "author-1", map[string]any{"templateSlug": "birthday-countdown", "bogus": true})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = f.do(http.MethodPost, "/api/v1/gifts", "author-1", map[string]any{"templateSlug": "does-not-exist"})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestGiftHandlers_UpdatePublishAndShare(t *testing.T) {
	f := newAPIFixture(t)
	giftID := f.createGift("author-1", "birthday-countdown")

	rr := f.do(http.MethodPut, "/api/v1/gifts/"+giftID+"/content", "author-1", map[string]any{
		"content": map[string]any{"wishes": map[string]any{"text": "Happy birthday!"}},
	})
	expectStatus(t, rr, http.StatusOK)
	updated := decodeBody[giftResponse](t, rr)
	if updated.Content["wishes"]["text"] != "Happy birthday!" {
		t.Fatalf("content not stored: %+v", updated.Content)
	}

	rr = f.do(http.MethodGet, "/api/v1/shared/unknown-share", "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = f.do(http.MethodPost, "/api/v1/gifts/"+giftID+":publish", "author-1", nil)
	expectStatus(t, rr, http.StatusOK)
	published := decodeBody[giftResponse](t, rr)
	if !published.IsPublished || published.ShareID == "" {
		t.Fatalf("expected published gift, got %+v", published)
	}

	rr = f.do(http.MethodPost, "/api/v1/gifts/"+giftID+":publish", "author-1", nil)
	expectStatus(t, rr, http.StatusOK)
	again := decodeBody[giftResponse](t, rr)
	if again.ShareID != published.ShareID {
		t.Fatalf("republish changed share id: %q vs %q", again.ShareID, published.ShareID)
	}

	rr = f.do(http.MethodGet, "/api/v1/shared/"+published.ShareID, "", nil)
	expectStatus(t, rr, http.StatusOK)
	shared := decodeBody[giftResponse](t, rr)
	if shared.OwnerID != "" {
		t.Fatalf("shared view must not expose owner, got %q", shared.OwnerID)
	}
	if shared.Content["wishes"]["text"] != "Happy birthday!" {
		t.Fatalf("unexpected shared content %+v", shared.Content)
	}
}

func TestGiftHandlers_ListOwnGifts(t *testing.T) {
	f := newAPIFixture(t)
	f.createGift("author-1", "birthday-countdown")
	f.createGift("author-1", "valentine-proposal")
	f.createGift("author-2", "gift-box-reveal")

	rr := f.do(http.MethodGet, "/api/v1/gifts", "author-1", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[giftListResponse](t, rr)
	if len(body.Items) != 2 {
		t.Fatalf("expected 2 gifts, got %d", len(body.Items))
	}

	rr = f.do(http.MethodGet, "/api/v1/gifts?limit=abc", "author-1", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

type stubContentService struct {
	services.ContentService
	publishErr error
}

func (s *stubContentService) PublishGift(context.Context, string) (services.Gift, error) {
	return services.Gift{}, s.publishErr
}

func TestGiftHandlers_PublishUnavailableIsRetryable(t *testing.T) {
	handler := NewGiftHandlers(nil, &stubContentService{publishErr: fmt.Errorf("%w: deadline", services.ErrGiftUnavailable)})
	router := NewRouter(WithMiddlewares(testIdentity), WithGiftRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gifts/gft_1:publish", nil)
	req.Header.Set(testUIDHeader, "author-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decodeBody[map[string]any](t, rr)
	if body["retryable"] != true {
		t.Fatalf("expected retryable error, got %v", body)
	}
}

type stubMediaService struct {
	cmd  services.UploadMediaCommand
	body []byte
	err  error
}

func (s *stubMediaService) Upload(_ context.Context, cmd services.UploadMediaCommand) (services.UploadedMedia, error) {
	s.cmd = cmd
	if s.err != nil {
		return services.UploadedMedia{}, s.err
	}
	data, err := io.ReadAll(cmd.Body)
	if err != nil {
		return services.UploadedMedia{}, err
	}
	s.body = data
	return services.UploadedMedia{
		URL:         "https://media.example.com/gifts/" + cmd.GiftID + "/photo.png",
		ObjectPath:  "gifts/" + cmd.GiftID + "/photo.png",
		ContentType: "image/png",
		Size:        int64(len(data)),
	}, nil
}

func multipartUpload(t *testing.T, path string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("pageId", "memories"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.WriteField("field", "photos"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="photo.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(testUIDHeader, "author-1")
	return req
}

func TestGiftHandlers_UploadMedia(t *testing.T) {
	media := &stubMediaService{}
	f := newAPIFixture(t, WithGiftMediaService(media))

	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", []byte("png-bytes")))

	expectStatus(t, rr, http.StatusCreated)
	if media.cmd.GiftID != "gft_1" || media.cmd.PageID != "memories" || media.cmd.Field != "photos" {
		t.Fatalf("unexpected command %+v", media.cmd)
	}
	if media.cmd.ContentType != "image/png" || media.cmd.FileName != "photo.png" {
		t.Fatalf("unexpected file metadata %+v", media.cmd)
	}
	if string(media.body) != "png-bytes" {
		t.Fatalf("unexpected body %q", media.body)
	}
	body := decodeBody[uploadMediaResponse](t, rr)
	if !strings.HasPrefix(body.URL, "https://media.example.com/") {
		t.Fatalf("unexpected url %q", body.URL)
	}
}

func TestGiftHandlers_UploadMediaErrors(t *testing.T) {
	t.Run("too large from service", func(t *testing.T) {
		media := &stubMediaService{err: fmt.Errorf("%w: limit 10 bytes", services.ErrMediaTooLarge)}
		f := newAPIFixture(t, WithGiftMediaService(media))
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", []byte("0123456789abc")))
		expectStatus(t, rr, http.StatusRequestEntityTooLarge)
	})

	t.Run("body over transport limit", func(t *testing.T) {
		media := &stubMediaService{}
		f := newAPIFixture(t, WithGiftMediaService(media), WithGiftMaxUploadBytes(16))
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", bytes.Repeat([]byte("x"), 200*1024)))
		expectStatus(t, rr, http.StatusRequestEntityTooLarge)
	})

	t.Run("storage unavailable", func(t *testing.T) {
		media := &stubMediaService{err: fmt.Errorf("%w: bucket offline", services.ErrMediaUnavailable)}
		f := newAPIFixture(t, WithGiftMediaService(media))
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", []byte("png")))
		expectStatus(t, rr, http.StatusServiceUnavailable)
	})

	t.Run("missing file part", func(t *testing.T) {
		f := newAPIFixture(t, WithGiftMediaService(&stubMediaService{}))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/gifts/gft_1/media", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(testUIDHeader, "author-1")
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, req)
		expectStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("rate limited", func(t *testing.T) {
		manual := clock.NewManual(fixtureStart)
		f := newAPIFixture(t, WithGiftMediaService(&stubMediaService{}), WithGiftUploadRateLimit(1, time.Minute, manual))
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", []byte("a")))
		expectStatus(t, rr, http.StatusCreated)

		rr = httptest.NewRecorder()
		f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", []byte("b")))
		expectStatus(t, rr, http.StatusTooManyRequests)

		manual.Advance(time.Minute)
		rr = httptest.NewRecorder()
		f.router.ServeHTTP(rr, multipartUpload(t, "/api/v1/gifts/gft_1/media", []byte("c")))
		expectStatus(t, rr, http.StatusCreated)
	})
}

func TestGiftHandlers_CreateReplaysWithIdempotencyKey(t *testing.T) {
	store := idempotency.NewMemoryStore()
	f := newAPIFixture(t, WithGiftIdempotency(store, idempotency.WithClock(fixtureClock)))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/gifts", strings.NewReader(`{"templateSlug":"birthday-countdown"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(testUIDHeader, "author-1")
		req.Header.Set(idempotency.HeaderKey, "create-1")
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	expectStatus(t, first, http.StatusCreated)
	second := send()
	expectStatus(t, second, http.StatusCreated)

	if second.Header().Get(idempotency.HeaderReplay) != "true" {
		t.Fatalf("expected replayed response")
	}
	if decodeBody[giftResponse](t, first).ID != decodeBody[giftResponse](t, second).ID {
		t.Fatalf("retry created a second gift")
	}

	rr := f.do(http.MethodGet, "/api/v1/gifts", "author-1", nil)
	expectStatus(t, rr, http.StatusOK)
	if n := len(decodeBody[giftListResponse](t, rr).Items); n != 1 {
		t.Fatalf("expected exactly one gift, got %d", n)
	}
}

func fixtureClock() time.Time { return fixtureStart }

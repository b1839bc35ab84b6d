package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/platform/clock"
	"github.com/giftcraft/experience/internal/platform/httpx"
	"github.com/giftcraft/experience/internal/platform/idempotency"
	"github.com/giftcraft/experience/internal/services"
)

const (
	defaultMaxUploadBytes = int64(20 * 1024 * 1024)
	multipartMemory       = 4 * 1024 * 1024
	multipartOverhead     = 64 * 1024
)

// GiftHandlers exposes the content store: gift CRUD, publishing, shared reads and media uploads.
type GiftHandlers struct {
	authn          *auth.Authenticator
	gifts          services.ContentService
	media          services.MediaService
	maxUploadBytes int64
	uploadLimiter  *clientLimiter
	replay         func(http.Handler) http.Handler
}

// GiftOption customises GiftHandlers.
type GiftOption func(*GiftHandlers)

// WithGiftMediaService enables multipart uploads.
func WithGiftMediaService(media services.MediaService) GiftOption {
	return func(h *GiftHandlers) {
		h.media = media
	}
}

// WithGiftMaxUploadBytes caps the accepted file size.
func WithGiftMaxUploadBytes(limit int64) GiftOption {
	return func(h *GiftHandlers) {
		if limit > 0 {
			h.maxUploadBytes = limit
		}
	}
}

// WithGiftUploadRateLimit limits uploads per author within window.
func WithGiftUploadRateLimit(limit int, window time.Duration, scheduler clock.Scheduler) GiftOption {
	return func(h *GiftHandlers) {
		h.uploadLimiter.Stop()
		h.uploadLimiter = newClientLimiter(limit, window, scheduler)
	}
}

// WithGiftIdempotency replays create and publish responses for retried
// requests that carry an Idempotency-Key.
func WithGiftIdempotency(store idempotency.Store, opts ...idempotency.Option) GiftOption {
	return func(h *GiftHandlers) {
		if store != nil {
			h.replay = idempotency.Middleware(store, opts...)
		}
	}
}

// NewGiftHandlers constructs gift handlers. authn may be nil when identity is injected upstream.
func NewGiftHandlers(authn *auth.Authenticator, gifts services.ContentService, opts ...GiftOption) *GiftHandlers {
	h := &GiftHandlers{
		authn:          authn,
		gifts:          gifts,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the author endpoints under /gifts.
func (h *GiftHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	guarded := r
	if h.replay != nil {
		guarded = r.With(h.replay)
	}
	guarded.Post("/", h.createGift)
	r.Get("/", h.listGifts)
	r.Get("/{giftID}", h.getGift)
	r.Put("/{giftID}/content", h.updateContent)
	guarded.Post("/{giftID}:publish", h.publishGift)
	r.Post("/{giftID}/media", h.uploadMedia)
}

// Close stops the upload limiter sweep.
func (h *GiftHandlers) Close() {
	h.uploadLimiter.Stop()
}

// SharedRoutes registers the unauthenticated recipient read under /shared.
func (h *GiftHandlers) SharedRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{shareID}", h.getShared)
}

type giftResponse struct {
	ID           string             `json:"id"`
	OwnerID      string             `json:"ownerId,omitempty"`
	TemplateID   int                `json:"templateId"`
	TemplateSlug string             `json:"templateSlug"`
	Title        string             `json:"title,omitempty"`
	Content      domain.ContentBag  `json:"content"`
	IsPublished  bool               `json:"isPublished"`
	ShareID      string             `json:"shareId,omitempty"`
	Revision     int64              `json:"revision"`
	CreatedAt    string             `json:"createdAt,omitempty"`
	UpdatedAt    string             `json:"updatedAt,omitempty"`
	PublishedAt  string             `json:"publishedAt,omitempty"`
	Completion   []completionRecord `json:"completion,omitempty"`
}

type completionRecord struct {
	PageID   string   `json:"pageId"`
	Title    string   `json:"title,omitempty"`
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing,omitempty"`
}

type giftListResponse struct {
	Items []giftResponse `json:"items"`
}

type createGiftRequest struct {
	TemplateSlug string `json:"templateSlug"`
	TemplateID   int    `json:"templateId"`
	Title        string `json:"title"`
}

type updateContentRequest struct {
	Content domain.ContentBag `json:"content"`
}

type uploadMediaResponse struct {
	URL         string `json:"url"`
	ObjectPath  string `json:"objectPath"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	PageID      string `json:"pageId,omitempty"`
	Field       string `json:"field,omitempty"`
}

func (h *GiftHandlers) createGift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		writeUnavailable(ctx, w, "gift service")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	var payload createGiftRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &payload); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}

	gift, err := h.gifts.CreateGift(ctx, services.CreateGiftCommand{
		TemplateSlug: strings.TrimSpace(payload.TemplateSlug),
		TemplateID:   payload.TemplateID,
		Title:        payload.Title,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", strings.TrimSuffix(r.URL.Path, "/"), gift.ID))
	httpx.WriteJSON(w, http.StatusCreated, h.buildGift(gift, true))
}

func (h *GiftHandlers) listGifts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		writeUnavailable(ctx, w, "gift service")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	gifts, err := h.gifts.ListGifts(ctx, services.ListGiftsCommand{Limit: limit})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]giftResponse, 0, len(gifts))
	for _, gift := range gifts {
		items = append(items, h.buildGift(gift, false))
	}
	httpx.WriteJSON(w, http.StatusOK, giftListResponse{Items: items})
}

func (h *GiftHandlers) getGift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		writeUnavailable(ctx, w, "gift service")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	gift, err := h.gifts.GetGift(ctx, chi.URLParam(r, "giftID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildGift(gift, true))
}

func (h *GiftHandlers) updateContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		writeUnavailable(ctx, w, "gift service")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	var payload updateContentRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &payload); err != nil {
		writeInvalidBody(ctx, w, err)
		return
	}
	if payload.Content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "content is required", http.StatusBadRequest))
		return
	}

	gift, err := h.gifts.UpdateContent(ctx, services.UpdateContentCommand{
		GiftID:  chi.URLParam(r, "giftID"),
		Content: payload.Content,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildGift(gift, true))
}

func (h *GiftHandlers) publishGift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		writeUnavailable(ctx, w, "gift service")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	gift, err := h.gifts.PublishGift(ctx, chi.URLParam(r, "giftID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildGift(gift, true))
}

func (h *GiftHandlers) getShared(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gifts == nil {
		writeUnavailable(ctx, w, "gift service")
		return
	}

	gift, err := h.gifts.GetByShareID(ctx, chi.URLParam(r, "shareID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := h.buildGift(gift, false)
	resp.OwnerID = ""
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *GiftHandlers) uploadMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil {
		writeUnavailable(ctx, w, "media service")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !h.uploadLimiter.Allow(identity.UID) {
		writeRateLimited(ctx, w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "file exceeds upload limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected multipart form with a file part", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file part is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	pageID := strings.TrimSpace(r.FormValue("pageId"))
	field := strings.TrimSpace(r.FormValue("field"))
	uploaded, err := h.media.Upload(ctx, services.UploadMediaCommand{
		GiftID:      chi.URLParam(r, "giftID"),
		PageID:      pageID,
		Field:       field,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, uploadMediaResponse{
		URL:         uploaded.URL,
		ObjectPath:  uploaded.ObjectPath,
		ContentType: uploaded.ContentType,
		Size:        uploaded.Size,
		PageID:      pageID,
		Field:       field,
	})
}

func (h *GiftHandlers) buildGift(gift domain.Gift, withCompletion bool) giftResponse {
	var matrix []domain.PageCompletion
	if withCompletion && h.gifts != nil {
		if rows, err := h.gifts.Completion(gift); err == nil {
			matrix = rows
		}
	}
	return giftPayload(gift, matrix)
}

func giftPayload(gift domain.Gift, matrix []domain.PageCompletion) giftResponse {
	content := gift.Content
	if content == nil {
		content = domain.ContentBag{}
	}
	resp := giftResponse{
		ID:           gift.ID,
		OwnerID:      gift.OwnerID,
		TemplateID:   gift.TemplateID,
		TemplateSlug: gift.TemplateSlug,
		Title:        gift.Title,
		Content:      content,
		IsPublished:  gift.IsPublished,
		ShareID:      gift.ShareID,
		Revision:     gift.Revision,
		CreatedAt:    formatTime(gift.CreatedAt),
		UpdatedAt:    formatTime(gift.UpdatedAt),
	}
	if gift.PublishedAt != nil {
		resp.PublishedAt = formatTime(*gift.PublishedAt)
	}
	if matrix != nil {
		resp.Completion = buildCompletion(matrix)
	}
	return resp
}

func buildCompletion(matrix []domain.PageCompletion) []completionRecord {
	out := make([]completionRecord, 0, len(matrix))
	for _, row := range matrix {
		out = append(out, completionRecord{
			PageID:   row.PageID,
			Title:    row.Title,
			Complete: row.Complete,
			Missing:  row.Missing,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/repositories/memory"
)

type stubEventPublisher struct {
	events []GiftEvent
	err    error
}

func (s *stubEventPublisher) PublishGiftEvent(_ context.Context, event GiftEvent) (string, error) {
	s.events = append(s.events, event)
	return "msg-1", s.err
}

type stubGiftCache struct {
	entries     map[string]Gift
	invalidated []string
	getErr      error
}

func newStubGiftCache() *stubGiftCache {
	return &stubGiftCache{entries: map[string]Gift{}}
}

func (s *stubGiftCache) Get(_ context.Context, shareID string) (Gift, bool, error) {
	if s.getErr != nil {
		return Gift{}, false, s.getErr
	}
	gift, ok := s.entries[shareID]
	return gift, ok, nil
}

func (s *stubGiftCache) Put(_ context.Context, gift Gift) error {
	s.entries[gift.ShareID] = gift
	return nil
}

func (s *stubGiftCache) Invalidate(_ context.Context, shareID string) error {
	s.invalidated = append(s.invalidated, shareID)
	delete(s.entries, shareID)
	return nil
}

type contentFixture struct {
	svc    ContentService
	repo   *memory.GiftRepository
	events *stubEventPublisher
	cache  *stubGiftCache
}

func newContentFixture(t *testing.T) contentFixture {
	t.Helper()
	repo := memory.NewGiftRepository()
	events := &stubEventPublisher{}
	cache := newStubGiftCache()
	ids, shares := 0, 0
	svc, err := NewContentService(ContentServiceDeps{
		Gifts:       repo,
		Templates:   catalog.MustDefault(),
		Cache:       cache,
		Events:      events,
		Clock:       func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { ids++; return fmt.Sprintf("%04d", ids) },
		ShareIDs:    func() string { shares++; return fmt.Sprintf("share-%d", shares) },
	})
	if err != nil {
		t.Fatalf("NewContentService: %v", err)
	}
	return contentFixture{svc: svc, repo: repo, events: events, cache: cache}
}

func authorCtx(uid string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{UID: uid})
}

func TestContentServiceCreateRequiresIdentity(t *testing.T) {
	f := newContentFixture(t)

	if _, err := f.svc.CreateGift(context.Background(), CreateGiftCommand{TemplateSlug: "birthday-countdown"}); !errors.Is(err, ErrGiftUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := f.svc.CreateGift(authorCtx("u1"), CreateGiftCommand{TemplateSlug: "nope"}); !errors.Is(err, ErrGiftTemplateNotFound) {
		t.Fatalf("expected template not found, got %v", err)
	}
	if _, err := f.svc.CreateGift(authorCtx("u1"), CreateGiftCommand{}); !errors.Is(err, ErrGiftInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	gift, err := f.svc.CreateGift(authorCtx("u1"), CreateGiftCommand{TemplateID: 2})
	if err != nil {
		t.Fatalf("CreateGift: %v", err)
	}
	if gift.ID != "gft_0001" || gift.OwnerID != "u1" || gift.TemplateSlug != "valentine-proposal" {
		t.Fatalf("unexpected gift %+v", gift)
	}
	if gift.IsPublished || gift.ShareID != "" || len(gift.Content) != 0 {
		t.Fatalf("new gifts must be empty drafts: %+v", gift)
	}
	if gift.Title != "Be My Valentine" {
		t.Fatalf("expected template title default, got %q", gift.Title)
	}
}

func TestContentServiceOwnership(t *testing.T) {
	f := newContentFixture(t)
	gift, err := f.svc.CreateGift(authorCtx("u1"), CreateGiftCommand{TemplateSlug: "birthday-countdown"})
	if err != nil {
		t.Fatalf("CreateGift: %v", err)
	}

	if _, err := f.svc.GetGift(authorCtx("u2"), gift.ID); !errors.Is(err, ErrGiftNotFound) {
		t.Fatalf("other users must not see the gift, got %v", err)
	}
	if _, err := f.svc.GetGift(context.Background(), gift.ID); !errors.Is(err, ErrGiftUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := f.svc.GetGift(authorCtx("u1"), "gft_missing"); !errors.Is(err, ErrGiftNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestContentServiceUpdateReplacesWholeBag(t *testing.T) {
	f := newContentFixture(t)
	ctx := authorCtx("u1")
	gift, _ := f.svc.CreateGift(ctx, CreateGiftCommand{TemplateSlug: "birthday-countdown"})

	first, err := f.svc.UpdateContent(ctx, UpdateContentCommand{GiftID: gift.ID, Content: ContentBag{
		"wishes":    {"text": "hello"},
		"countdown": {"targetDate": "2026-12-24"},
	}})
	if err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if first.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.Revision)
	}

	second, err := f.svc.UpdateContent(ctx, UpdateContentCommand{GiftID: gift.ID, Content: ContentBag{
		"wishes": {"text": "bye"},
	}})
	if err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if _, ok := second.Content["countdown"]; ok {
		t.Fatal("update must replace the whole bag")
	}
	if second.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", second.Revision)
	}

	if _, err := f.svc.UpdateContent(ctx, UpdateContentCommand{GiftID: gift.ID, Content: ContentBag{" ": {}}}); !errors.Is(err, ErrGiftInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestContentServicePublishIsIdempotent(t *testing.T) {
	f := newContentFixture(t)
	ctx := authorCtx("u1")
	gift, _ := f.svc.CreateGift(ctx, CreateGiftCommand{TemplateSlug: "gift-box-reveal"})

	first, err := f.svc.PublishGift(ctx, gift.ID)
	if err != nil {
		t.Fatalf("PublishGift: %v", err)
	}
	if !first.IsPublished || first.ShareID != "share-1" || first.PublishedAt == nil {
		t.Fatalf("unexpected published gift %+v", first)
	}

	second, err := f.svc.PublishGift(ctx, gift.ID)
	if err != nil {
		t.Fatalf("second PublishGift: %v", err)
	}
	if second.ShareID != first.ShareID {
		t.Fatalf("share id changed: %s -> %s", first.ShareID, second.ShareID)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != "gift.published" {
		t.Fatalf("expected exactly one published event, got %+v", f.events.events)
	}
	if _, ok := f.cache.entries["share-1"]; !ok {
		t.Fatal("expected published gift to be cached")
	}

	if _, err := f.svc.UpdateContent(ctx, UpdateContentCommand{GiftID: gift.ID, Content: ContentBag{"message": {"text": "edited"}}}); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "share-1" {
		t.Fatalf("expected cache invalidation, got %v", f.cache.invalidated)
	}
	third, _ := f.svc.PublishGift(ctx, gift.ID)
	if third.ShareID != "share-1" || !third.IsPublished {
		t.Fatalf("publish state must be monotonic, got %+v", third)
	}
}

func TestContentServicePublishEventFailureIsNotSurfaced(t *testing.T) {
	f := newContentFixture(t)
	f.events.err = errors.New("pubsub down")
	ctx := authorCtx("u1")
	gift, _ := f.svc.CreateGift(ctx, CreateGiftCommand{TemplateSlug: "gift-box-reveal"})
	if _, err := f.svc.PublishGift(ctx, gift.ID); err != nil {
		t.Fatalf("expected success despite event failure, got %v", err)
	}
}

func TestContentServiceGetByShareID(t *testing.T) {
	f := newContentFixture(t)
	ctx := authorCtx("u1")
	gift, _ := f.svc.CreateGift(ctx, CreateGiftCommand{TemplateSlug: "birthday-countdown"})

	if _, err := f.svc.GetByShareID(context.Background(), "share-1"); !errors.Is(err, ErrGiftNotFound) {
		t.Fatalf("expected not found before publish, got %v", err)
	}

	if _, err := f.svc.PublishGift(ctx, gift.ID); err != nil {
		t.Fatalf("PublishGift: %v", err)
	}
	delete(f.cache.entries, "share-1")
	f.cache.getErr = errors.New("redis down")

	shared, err := f.svc.GetByShareID(context.Background(), "share-1")
	if err != nil {
		t.Fatalf("GetByShareID should fall back to the repository: %v", err)
	}
	if shared.ID != gift.ID {
		t.Fatalf("unexpected gift %+v", shared)
	}
}

func TestContentServiceListAndCompletion(t *testing.T) {
	f := newContentFixture(t)
	ctx := authorCtx("u1")
	gift, _ := f.svc.CreateGift(ctx, CreateGiftCommand{TemplateSlug: "birthday-countdown"})
	_, _ = f.svc.CreateGift(authorCtx("u2"), CreateGiftCommand{TemplateSlug: "birthday-countdown"})

	gifts, err := f.svc.ListGifts(ctx, ListGiftsCommand{})
	if err != nil {
		t.Fatalf("ListGifts: %v", err)
	}
	if len(gifts) != 1 || gifts[0].ID != gift.ID {
		t.Fatalf("unexpected gifts %+v", gifts)
	}

	gift.Content = ContentBag{"wishes": {"text": "hi"}}
	matrix, err := f.svc.Completion(gift)
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	complete := map[string]bool{}
	for _, page := range matrix {
		complete[page.PageID] = page.Complete
	}
	if !complete["intro"] || !complete["wishes"] || complete["countdown"] || complete["memories"] {
		t.Fatalf("unexpected completion %+v", complete)
	}
}

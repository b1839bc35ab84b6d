package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/auth"
	"github.com/giftcraft/experience/internal/repositories"
)

var (
	// ErrGiftInvalidInput indicates the caller provided invalid arguments.
	ErrGiftInvalidInput = errors.New("gift: invalid input")
	// ErrGiftNotFound indicates the gift does not exist, is not visible to the caller, or is not published.
	ErrGiftNotFound = errors.New("gift: not found")
	// ErrGiftUnauthenticated indicates the operation needs a signed-in author.
	ErrGiftUnauthenticated = errors.New("gift: unauthenticated")
	// ErrGiftConflict indicates the operation would conflict with existing state.
	ErrGiftConflict = errors.New("gift: conflict")
	// ErrGiftUnavailable signals that persistence is temporarily unavailable; callers may retry.
	ErrGiftUnavailable = errors.New("gift: repository unavailable")
	// ErrGiftTemplateNotFound indicates the requested template is not in the catalog.
	ErrGiftTemplateNotFound = errors.New("gift: template not found")
)

const (
	giftIDPrefix     = "gft_"
	defaultListLimit = 50
	maxListLimit     = 200
	eventPublished   = "gift.published"
)

// Limits on a content bag. UpdateContent rejects bags beyond them with ErrGiftInvalidInput.
const (
	MaxContentPages  = 64
	MaxFieldsPerPage = 64
)

// ContentServiceDeps wires dependencies for the content service implementation.
type ContentServiceDeps struct {
	Gifts     repositories.GiftRepository
	Templates TemplateCatalog
	// Cache is optional; when set, published gifts are served from it and invalidated on update.
	Cache repositories.PublishedGiftCache
	// Events is optional; when set, first publication emits a gift.published event.
	Events      GiftEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	ShareIDs    func() string
	Logger      func(context.Context, string, map[string]any)
}

type contentService struct {
	gifts     repositories.GiftRepository
	templates TemplateCatalog
	cache     repositories.PublishedGiftCache
	events    GiftEventPublisher
	clock     func() time.Time
	newID     func() string
	newShare  func() string
	logger    func(context.Context, string, map[string]any)
}

var _ ContentService = (*contentService)(nil)

// NewContentService constructs a ContentService backed by the provided dependencies.
func NewContentService(deps ContentServiceDeps) (ContentService, error) {
	if deps.Gifts == nil {
		return nil, errors.New("content service: gift repository is required")
	}
	if deps.Templates == nil {
		return nil, errors.New("content service: template catalog is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	shareGen := deps.ShareIDs
	if shareGen == nil {
		shareGen = func() string { return uuid.NewString() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &contentService{
		gifts:     deps.Gifts,
		templates: deps.Templates,
		cache:     deps.Cache,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		newShare:  shareGen,
		logger:    logger,
	}, nil
}

// CreateGift instantiates a template with an empty content bag for the signed-in author.
func (s *contentService) CreateGift(ctx context.Context, cmd CreateGiftCommand) (Gift, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return Gift{}, ErrGiftUnauthenticated
	}

	tpl, err := s.resolveTemplate(cmd)
	if err != nil {
		return Gift{}, err
	}

	now := s.clock()
	gift := Gift{
		ID:           giftIDPrefix + s.newID(),
		OwnerID:      identity.UID,
		TemplateID:   tpl.ID,
		TemplateSlug: tpl.Slug,
		Title:        strings.TrimSpace(cmd.Title),
		Content:      ContentBag{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if gift.Title == "" {
		gift.Title = tpl.Title
	}
	if err := s.gifts.Insert(ctx, gift); err != nil {
		return Gift{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "gift.created", map[string]any{
		"giftId":   gift.ID,
		"template": gift.TemplateSlug,
	})
	return gift, nil
}

// GetGift loads a gift owned by the caller.
func (s *contentService) GetGift(ctx context.Context, giftID string) (Gift, error) {
	giftID = strings.TrimSpace(giftID)
	if giftID == "" {
		return Gift{}, fmt.Errorf("%w: gift id is required", ErrGiftInvalidInput)
	}
	gift, err := s.gifts.FindByID(ctx, giftID)
	if err != nil {
		return Gift{}, s.mapRepositoryError(err)
	}
	if err := s.authorize(ctx, gift); err != nil {
		return Gift{}, err
	}
	return gift, nil
}

// UpdateContent overwrites the entire content bag. Concurrent writers are last-write-wins.
func (s *contentService) UpdateContent(ctx context.Context, cmd UpdateContentCommand) (Gift, error) {
	if err := validateContent(cmd.Content); err != nil {
		return Gift{}, err
	}
	current, err := s.GetGift(ctx, cmd.GiftID)
	if err != nil {
		return Gift{}, err
	}

	updated, err := s.gifts.ReplaceContent(ctx, current.ID, cmd.Content.Clone(), s.clock())
	if err != nil {
		return Gift{}, s.mapRepositoryError(err)
	}
	if updated.IsPublished {
		s.invalidate(ctx, updated.ShareID)
	}

	s.logger(ctx, "gift.content_updated", map[string]any{
		"giftId":   updated.ID,
		"revision": updated.Revision,
		"pages":    len(updated.Content),
	})
	return updated, nil
}

// PublishGift is idempotent: the share id is assigned once and republishing returns the same gift.
// Completeness is not checked here.
func (s *contentService) PublishGift(ctx context.Context, giftID string) (Gift, error) {
	current, err := s.GetGift(ctx, giftID)
	if err != nil {
		return Gift{}, err
	}
	if current.IsPublished && current.ShareID != "" {
		return current, nil
	}

	gift, changed, err := s.gifts.Publish(ctx, current.ID, s.newShare(), s.clock())
	if err != nil {
		return Gift{}, s.mapRepositoryError(err)
	}
	if !changed {
		return gift, nil
	}

	s.logger(ctx, "gift.published", map[string]any{
		"giftId":  gift.ID,
		"shareId": gift.ShareID,
	})
	s.publishEvent(ctx, gift)
	if s.cache != nil {
		if err := s.cache.Put(ctx, gift); err != nil {
			s.logger(ctx, "gift.cache_put_failed", map[string]any{"shareId": gift.ShareID, "error": err.Error()})
		}
	}
	return gift, nil
}

// GetByShareID loads a published gift for a recipient. Unpublished gifts are reported as not found.
func (s *contentService) GetByShareID(ctx context.Context, shareID string) (Gift, error) {
	shareID = strings.TrimSpace(shareID)
	if shareID == "" {
		return Gift{}, fmt.Errorf("%w: share id is required", ErrGiftInvalidInput)
	}

	if s.cache != nil {
		gift, ok, err := s.cache.Get(ctx, shareID)
		if err != nil {
			s.logger(ctx, "gift.cache_get_failed", map[string]any{"shareId": shareID, "error": err.Error()})
		} else if ok {
			return gift, nil
		}
	}

	gift, err := s.gifts.FindByShareID(ctx, shareID)
	if err != nil {
		return Gift{}, s.mapRepositoryError(err)
	}
	if !gift.IsPublished {
		return Gift{}, fmt.Errorf("%w: gift %s is not published", ErrGiftNotFound, gift.ID)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, gift); err != nil {
			s.logger(ctx, "gift.cache_put_failed", map[string]any{"shareId": shareID, "error": err.Error()})
		}
	}
	return gift, nil
}

// ListGifts returns the caller's gifts, most recently updated first.
func (s *contentService) ListGifts(ctx context.Context, cmd ListGiftsCommand) ([]Gift, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, ErrGiftUnauthenticated
	}
	limit := cmd.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	gifts, err := s.gifts.ListByOwner(ctx, identity.UID, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return gifts, nil
}

// Template returns the catalog definition the gift was created from.
func (s *contentService) Template(gift Gift) (TemplateDefinition, error) {
	tpl, err := s.templates.GetByID(gift.TemplateID)
	if err != nil {
		return TemplateDefinition{}, fmt.Errorf("%w: %v", ErrGiftTemplateNotFound, err)
	}
	return tpl, nil
}

// Completion derives the completion matrix for gift. It is never stored.
func (s *contentService) Completion(gift Gift) ([]PageCompletion, error) {
	tpl, err := s.Template(gift)
	if err != nil {
		return nil, err
	}
	return domain.Completion(tpl, gift.Content), nil
}

func (s *contentService) resolveTemplate(cmd CreateGiftCommand) (TemplateDefinition, error) {
	var (
		tpl TemplateDefinition
		err error
	)
	switch slug := strings.TrimSpace(cmd.TemplateSlug); {
	case slug != "":
		tpl, err = s.templates.GetBySlug(slug)
	case cmd.TemplateID > 0:
		tpl, err = s.templates.GetByID(cmd.TemplateID)
	default:
		return TemplateDefinition{}, fmt.Errorf("%w: template slug or id is required", ErrGiftInvalidInput)
	}
	if err != nil {
		return TemplateDefinition{}, fmt.Errorf("%w: %v", ErrGiftTemplateNotFound, err)
	}
	return tpl, nil
}

func (s *contentService) authorize(ctx context.Context, gift Gift) error {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return ErrGiftUnauthenticated
	}
	if gift.OwnerID != identity.UID {
		return fmt.Errorf("%w: gift %s", ErrGiftNotFound, gift.ID)
	}
	return nil
}

func (s *contentService) publishEvent(ctx context.Context, gift Gift) {
	if s.events == nil {
		return
	}
	event := GiftEvent{
		Type:         eventPublished,
		GiftID:       gift.ID,
		OwnerID:      gift.OwnerID,
		ShareID:      gift.ShareID,
		TemplateSlug: gift.TemplateSlug,
		OccurredAt:   s.clock(),
	}
	if _, err := s.events.PublishGiftEvent(ctx, event); err != nil {
		s.logger(ctx, "gift.event_publish_failed", map[string]any{
			"giftId": gift.ID,
			"error":  err.Error(),
		})
	}
}

func (s *contentService) invalidate(ctx context.Context, shareID string) {
	if s.cache == nil || shareID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, shareID); err != nil {
		s.logger(ctx, "gift.cache_invalidate_failed", map[string]any{"shareId": shareID, "error": err.Error()})
	}
}

func (s *contentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGiftUnavailable, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrGiftNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrGiftConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrGiftUnavailable, err)
		}
	}
	return err
}

func validateContent(bag ContentBag) error {
	if len(bag) > MaxContentPages {
		return fmt.Errorf("%w: content has %d pages, limit is %d", ErrGiftInvalidInput, len(bag), MaxContentPages)
	}
	for pageID, page := range bag {
		if strings.TrimSpace(pageID) == "" {
			return fmt.Errorf("%w: content page id is blank", ErrGiftInvalidInput)
		}
		if len(page) > MaxFieldsPerPage {
			return fmt.Errorf("%w: page %s has too many fields", ErrGiftInvalidInput, pageID)
		}
		for field := range page {
			if strings.TrimSpace(field) == "" {
				return fmt.Errorf("%w: page %s has a blank field name", ErrGiftInvalidInput, pageID)
			}
		}
	}
	return nil
}

package services

import (
	"context"
	"io"
	"time"

	"github.com/giftcraft/experience/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Gift               = domain.Gift
	ContentBag         = domain.ContentBag
	PageContent        = domain.PageContent
	TemplateDefinition = domain.TemplateDefinition
	PageCompletion     = domain.PageCompletion
)

// TemplateCatalog is the read side of the template catalog.
type TemplateCatalog interface {
	GetBySlug(slug string) (domain.TemplateDefinition, error)
	GetByID(id int) (domain.TemplateDefinition, error)
	ListAll() []domain.TemplateDefinition
}

// ContentService is the content store for gifts: create, read, whole-bag update and publish.
type ContentService interface {
	CreateGift(ctx context.Context, cmd CreateGiftCommand) (Gift, error)
	GetGift(ctx context.Context, giftID string) (Gift, error)
	UpdateContent(ctx context.Context, cmd UpdateContentCommand) (Gift, error)
	PublishGift(ctx context.Context, giftID string) (Gift, error)
	GetByShareID(ctx context.Context, shareID string) (Gift, error)
	ListGifts(ctx context.Context, cmd ListGiftsCommand) ([]Gift, error)
	Template(gift Gift) (TemplateDefinition, error)
	Completion(gift Gift) ([]PageCompletion, error)
}

// CreateGiftCommand selects the template by slug or id. Slug wins when both are set.
type CreateGiftCommand struct {
	TemplateSlug string
	TemplateID   int
	Title        string
}

// UpdateContentCommand replaces the whole content bag of a gift.
type UpdateContentCommand struct {
	GiftID  string
	Content ContentBag
}

// ListGiftsCommand lists the caller's gifts.
type ListGiftsCommand struct {
	Limit int
}

// MediaService stores files referenced from gift content and returns their URL.
type MediaService interface {
	Upload(ctx context.Context, cmd UploadMediaCommand) (UploadedMedia, error)
}

// UploadMediaCommand carries one file destined for a page field.
type UploadMediaCommand struct {
	GiftID      string
	PageID      string
	Field       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadedMedia is the stored object and its public URL.
type UploadedMedia struct {
	URL         string
	ObjectPath  string
	ContentType string
	Size        int64
}

// GiftEventPublisher emits gift lifecycle events to the background queue.
type GiftEventPublisher interface {
	PublishGiftEvent(ctx context.Context, event GiftEvent) (string, error)
}

// GiftEvent is the payload published when a gift changes lifecycle state.
type GiftEvent struct {
	Type         string    `json:"type"`
	GiftID       string    `json:"giftId"`
	OwnerID      string    `json:"ownerId"`
	ShareID      string    `json:"shareId,omitempty"`
	TemplateSlug string    `json:"templateSlug"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

package repositories

import (
	"context"
	"time"

	"github.com/giftcraft/experience/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// GiftRepository persists gifts and their content bags.
type GiftRepository interface {
	Insert(ctx context.Context, gift domain.Gift) error
	FindByID(ctx context.Context, giftID string) (domain.Gift, error)
	// FindByShareID returns the gift holding shareID, published or not.
	FindByShareID(ctx context.Context, shareID string) (domain.Gift, error)
	// ListByOwner returns the owner's gifts, most recently updated first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Gift, error)
	// ReplaceContent overwrites the whole content bag and bumps the revision.
	ReplaceContent(ctx context.Context, giftID string, content domain.ContentBag, updatedAt time.Time) (domain.Gift, error)
	// Publish marks the gift published and assigns shareID unless one is already set.
	// changed is false when the gift was already published.
	Publish(ctx context.Context, giftID, shareID string, publishedAt time.Time) (gift domain.Gift, changed bool, err error)
}

// PublishedGiftCache keeps published gifts keyed by share id.
type PublishedGiftCache interface {
	Get(ctx context.Context, shareID string) (domain.Gift, bool, error)
	Put(ctx context.Context, gift domain.Gift) error
	Invalidate(ctx context.Context, shareID string) error
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

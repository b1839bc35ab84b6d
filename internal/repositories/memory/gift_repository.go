// Package memory provides in-process repositories for local development and tests.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/repositories"
)

// Error categorises memory repository failures the same way the Firestore adapter does.
type Error struct {
	op       string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	switch {
	case e.notFound:
		return fmt.Sprintf("memory %s: not found", e.op)
	case e.conflict:
		return fmt.Sprintf("memory %s: conflict", e.op)
	}
	return "memory " + e.op
}

func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

// GiftRepository keeps gifts in a map guarded by a mutex.
type GiftRepository struct {
	mu      sync.Mutex
	gifts   map[string]domain.Gift
	byShare map[string]string
}

var _ repositories.GiftRepository = (*GiftRepository)(nil)

// NewGiftRepository constructs an empty repository.
func NewGiftRepository() *GiftRepository {
	return &GiftRepository{
		gifts:   make(map[string]domain.Gift),
		byShare: make(map[string]string),
	}
}

func (r *GiftRepository) Insert(_ context.Context, gift domain.Gift) error {
	id := strings.TrimSpace(gift.ID)
	if id == "" {
		return errors.New("gift repository: gift id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gifts[id]; exists {
		return &Error{op: "gifts.insert", conflict: true}
	}
	r.gifts[id] = gift.Clone()
	if gift.ShareID != "" {
		r.byShare[gift.ShareID] = id
	}
	return nil
}

func (r *GiftRepository) FindByID(_ context.Context, giftID string) (domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gift, ok := r.gifts[strings.TrimSpace(giftID)]
	if !ok {
		return domain.Gift{}, &Error{op: "gifts.get", notFound: true}
	}
	return gift.Clone(), nil
}

func (r *GiftRepository) FindByShareID(_ context.Context, shareID string) (domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byShare[strings.TrimSpace(shareID)]
	if !ok {
		return domain.Gift{}, &Error{op: "gifts.by_share", notFound: true}
	}
	return r.gifts[id].Clone(), nil
}

func (r *GiftRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Gift, error) {
	ownerID = strings.TrimSpace(ownerID)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Gift
	for _, gift := range r.gifts {
		if gift.OwnerID == ownerID {
			out = append(out, gift.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Gift) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *GiftRepository) ReplaceContent(_ context.Context, giftID string, content domain.ContentBag, updatedAt time.Time) (domain.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gift, ok := r.gifts[strings.TrimSpace(giftID)]
	if !ok {
		return domain.Gift{}, &Error{op: "gifts.replace_content", notFound: true}
	}
	gift.Content = content.Clone()
	gift.Revision++
	gift.UpdatedAt = updatedAt.UTC()
	r.gifts[gift.ID] = gift
	return gift.Clone(), nil
}

func (r *GiftRepository) Publish(_ context.Context, giftID, shareID string, publishedAt time.Time) (domain.Gift, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gift, ok := r.gifts[strings.TrimSpace(giftID)]
	if !ok {
		return domain.Gift{}, false, &Error{op: "gifts.publish", notFound: true}
	}
	if gift.IsPublished && gift.ShareID != "" {
		return gift.Clone(), false, nil
	}
	if gift.ShareID == "" {
		if _, taken := r.byShare[shareID]; taken {
			return domain.Gift{}, false, &Error{op: "gifts.publish", conflict: true}
		}
		gift.ShareID = shareID
		r.byShare[shareID] = gift.ID
	}
	ts := publishedAt.UTC()
	gift.IsPublished = true
	gift.PublishedAt = &ts
	gift.UpdatedAt = ts
	r.gifts[gift.ID] = gift
	return gift.Clone(), true, nil
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/giftcraft/experience/internal/domain"
	pfirestore "github.com/giftcraft/experience/internal/platform/firestore"
	"github.com/giftcraft/experience/internal/repositories"
)

const giftsCollection = "gifts"

// GiftRepository persists gifts as documents in the gifts collection keyed by gift id.
type GiftRepository struct {
	gifts    *pfirestore.Collection[giftDocument]
	provider *pfirestore.Provider
}

var _ repositories.GiftRepository = (*GiftRepository)(nil)

// NewGiftRepository constructs a Firestore-backed gift repository.
func NewGiftRepository(provider *pfirestore.Provider) (*GiftRepository, error) {
	if provider == nil {
		return nil, errors.New("gift repository: firestore provider is required")
	}
	return &GiftRepository{
		gifts:    pfirestore.NewCollection[giftDocument](provider, giftsCollection, nil),
		provider: provider,
	}, nil
}

// Insert creates the gift document. Existing ids fail with a conflict.
func (r *GiftRepository) Insert(ctx context.Context, gift domain.Gift) error {
	id := strings.TrimSpace(gift.ID)
	if id == "" {
		return errors.New("gift repository: gift id is required")
	}
	return r.gifts.Create(ctx, id, encodeGift(gift))
}

func (r *GiftRepository) FindByID(ctx context.Context, giftID string) (domain.Gift, error) {
	doc, err := r.gifts.Get(ctx, strings.TrimSpace(giftID))
	if err != nil {
		return domain.Gift{}, err
	}
	return decodeGift(doc), nil
}

func (r *GiftRepository) FindByShareID(ctx context.Context, shareID string) (domain.Gift, error) {
	shareID = strings.TrimSpace(shareID)
	if shareID == "" {
		return domain.Gift{}, pfirestore.NotFound("gifts.by_share", errors.New("share id is empty"))
	}
	docs, err := r.gifts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("shareId", "==", shareID).Limit(1)
	})
	if err != nil {
		return domain.Gift{}, err
	}
	if len(docs) == 0 {
		return domain.Gift{}, pfirestore.NotFound("gifts.by_share", fmt.Errorf("share id %s", shareID))
	}
	return decodeGift(docs[0]), nil
}

func (r *GiftRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Gift, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errors.New("gift repository: owner id is required")
	}
	docs, err := r.gifts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("ownerUid", "==", ownerID).
			OrderBy("updatedAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	gifts := make([]domain.Gift, 0, len(docs))
	for _, doc := range docs {
		gifts = append(gifts, decodeGift(doc))
	}
	return gifts, nil
}

// ReplaceContent overwrites the content map inside a transaction so the revision bump is atomic.
func (r *GiftRepository) ReplaceContent(ctx context.Context, giftID string, content domain.ContentBag, updatedAt time.Time) (domain.Gift, error) {
	ref, err := r.gifts.Ref(ctx, strings.TrimSpace(giftID))
	if err != nil {
		return domain.Gift{}, err
	}
	var saved domain.Gift
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("gifts.replace_content", err)
		}
		doc, err := r.gifts.Decode(snap)
		if err != nil {
			return err
		}
		doc.Data.Content = encodeContent(content)
		doc.Data.Revision++
		doc.Data.UpdatedAt = updatedAt.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "content", Value: doc.Data.Content},
			{Path: "revision", Value: doc.Data.Revision},
			{Path: "updatedAt", Value: doc.Data.UpdatedAt},
		}); err != nil {
			return pfirestore.WrapError("gifts.replace_content", err)
		}
		saved = decodeGift(doc)
		return nil
	})
	if err != nil {
		return domain.Gift{}, err
	}
	return saved, nil
}

// Publish sets the published flag and, only when none exists, the share id.
func (r *GiftRepository) Publish(ctx context.Context, giftID, shareID string, publishedAt time.Time) (domain.Gift, bool, error) {
	ref, err := r.gifts.Ref(ctx, strings.TrimSpace(giftID))
	if err != nil {
		return domain.Gift{}, false, err
	}
	var (
		saved   domain.Gift
		changed bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("gifts.publish", err)
		}
		doc, err := r.gifts.Decode(snap)
		if err != nil {
			return err
		}
		if doc.Data.IsPublished && doc.Data.ShareID != "" {
			saved = decodeGift(doc)
			return nil
		}
		if doc.Data.ShareID == "" {
			doc.Data.ShareID = shareID
		}
		ts := publishedAt.UTC()
		doc.Data.IsPublished = true
		doc.Data.PublishedAt = &ts
		doc.Data.UpdatedAt = ts
		if err := tx.Update(ref, []firestore.Update{
			{Path: "isPublished", Value: true},
			{Path: "shareId", Value: doc.Data.ShareID},
			{Path: "publishedAt", Value: ts},
			{Path: "updatedAt", Value: ts},
		}); err != nil {
			return pfirestore.WrapError("gifts.publish", err)
		}
		saved = decodeGift(doc)
		changed = true
		return nil
	})
	if err != nil {
		return domain.Gift{}, false, err
	}
	return saved, changed, nil
}

type giftDocument struct {
	OwnerUID     string                    `firestore:"ownerUid"`
	TemplateID   int                       `firestore:"templateId"`
	TemplateSlug string                    `firestore:"templateSlug"`
	Title        string                    `firestore:"title,omitempty"`
	Content      map[string]map[string]any `firestore:"content"`
	IsPublished  bool                      `firestore:"isPublished"`
	ShareID      string                    `firestore:"shareId,omitempty"`
	Revision     int64                     `firestore:"revision"`
	CreatedAt    time.Time                 `firestore:"createdAt"`
	UpdatedAt    time.Time                 `firestore:"updatedAt"`
	PublishedAt  *time.Time                `firestore:"publishedAt,omitempty"`
}

func encodeGift(gift domain.Gift) giftDocument {
	doc := giftDocument{
		OwnerUID:     gift.OwnerID,
		TemplateID:   gift.TemplateID,
		TemplateSlug: gift.TemplateSlug,
		Title:        gift.Title,
		Content:      encodeContent(gift.Content),
		IsPublished:  gift.IsPublished,
		ShareID:      gift.ShareID,
		Revision:     gift.Revision,
		CreatedAt:    gift.CreatedAt.UTC(),
		UpdatedAt:    gift.UpdatedAt.UTC(),
	}
	if gift.PublishedAt != nil {
		ts := gift.PublishedAt.UTC()
		doc.PublishedAt = &ts
	}
	return doc
}

func encodeContent(bag domain.ContentBag) map[string]map[string]any {
	out := make(map[string]map[string]any, len(bag))
	for pageID, page := range bag.Clone() {
		out[pageID] = map[string]any(page)
	}
	return out
}

func decodeGift(doc pfirestore.Document[giftDocument]) domain.Gift {
	data := doc.Data
	content := make(domain.ContentBag, len(data.Content))
	for pageID, page := range data.Content {
		content[pageID] = domain.PageContent(page).Clone()
	}
	gift := domain.Gift{
		ID:           doc.ID,
		OwnerID:      data.OwnerUID,
		TemplateID:   data.TemplateID,
		TemplateSlug: data.TemplateSlug,
		Title:        data.Title,
		Content:      content,
		IsPublished:  data.IsPublished,
		ShareID:      data.ShareID,
		Revision:     data.Revision,
		CreatedAt:    data.CreatedAt,
		UpdatedAt:    data.UpdatedAt,
	}
	if gift.CreatedAt.IsZero() {
		gift.CreatedAt = doc.CreateTime
	}
	if gift.UpdatedAt.IsZero() {
		gift.UpdatedAt = doc.UpdateTime
	}
	if data.PublishedAt != nil {
		ts := data.PublishedAt.UTC()
		gift.PublishedAt = &ts
	}
	return gift
}

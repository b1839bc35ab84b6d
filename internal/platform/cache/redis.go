// Package cache stores published gifts in Redis so viewer sessions avoid a Firestore read per open.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/platform/config"
)

const (
	defaultTTL = 10 * time.Minute
	keyPrefix  = "giftcraft:shared:"
)

// Client is the subset of the go-redis client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// NewClient builds a go-redis client from configuration.
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// GiftCache keeps published gifts keyed by share id.
type GiftCache struct {
	client Client
	ttl    time.Duration
}

// NewGiftCache wraps client. ttl <= 0 selects ten minutes.
func NewGiftCache(client Client, ttl time.Duration) (*GiftCache, error) {
	if client == nil {
		return nil, errors.New("gift cache: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &GiftCache{client: client, ttl: ttl}, nil
}

// Get returns the cached gift. A miss is (zero, false, nil).
func (c *GiftCache) Get(ctx context.Context, shareID string) (domain.Gift, bool, error) {
	raw, err := c.client.Get(ctx, key(shareID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Gift{}, false, nil
	}
	if err != nil {
		return domain.Gift{}, false, fmt.Errorf("gift cache: get: %w", err)
	}
	var entry cachedGift
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.Gift{}, false, fmt.Errorf("gift cache: decode: %w", err)
	}
	return entry.toDomain(), true, nil
}

// Put caches a published gift. Unpublished gifts are ignored.
func (c *GiftCache) Put(ctx context.Context, gift domain.Gift) error {
	if !gift.IsPublished || strings.TrimSpace(gift.ShareID) == "" {
		return nil
	}
	raw, err := json.Marshal(fromDomain(gift))
	if err != nil {
		return fmt.Errorf("gift cache: encode: %w", err)
	}
	if err := c.client.Set(ctx, key(gift.ShareID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("gift cache: set: %w", err)
	}
	return nil
}

// Invalidate drops the entry for shareID.
func (c *GiftCache) Invalidate(ctx context.Context, shareID string) error {
	if strings.TrimSpace(shareID) == "" {
		return nil
	}
	if err := c.client.Del(ctx, key(shareID)).Err(); err != nil {
		return fmt.Errorf("gift cache: delete: %w", err)
	}
	return nil
}

// Ping is used by the readiness probe.
func (c *GiftCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func key(shareID string) string {
	return keyPrefix + strings.TrimSpace(shareID)
}

type cachedGift struct {
	ID           string                    `json:"id"`
	OwnerID      string                    `json:"ownerId"`
	TemplateID   int                       `json:"templateId"`
	TemplateSlug string                    `json:"templateSlug"`
	Title        string                    `json:"title,omitempty"`
	Content      map[string]map[string]any `json:"content"`
	ShareID      string                    `json:"shareId"`
	Revision     int64                     `json:"revision"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
	PublishedAt  *time.Time                `json:"publishedAt,omitempty"`
}

func fromDomain(gift domain.Gift) cachedGift {
	content := make(map[string]map[string]any, len(gift.Content))
	for pageID, page := range gift.Content {
		content[pageID] = page
	}
	return cachedGift{
		ID:           gift.ID,
		OwnerID:      gift.OwnerID,
		TemplateID:   gift.TemplateID,
		TemplateSlug: gift.TemplateSlug,
		Title:        gift.Title,
		Content:      content,
		ShareID:      gift.ShareID,
		Revision:     gift.Revision,
		CreatedAt:    gift.CreatedAt,
		UpdatedAt:    gift.UpdatedAt,
		PublishedAt:  gift.PublishedAt,
	}
}

func (c cachedGift) toDomain() domain.Gift {
	content := make(domain.ContentBag, len(c.Content))
	for pageID, page := range c.Content {
		content[pageID] = page
	}
	return domain.Gift{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		TemplateID:   c.TemplateID,
		TemplateSlug: c.TemplateSlug,
		Title:        c.Title,
		Content:      content,
		IsPublished:  true,
		ShareID:      c.ShareID,
		Revision:     c.Revision,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		PublishedAt:  c.PublishedAt,
	}
}

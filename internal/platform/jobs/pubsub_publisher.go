package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/giftcraft/experience/internal/services"
)

// PubSubGiftEventPublisher publishes gift lifecycle events to a Pub/Sub topic.
type PubSubGiftEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.GiftEventPublisher = (*PubSubGiftEventPublisher)(nil)

// NewPubSubGiftEventPublisher constructs a Pub/Sub backed gift event publisher.
func NewPubSubGiftEventPublisher(topic *pubsub.Topic) (*PubSubGiftEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub gift publisher: topic is required")
	}
	return &PubSubGiftEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishGiftEvent sends the event and blocks until the server acknowledges it.
func (p *PubSubGiftEventPublisher) PublishGiftEvent(ctx context.Context, event services.GiftEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub gift publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal gift event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "giftId", event.GiftID)
	setAttr(attrs, "shareId", event.ShareID)
	setAttr(attrs, "templateSlug", event.TemplateSlug)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish gift event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

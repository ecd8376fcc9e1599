package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orderledger/internal/services"
)

// PubSubPublisher publishes order notification envelopes to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.NotificationPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	// Envelopes for one order keep their publish order.
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic, marshal: json.Marshal}, nil
}

// Publish sends the envelope and waits for the server-assigned message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, envelope services.NotificationEnvelope) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}
	data, err := p.marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", envelope.ID)
	setAttr(attrs, "eventType", string(envelope.Type))
	setAttr(attrs, "orderId", envelope.OrderID)
	setAttr(attrs, "orderNumber", envelope.OrderNumber)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: envelope.OrderID,
	})
	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(envelope.OrderID)
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

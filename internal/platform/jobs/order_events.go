// Package jobs hands committed order lifecycle events to Pub/Sub for downstream fulfilment and
// accounting consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

const defaultPublishTimeout = 10 * time.Second

// OrderEvents publishes order events keyed by order id, so consumers with ordered delivery see
// CREATED before PAID before SHIPPED for a given order.
type OrderEvents struct {
	topic   *pubsub.Topic
	client  *pubsub.Client
	timeout time.Duration
}

var _ services.OrderEventPublisher = (*OrderEvents)(nil)

// Option customises an OrderEvents publisher.
type Option func(*OrderEvents)

// WithPublishTimeout bounds how long PublishOrderEvent waits for the server ack.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *OrderEvents) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// DialOrderEvents connects to Pub/Sub and publishes to topicID. Close releases the client.
func DialOrderEvents(ctx context.Context, projectID, topicID string, clientOpts []option.ClientOption, opts ...Option) (*OrderEvents, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(topicID) == "" {
		return nil, errors.New("jobs: pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("jobs: pubsub client: %w", err)
	}
	p, err := NewOrderEvents(client.Topic(topicID), opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.client = client
	return p, nil
}

// NewOrderEvents publishes to an existing topic handle, enabling message ordering on it.
func NewOrderEvents(topic *pubsub.Topic, opts ...Option) (*OrderEvents, error) {
	if topic == nil {
		return nil, errors.New("jobs: pubsub topic is required")
	}
	topic.EnableMessageOrdering = true
	p := &OrderEvents{topic: topic, timeout: defaultPublishTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// PublishOrderEvent sends event and waits for the ack. A failed publish pauses the order's
// ordering key inside the client, so it is resumed before returning the error.
func (p *OrderEvents) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("jobs: encode order event: %w", err)
	}

	attrs := map[string]string{}
	for key, value := range map[string]string{
		"eventType": event.Type,
		"orderId":   event.OrderID,
		"buyerId":   event.BuyerID,
		"status":    string(event.CurrentStatus),
		"actorId":   event.ActorID,
	} {
		if value = strings.TrimSpace(value); value != "" {
			attrs[key] = value
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: event.OrderID}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("jobs: publish %s for %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// Close flushes pending messages and, when the publisher dialled its own client, closes it.
func (p *OrderEvents) Close() error {
	p.topic.Stop()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Package pubsub announces finished fetch outcomes on a Google Cloud Pub/Sub
// topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher implements archive.OutcomeSink on top of a Pub/Sub topic.
type Publisher struct {
	publish publishFunc
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	if topic == nil {
		return &Publisher{}
	}
	return &Publisher{
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
	}
}

// Record publishes the outcome as JSON. Trace context and a few routing fields
// travel as message attributes.
func (p *Publisher) Record(ctx context.Context, outcome archive.FetchOutcome) error {
	if p.publish == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	msg.Attributes = map[string]string{
		"success": strconv.FormatBool(outcome.Success),
		"status":  strconv.Itoa(outcome.Status),
	}
	if outcome.StorageKey != "" {
		msg.Attributes["path"] = outcome.StorageKey
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := p.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}

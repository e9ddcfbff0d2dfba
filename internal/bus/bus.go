// Package bus provides the event buses Kestrel publishes assessment
// notifications on.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.Publish(ctx, topic, payload)
}

// newMessage builds the envelope shared by every bus. The trace ID of the
// publishing span, if any, travels in the metadata.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	md := make(map[string]string)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		md["trace_id"] = sc.TraceID().String()
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

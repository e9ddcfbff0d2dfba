package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" mapstructure:"channelbuffersize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" mapstructure:"natsurl"`
	NATSToken         string `json:"-" mapstructure:"natstoken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" mapstructure:"natsreconnectwait"` // seconds
}

// Topics used by the scoring service.
const (
	TopicAssessmentCompleted = "kestrel.assessment.completed"
	TopicBundleLoaded        = "kestrel.bundle.loaded"

	// Async scoring: applications in, rejections out. Accepted applications
	// produce a TopicAssessmentCompleted event like synchronous calls do.
	TopicApplicationSubmitted = "kestrel.application.submitted"
	TopicApplicationRejected  = "kestrel.application.rejected"
)

// RejectionEvent is published when an async application cannot be assessed.
type RejectionEvent struct {
	MessageID   string `json:"messageId"`
	ApplicantID string `json:"applicantId,omitempty"`
	Error       string `json:"error"`
}

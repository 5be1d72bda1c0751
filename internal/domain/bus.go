package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (standalone) or NATS (clustered).
// All methods require orgID for strict per-organization isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, orgID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, orgID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, orgID string, topic string, payload []byte) ([]byte, error)

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
	OrgID     string            `json:"orgId"`
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
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the fee pipeline. TopicFeeComputed and
// TopicFeeZeroed carry a marshalled FeeComputation.
const (
	TopicFeeRequested  = "bareme.fee.requested"
	TopicFeeComputed   = "bareme.fee.computed"
	TopicFeeZeroed     = "bareme.fee.zeroed"
	TopicConfigChanged = "bareme.config.changed"
)

// FeeRequestedEvent is the payload carried on TopicFeeRequested: one fee
// to price, published by the membership application for batch and
// renewal pricing.
type FeeRequestedEvent struct {
	OrgID     string          `json:"orgId"`
	TariffID  string          `json:"tariffId"`
	FeeTypeID string          `json:"feeTypeId"`
	TraceID   string          `json:"traceId,omitempty"`
	Profile   *PersonProfile  `json:"profile"`
	Context   *ComputeContext `json:"context,omitempty"`

	// Commit defaults to true for async requests: batch pricing exists
	// to produce durable amounts, not previews.
	Commit *bool `json:"commit,omitempty"`
}

// ShouldCommit reports whether the request asks for a durable result.
func (e *FeeRequestedEvent) ShouldCommit() bool {
	return e.Commit == nil || *e.Commit
}

// ConfigChangedEvent is the payload carried on TopicConfigChanged. Kind
// names the configuration surface that changed; the id fields identify
// the changed object when one applies.
type ConfigChangedEvent struct {
	Kind      string `json:"kind"`
	TariffID  string `json:"tariffId,omitempty"`
	RuleID    string `json:"ruleId,omitempty"`
	BracketID string `json:"bracketId,omitempty"`
}


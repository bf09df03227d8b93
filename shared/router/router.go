// Package router defines the MessageRouter interface, the boundary between
// the monitor and the message broker (NATS JetStream), and the bus bridge
// that publishes device state and alerts onto it.
//
// Subjects:
//
//	telemetry.<thing>.state  core NATS, one message per poll
//	alert.<thing>.water      JetStream, deduplicated by alert ID
package router

import (
	"context"
	"time"
)

// MessageRouter abstracts a pub/sub message bus so services depend on an
// interface rather than a concrete transport. Implementations must be
// goroutine-safe.
type MessageRouter interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...PubOptions) error
	// Subscribe returns a channel closed when ctx is cancelled.
	Subscribe(ctx context.Context, subject string, opts ...SubOptions) (<-chan *Message, error)
	EnsureStream(ctx context.Context, name string, subjects []string) error
	Close() error
}

// Message represents a single message received from the bus.
type Message struct {
	Subject string
	Data    []byte
	Reply   string
}

// PubOptions configure how a message is published.
type PubOptions struct {
	// DeduplicationID routes the publish through JetStream with a
	// Nats-Msg-Id header.
	DeduplicationID string
}

// SubOptions configure how a subscription is created.
type SubOptions struct {
	// Durable selects a JetStream consumer; empty means core NATS.
	Durable   string
	AckWait   time.Duration
	StartTime *time.Time
}

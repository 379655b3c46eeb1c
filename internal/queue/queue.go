// Package queue defines the durable queue contract the worker consumes and an
// in-memory implementation with visibility-timeout semantics.
package queue

import (
	"context"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// Attribute keys set on every event message.
const (
	AttrEventType = "event_type"
	AttrPriority  = "priority"
)

// Message is one received delivery. Receipt identifies this delivery and is
// what Delete acknowledges; it changes on every redelivery.
type Message struct {
	ID           string
	Body         []byte
	Receipt      string
	Attributes   map[string]string
	ReceiveCount int
}

// Sender enqueues a message and returns its id. A dead-letter destination is a Sender.
type Sender interface {
	Send(ctx context.Context, body []byte, attrs map[string]string) (string, error)
}

// Receiver delivers messages at least once.
type Receiver interface {
	// Receive long-polls for up to wait and returns at most max messages.
	// An empty slice with a nil error means the wait elapsed.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receipt string) error
}

// Queue is a durable queue.
type Queue interface {
	Sender
	Receiver
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Depth    int `json:"queue_depth"`
	InFlight int `json:"messages_in_flight"`
}

// StatsReporter is implemented by queues that can report their depth.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// ErrUnknownReceipt is returned by Delete when the receipt is stale or was never issued.
var ErrUnknownReceipt = errors.QueueError("unknown or expired receipt").Permanent().Build()

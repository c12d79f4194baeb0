// Package messaging abstracts the durable queue the job ledger publishes
// to.  Delivery is at-least-once and possibly duplicate – the ledger's
// dedup and claim design exists specifically to make that safe.
package messaging

import (
	"context"
	"time"
)

// Queue represents an abstract message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue.
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message, blocking until one is available
	// or the context is done.
	Consume(ctx context.Context) (Message[T], error)
}

// DurableQueue extends Queue with the primitives the job ledger needs:
// identified, prioritised publication and best-effort removal.
type DurableQueue[T any] interface {
	Queue[T]

	// PublishDurable enqueues with explicit delivery options. The id makes
	// the message addressable for Remove.
	PublishDurable(ctx context.Context, t *T, options *Options) error

	// Remove drops a not-yet-consumed message by id and reports whether it
	// was still pending. Messages already picked up cannot be removed.
	Remove(ctx context.Context, id string) (bool, error)
}

// Message represents a message retrieved from a queue.
type Message[T any] interface {
	// T returns the payload of this message.
	T() *T

	// Ack acknowledges successful processing of this message.
	Ack() error

	// Nack indicates failure; the queue redelivers after backoff until the
	// delivery attempt budget is exhausted.
	Nack(err error) error
}

// Options control a durable publication.
type Options struct {
	// ID addresses the message for best-effort removal.
	ID string

	// Priority orders delivery; lower values run first.
	Priority int

	// MaxAttempts caps queue-level redeliveries of this message.
	MaxAttempts int

	// Backoff controls the redelivery delay schedule.
	Backoff Backoff
}

// Backoff describes an exponential redelivery delay.
type Backoff struct {
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// Next returns the delay before redelivery attempt number attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	delay := b.Delay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	multiplier := b.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// QueueConfig defines standard configuration options for queue
// implementations.
type QueueConfig struct {
	// MaxRetries specifies how many times a message can be redelivered.
	MaxRetries int

	// RetryDelay is the base delay before redelivering a failed message.
	RetryDelay time.Duration

	// VisibilityTimeout specifies how long a message is considered
	// in-flight.
	VisibilityTimeout time.Duration
}

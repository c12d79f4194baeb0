// Package memory implements an in-memory durable queue with priority
// ordering, delayed redelivery and an inspectable dead-letter side list.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoact/autoact/service/messaging"
)

// Config for the memory queue implementation.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	DeadLetter bool
	Poll       time.Duration
}

// DefaultConfig returns a standard configuration for the memory queue.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		DeadLetter: true,
		Poll:       10 * time.Millisecond,
	}
}

// Message implements messaging.Message for the in-memory queue.
type Message[T any] struct {
	id          string
	payload     T
	queue       *Queue[T]
	priority    int
	seq         int64
	attempts    int
	maxAttempts int
	backoff     messaging.Backoff
	createdAt   time.Time

	mu        sync.Mutex
	processed bool
}

// T returns the message payload.
func (m *Message[T]) T() *T {
	return &m.payload
}

// Ack acknowledges the message as processed successfully.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	return nil
}

// Nack indicates a failure. Messages under their attempt budget are
// redelivered after the backoff delay; exhausted ones move to the
// dead-letter list when enabled.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.attempts++

	maxAttempts := m.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.queue.config.MaxRetries
	}
	if m.attempts < maxAttempts {
		delay := m.backoff.Next(m.attempts)
		if m.backoff.Delay <= 0 {
			delay = m.queue.config.RetryDelay
		}
		redelivery := &Message[T]{
			id:          m.id,
			payload:     m.payload,
			queue:       m.queue,
			priority:    m.priority,
			attempts:    m.attempts,
			maxAttempts: m.maxAttempts,
			backoff:     m.backoff,
			createdAt:   time.Now(),
		}
		go func() {
			time.Sleep(delay)
			m.queue.push(redelivery)
		}()
		return nil
	}
	if m.queue.config.DeadLetter {
		m.queue.dlqMu.Lock()
		m.queue.dlq = append(m.queue.dlq, m)
		m.queue.dlqMu.Unlock()
	}
	return nil
}

// Queue implements messaging.DurableQueue in memory.
type Queue[T any] struct {
	mu      sync.Mutex
	pending []*Message[T]
	seq     int64
	notify  chan struct{}
	config  Config

	dlqMu sync.Mutex
	dlq   []*Message[T]
}

// NewQueue creates a new in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.Poll <= 0 {
		config.Poll = DefaultConfig().Poll
	}
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		config: config,
	}
}

var _ messaging.DurableQueue[any] = (*Queue[any])(nil)

// Publish adds a new item with default options.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	return q.PublishDurable(ctx, t, nil)
}

// PublishDurable adds a new item honoring the given delivery options.
func (q *Queue[T]) PublishDurable(ctx context.Context, t *T, options *messaging.Options) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	message := &Message[T]{
		payload:   *t,
		queue:     q,
		createdAt: time.Now(),
	}
	if options != nil {
		message.id = options.ID
		message.priority = options.Priority
		message.maxAttempts = options.MaxAttempts
		message.backoff = options.Backoff
	}
	if message.id == "" {
		message.id = uuid.New().String()
	}
	q.push(message)
	return nil
}

func (q *Queue[T]) push(message *Message[T]) {
	q.mu.Lock()
	q.seq++
	message.seq = q.seq
	q.pending = append(q.pending, message)
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].priority != q.pending[j].priority {
			return q.pending[i].priority < q.pending[j].priority
		}
		return q.pending[i].seq < q.pending[j].seq
	})
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Consume retrieves the highest-priority pending item, blocking until one
// arrives or the context is done.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			message := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			// fresh delivery – reset the processed latch
			message.mu.Lock()
			message.processed = false
			message.mu.Unlock()
			return message, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(q.config.Poll):
		}
	}
}

// Remove drops a pending message by id; already-consumed messages cannot
// be removed.
func (q *Queue[T]) Remove(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, message := range q.pending {
		if message.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Size returns the current number of pending messages.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DLQSize returns the number of dead-lettered messages.
func (q *Queue[T]) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

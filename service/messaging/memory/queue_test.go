package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoact/autoact/service/messaging"
)

type testPayload struct {
	Name string
}

func TestQueue_PublishConsume(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx := context.Background()

	err := queue.Publish(ctx, &testPayload{Name: "first"})
	require.NoError(t, err)

	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", message.T().Name)
	assert.NoError(t, message.Ack())
	assert.Error(t, message.Ack(), "double ack should fail")
}

func TestQueue_PriorityOrdering(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx := context.Background()

	require.NoError(t, queue.PublishDurable(ctx, &testPayload{Name: "low"}, &messaging.Options{ID: "l", Priority: 10}))
	require.NoError(t, queue.PublishDurable(ctx, &testPayload{Name: "normal"}, &messaging.Options{ID: "n", Priority: 5}))
	require.NoError(t, queue.PublishDurable(ctx, &testPayload{Name: "high"}, &messaging.Options{ID: "h", Priority: 1}))

	var order []string
	for i := 0; i < 3; i++ {
		message, err := queue.Consume(ctx)
		require.NoError(t, err)
		order = append(order, message.T().Name)
		require.NoError(t, message.Ack())
	}
	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, queue.PublishDurable(ctx, &testPayload{Name: name}, &messaging.Options{Priority: 5}))
	}
	for _, want := range []string{"a", "b", "c"} {
		message, err := queue.Consume(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, message.T().Name)
		require.NoError(t, message.Ack())
	}
}

func TestQueue_NackRedelivery(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 5 * time.Millisecond
	queue := NewQueue[testPayload](config)
	ctx := context.Background()

	require.NoError(t, queue.PublishDurable(ctx, &testPayload{Name: "flaky"}, &messaging.Options{MaxAttempts: 2}))

	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, message.Nack(assert.AnError))

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	redelivered, err := queue.Consume(consumeCtx)
	require.NoError(t, err)
	assert.Equal(t, "flaky", redelivered.T().Name)

	// second failure exhausts the attempt budget
	require.NoError(t, redelivered.Nack(assert.AnError))
	assert.Eventually(t, func() bool { return queue.DLQSize() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, queue.Size())
}

func TestQueue_Remove(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx := context.Background()

	require.NoError(t, queue.PublishDurable(ctx, &testPayload{Name: "cancel-me"}, &messaging.Options{ID: "job-1"}))

	removed, err := queue.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, queue.Size())

	removed, err = queue.Remove(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, removed, "already removed message is no longer pending")
}

func TestQueue_ConsumeBlocksUntilCancel(t *testing.T) {
	queue := NewQueue[testPayload](DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := queue.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

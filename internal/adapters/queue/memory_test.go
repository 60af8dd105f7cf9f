package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

func TestMemoryQueueBroker(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers by priority then arrival", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "low-1", Priority: 1}))
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "high", Priority: 10}))
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "low-2", Priority: 1}))

		var order []string
		for i := 0; i < 3; i++ {
			msg, err := broker.Dequeue(ctx, []string{"q"}, time.Second)
			require.NoError(t, err)
			require.NotNil(t, msg)
			order = append(order, msg.ID)
		}

		assert.Equal(t, []string{"high", "low-1", "low-2"}, order)
	})

	t.Run("ignores duplicate ids", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "run-1"}))
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "run-1"}))

		assert.Equal(t, 1, broker.Len())
	})

	t.Run("times out on an empty queue", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		start := time.Now()

		msg, err := broker.Dequeue(ctx, []string{"empty"}, 50*time.Millisecond)

		require.NoError(t, err)
		assert.Nil(t, msg)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("wakes a blocked consumer on enqueue", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "late"})
		}()

		msg, err := broker.Dequeue(ctx, []string{"q"}, 2*time.Second)

		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, "late", msg.ID)
	})

	t.Run("honours backoff and dead-letters after max attempts", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		now := time.Now()
		broker.now = func() time.Time { return now }
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{
			ID:          "run-2",
			MaxAttempts: 2,
			Backoff:     domain.BackoffPolicy{Type: domain.BackoffExponential, Delay: 2 * time.Second},
		}))

		msg, err := broker.Dequeue(ctx, []string{"q"}, time.Second)
		require.NoError(t, err)
		require.NoError(t, broker.Nack(ctx, msg))

		none, err := broker.Dequeue(ctx, []string{"q"}, 30*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, none)

		now = now.Add(2 * time.Second)
		msg, err = broker.Dequeue(ctx, []string{"q"}, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, 1, msg.Attempts)
		require.NoError(t, broker.Nack(ctx, msg))

		dead, err := broker.DeadLetters(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"run-2"}, dead)
	})

	t.Run("removes completed jobs when asked", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		require.NoError(t, broker.Enqueue(ctx, "q", &domain.QueueMessage{ID: "a", RemoveOnComplete: true}))

		msg, err := broker.Dequeue(ctx, []string{"q"}, time.Second)
		require.NoError(t, err)
		require.NoError(t, broker.Ack(ctx, msg))

		assert.Equal(t, 0, broker.Len())
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		broker := NewMemoryQueueBroker()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := broker.Dequeue(cctx, []string{"q"}, time.Second)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

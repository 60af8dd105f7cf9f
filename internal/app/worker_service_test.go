package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

// MockQueueBroker is a mock implementation of domain.QueueBroker
type MockQueueBroker struct {
	mock.Mock
}

func (m *MockQueueBroker) Enqueue(ctx context.Context, queue string, message *domain.QueueMessage) error {
	args := m.Called(ctx, queue, message)
	return args.Error(0)
}

func (m *MockQueueBroker) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*domain.QueueMessage, error) {
	args := m.Called(ctx, queues, timeout)
	return args.Get(0).(*domain.QueueMessage), args.Error(1)
}

func (m *MockQueueBroker) Ack(ctx context.Context, message *domain.QueueMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockQueueBroker) Nack(ctx context.Context, message *domain.QueueMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockQueueBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}

var noMessage = (*domain.QueueMessage)(nil)

func runMessage(runID string) *domain.QueueMessage {
	payload, _ := json.Marshal(domain.RunPayload{RunID: runID})
	return &domain.QueueMessage{ID: runID, Queue: domain.RunQueue, Payload: payload}
}

// processOne delivers message once, waits for it to be settled, then stops
// the worker.
func processOne(t *testing.T, broker *MockQueueBroker, handler domain.JobHandler, message *domain.QueueMessage) {
	t.Helper()
	service := NewWorkerService(context.Background(), broker, WithConcurrency(1), WithPollTimeout(10*time.Millisecond))
	require.NoError(t, service.RegisterHandler(domain.RunQueue, handler))

	settled := make(chan struct{})
	var once sync.Once
	done := func(mock.Arguments) { once.Do(func() { close(settled) }) }

	broker.On("Dequeue", mock.Anything, []string{domain.RunQueue}, 10*time.Millisecond).Return(message, nil).Once()
	broker.On("Dequeue", mock.Anything, []string{domain.RunQueue}, 10*time.Millisecond).Return(noMessage, nil)
	broker.On("Ack", mock.Anything, message).Return(nil).Run(done).Maybe()
	broker.On("Nack", mock.Anything, message).Return(nil).Run(done).Maybe()

	go func() {
		select {
		case <-settled:
		case <-time.After(2 * time.Second):
		}
		_ = service.Stop(context.Background())
	}()

	err := service.ProcessJobs([]string{domain.RunQueue})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewWorkerService(t *testing.T) {
	mockBroker := &MockQueueBroker{}
	parentCtx := context.Background()

	service := NewWorkerService(parentCtx, mockBroker)

	assert.NotNil(t, service)
	assert.Equal(t, mockBroker, service.broker)
	assert.Equal(t, DefaultWorkerConcurrency, service.concurrency)
	assert.NotNil(t, service.ctx)
	assert.NotNil(t, service.cancel)
}

func TestWorkerService_RegisterHandler(t *testing.T) {
	service := NewWorkerService(context.Background(), &MockQueueBroker{})
	handler := func(ctx context.Context, msg *domain.QueueMessage) error { return nil }

	assert.NoError(t, service.RegisterHandler(domain.RunQueue, handler))
	assert.Contains(t, service.handlers, domain.RunQueue)

	assert.EqualError(t, service.RegisterHandler("", handler), "queue cannot be empty")
	assert.EqualError(t, service.RegisterHandler("q", nil), "handler cannot be nil")
}

func TestWorkerService_DequeueErrorIsRetriedWithoutSettling(t *testing.T) {
	mockBroker := &MockQueueBroker{}
	service := NewWorkerService(context.Background(), mockBroker, WithConcurrency(1), WithPollTimeout(10*time.Millisecond))
	require.NoError(t, service.RegisterHandler(domain.RunQueue, func(context.Context, *domain.QueueMessage) error {
		t.Error("handler must not run")
		return nil
	}))

	failed := make(chan struct{})
	mockBroker.On("Dequeue", mock.Anything, []string{domain.RunQueue}, 10*time.Millisecond).
		Return(noMessage, errors.New("connection refused")).
		Run(func(mock.Arguments) { close(failed) }).
		Once()

	go func() {
		select {
		case <-failed:
		case <-time.After(2 * time.Second):
		}
		_ = service.Stop(context.Background())
	}()

	err := service.ProcessJobs([]string{domain.RunQueue})

	assert.ErrorIs(t, err, context.Canceled)
	mockBroker.AssertNumberOfCalls(t, "Dequeue", 1)
	mockBroker.AssertNotCalled(t, "Nack", mock.Anything, mock.Anything)
	mockBroker.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
}

func TestWorkerService_ProcessJobs(t *testing.T) {
	t.Run("should stop gracefully when context is cancelled", func(t *testing.T) {
		mockBroker := &MockQueueBroker{}
		ctx, cancel := context.WithCancel(context.Background())
		service := NewWorkerService(ctx, mockBroker)
		cancel() // Cancel immediately

		err := service.ProcessJobs([]string{"default"})

		assert.Error(t, err)
		assert.Equal(t, context.Canceled, err)
	})

	t.Run("should require queues", func(t *testing.T) {
		service := NewWorkerService(context.Background(), &MockQueueBroker{})

		err := service.ProcessJobs(nil)

		assert.EqualError(t, err, "no queues specified for processing")
	})

	t.Run("should respect context timeout", func(t *testing.T) {
		mockBroker := &MockQueueBroker{}
		mockBroker.On("Dequeue", mock.Anything, []string{"default"}, 10*time.Millisecond).Return(noMessage, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		service := NewWorkerService(ctx, mockBroker, WithPollTimeout(10*time.Millisecond))

		start := time.Now()
		err := service.ProcessJobs([]string{"default"})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("acks a successful job", func(t *testing.T) {
		broker := &MockQueueBroker{}
		var got string
		handler := func(ctx context.Context, msg *domain.QueueMessage) error {
			got = msg.ID
			return nil
		}

		processOne(t, broker, handler, runMessage("run-1"))

		assert.Equal(t, "run-1", got)
		broker.AssertCalled(t, "Ack", mock.Anything, mock.Anything)
		broker.AssertNotCalled(t, "Nack", mock.Anything, mock.Anything)
	})

	t.Run("nacks a transient failure", func(t *testing.T) {
		broker := &MockQueueBroker{}
		handler := func(ctx context.Context, msg *domain.QueueMessage) error {
			return errors.New("database unavailable")
		}

		processOne(t, broker, handler, runMessage("run-2"))

		broker.AssertCalled(t, "Nack", mock.Anything, mock.Anything)
		broker.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
	})

	t.Run("acks a permanent failure", func(t *testing.T) {
		broker := &MockQueueBroker{}
		handler := func(ctx context.Context, msg *domain.QueueMessage) error {
			return domain.Permanent(domain.Validation("step s1: prompt is required"))
		}

		processOne(t, broker, handler, runMessage("run-3"))

		broker.AssertCalled(t, "Ack", mock.Anything, mock.Anything)
		broker.AssertNotCalled(t, "Nack", mock.Anything, mock.Anything)
	})

	t.Run("recovers from a panicking handler", func(t *testing.T) {
		broker := &MockQueueBroker{}
		handler := func(ctx context.Context, msg *domain.QueueMessage) error {
			panic("boom")
		}

		processOne(t, broker, handler, runMessage("run-4"))

		broker.AssertCalled(t, "Nack", mock.Anything, mock.Anything)
	})

	t.Run("nacks messages without a handler", func(t *testing.T) {
		broker := &MockQueueBroker{}
		message := &domain.QueueMessage{ID: "x", Queue: "unknown"}
		service := NewWorkerService(context.Background(), broker, WithConcurrency(1), WithPollTimeout(10*time.Millisecond))

		broker.On("Dequeue", mock.Anything, []string{"unknown"}, 10*time.Millisecond).Return(message, nil).Once()
		broker.On("Dequeue", mock.Anything, []string{"unknown"}, 10*time.Millisecond).Return(noMessage, nil)
		broker.On("Nack", mock.Anything, message).Return(nil).Run(func(mock.Arguments) {
			_ = service.Stop(context.Background())
		})

		err := service.ProcessJobs([]string{"unknown"})

		assert.ErrorIs(t, err, context.Canceled)
		broker.AssertExpectations(t)
	})
}

func TestRunJobHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("executes the run from the payload", func(t *testing.T) {
		executor := &MockExecutor{}
		executor.On("ExecuteRun", ctx, "run-9").Return(nil)

		err := NewRunJobHandler(executor)(ctx, runMessage("run-9"))

		assert.NoError(t, err)
		executor.AssertExpectations(t)
	})

	t.Run("malformed payloads are permanent failures", func(t *testing.T) {
		handler := NewRunJobHandler(&MockExecutor{})

		err := handler(ctx, &domain.QueueMessage{ID: "x", Payload: []byte(`{`)})
		assert.True(t, domain.IsPermanent(err))

		err = handler(ctx, &domain.QueueMessage{ID: "x", Payload: []byte(`{}`)})
		assert.True(t, domain.IsPermanent(err))
	})
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecuteRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

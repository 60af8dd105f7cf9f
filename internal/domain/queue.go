package domain

import (
	"context"
	"math"
	"time"
)

const (
	// RunQueue carries "execute run X" messages; the message id is the run id.
	RunQueue = "run.execute"

	DefaultMaxAttempts  = 3
	DefaultBackoffDelay = 2 * time.Second
)

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// BackoffPolicy computes the redelivery delay after a failed attempt.
type BackoffPolicy struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
	Max   time.Duration `json:"max,omitempty"`
}

// Next returns the delay before redelivery after the given failed attempt
// (1-indexed).
func (p BackoffPolicy) Next(attempt int) time.Duration {
	if p.Delay <= 0 || attempt < 1 {
		return 0
	}
	d := p.Delay
	if p.Type == BackoffExponential {
		d = time.Duration(float64(p.Delay) * math.Pow(2, float64(attempt-1)))
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

type QueueMessage struct {
	ID               string
	Queue            string
	Payload          []byte
	Priority         int
	Attempts         int
	MaxAttempts      int
	Backoff          BackoffPolicy
	RemoveOnComplete bool
}

type QueueBroker interface {
	// Enqueue adds a message to the specified queue for processing.
	// Messages are de-duplicated by ID: enqueueing an ID that is still known
	// to the broker is a no-op.
	Enqueue(ctx context.Context, queue string, message *QueueMessage) error
	// Dequeue retrieves the next available message from any of the specified queues.
	// Blocks until a message is available or the timeout is reached.
	// Returns nil, nil if timeout expires with no messages available.
	Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*QueueMessage, error)
	// Ack acknowledges successful processing of a message, removing it from the queue
	Ack(ctx context.Context, message *QueueMessage) error
	// Nack records a failed attempt and schedules redelivery after the
	// message's backoff, or dead-letters it once attempts are exhausted.
	Nack(ctx context.Context, message *QueueMessage) error
	// Close gracefully shuts down the queue broker connection
	Close() error
}

// RunPayload is the body of a RunQueue message.
type RunPayload struct {
	RunID string `json:"runId"`
}

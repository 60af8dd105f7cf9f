package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

const memoryPollInterval = 20 * time.Millisecond

type memoryJob struct {
	message domain.QueueMessage
	seq     uint64
	readyAt time.Time
	state   string
}

// MemoryQueueBroker is an in-process broker with the same semantics as
// RedisQueueBroker. Jobs do not survive a restart.
type MemoryQueueBroker struct {
	mu     sync.Mutex
	jobs   map[string]*memoryJob
	dead   map[string][]string
	seq    uint64
	now    func() time.Time
	signal chan struct{}
}

func NewMemoryQueueBroker() *MemoryQueueBroker {
	return &MemoryQueueBroker{
		jobs:   make(map[string]*memoryJob),
		dead:   make(map[string][]string),
		now:    time.Now,
		signal: make(chan struct{}),
	}
}

func (m *MemoryQueueBroker) Enqueue(_ context.Context, queue string, message *domain.QueueMessage) error {
	if message.ID == "" {
		return errors.New("message id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[message.ID]; exists {
		return nil
	}
	cp := *message
	cp.Queue = queue
	if cp.MaxAttempts <= 0 {
		cp.MaxAttempts = domain.DefaultMaxAttempts
	}
	m.seq++
	m.jobs[cp.ID] = &memoryJob{message: cp, seq: m.seq, readyAt: m.now(), state: "waiting"}
	m.notifyLocked()
	return nil
}

func (m *MemoryQueueBroker) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*domain.QueueMessage, error) {
	if len(queues) == 0 {
		return nil, errors.New("no queues specified")
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(memoryPollInterval)
	defer poll.Stop()

	for {
		m.mu.Lock()
		job := m.nextLocked(queues)
		if job != nil {
			job.state = "active"
			cp := job.message
			m.mu.Unlock()
			return &cp, nil
		}
		signal := m.signal
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-signal:
		case <-poll.C:
		}
	}
}

func (m *MemoryQueueBroker) Ack(_ context.Context, message *domain.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[message.ID]
	if !ok {
		return nil
	}
	if message.RemoveOnComplete {
		delete(m.jobs, message.ID)
		return nil
	}
	job.state = "completed"
	return nil
}

func (m *MemoryQueueBroker) Nack(_ context.Context, message *domain.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[message.ID]
	if !ok {
		return nil
	}
	job.message.Attempts++
	message.Attempts = job.message.Attempts

	if job.message.Attempts >= job.message.MaxAttempts {
		job.state = "failed"
		m.dead[job.message.Queue] = append(m.dead[job.message.Queue], job.message.ID)
		return nil
	}

	m.seq++
	job.seq = m.seq
	job.readyAt = m.now().Add(job.message.Backoff.Next(job.message.Attempts))
	job.state = "waiting"
	m.notifyLocked()
	return nil
}

// DeadLetters lists the ids of jobs that exhausted their attempts.
func (m *MemoryQueueBroker) DeadLetters(_ context.Context, queue string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dead[queue]...), nil
}

// Len reports the number of jobs still known to the broker in any state.
func (m *MemoryQueueBroker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MemoryQueueBroker) Close() error {
	return nil
}

func (m *MemoryQueueBroker) nextLocked(queues []string) *memoryJob {
	now := m.now()
	var best *memoryJob
	for _, job := range m.jobs {
		if job.state != "waiting" || job.readyAt.After(now) || !contains(queues, job.message.Queue) {
			continue
		}
		if best == nil ||
			job.message.Priority > best.message.Priority ||
			(job.message.Priority == best.message.Priority && job.seq < best.seq) {
			best = job
		}
	}
	return best
}

func (m *MemoryQueueBroker) notifyLocked() {
	close(m.signal)
	m.signal = make(chan struct{})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

const (
	DefaultWorkerConcurrency = 2
	DefaultPollTimeout       = 5 * time.Second
	dequeueErrorPause        = time.Second
)

type WorkerService struct {
	broker      domain.QueueBroker
	mu          sync.RWMutex
	handlers    map[string]domain.JobHandler
	concurrency int
	pollTimeout time.Duration
	jobTimeout  time.Duration
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

type WorkerOption func(*WorkerService)

func WithConcurrency(n int) WorkerOption {
	return func(s *WorkerService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithPollTimeout(d time.Duration) WorkerOption {
	return func(s *WorkerService) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithJobTimeout bounds each handler invocation. Zero means no bound.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(s *WorkerService) { s.jobTimeout = d }
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(s *WorkerService) { s.logger = logger }
}

func NewWorkerService(parent context.Context, queueBroker domain.QueueBroker, opts ...WorkerOption) *WorkerService {
	ctx, cancel := context.WithCancel(parent)
	s := &WorkerService{
		broker:      queueBroker,
		handlers:    make(map[string]domain.JobHandler),
		concurrency: DefaultWorkerConcurrency,
		pollTimeout: DefaultPollTimeout,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.WorkerService = (*WorkerService)(nil)

func (s *WorkerService) RegisterHandler(queue string, handler domain.JobHandler) error {
	if queue == "" {
		return errors.New("queue cannot be empty")
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[queue] = handler
	return nil
}

// ProcessJobs runs the configured number of consumers until the service is
// stopped or its parent context ends.
func (s *WorkerService) ProcessJobs(queues []string) error {
	if len(queues) == 0 {
		return errors.New("no queues specified for processing")
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(s.ctx)
	for i := 0; i < s.concurrency; i++ {
		worker := i
		g.Go(func() error {
			return s.consume(gctx, worker, queues)
		})
	}

	err := g.Wait()
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *WorkerService) consume(ctx context.Context, worker int, queues []string) error {
	logger := s.logger.With(slog.Int("worker", worker))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		message, err := s.broker.Dequeue(ctx, queues, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("failed to dequeue", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dequeueErrorPause):
			}
			continue
		}
		if message == nil {
			continue
		}

		s.handle(ctx, logger, message)
	}
}

func (s *WorkerService) handle(ctx context.Context, logger *slog.Logger, message *domain.QueueMessage) {
	logger = logger.With(slog.String("queue", message.Queue), slog.String("message_id", message.ID))
	settleCtx := context.WithoutCancel(ctx)

	s.mu.RLock()
	handler, ok := s.handlers[message.Queue]
	s.mu.RUnlock()
	if !ok {
		logger.Error("no handler registered for queue")
		_ = s.broker.Nack(settleCtx, message)
		return
	}

	// In-flight jobs run to completion after Stop.
	err := s.invoke(settleCtx, handler, message)
	switch {
	case err == nil:
		if aerr := s.broker.Ack(settleCtx, message); aerr != nil {
			logger.Error("failed to ack message", slog.Any("error", aerr))
		}
	case domain.IsPermanent(err):
		// The failure is recorded by the handler; redelivery cannot help.
		logger.Warn("job failed permanently", slog.Any("error", err))
		if aerr := s.broker.Ack(settleCtx, message); aerr != nil {
			logger.Error("failed to ack message", slog.Any("error", aerr))
		}
	default:
		logger.Error("job failed", slog.Any("error", err), slog.Int("attempt", message.Attempts+1))
		if nerr := s.broker.Nack(settleCtx, message); nerr != nil {
			logger.Error("failed to nack message", slog.Any("error", nerr))
		}
	}
}

func (s *WorkerService) invoke(ctx context.Context, handler domain.JobHandler, message *domain.QueueMessage) (err error) {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, message)
}

func (s *WorkerService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// NewRunJobHandler executes the run named by a RunQueue message.
func NewRunJobHandler(executor domain.RunExecutor) domain.JobHandler {
	return func(ctx context.Context, message *domain.QueueMessage) error {
		runID, err := extractRunID(message.Payload)
		if err != nil {
			return domain.Permanent(err)
		}
		return executor.ExecuteRun(ctx, runID)
	}
}

func extractRunID(payload []byte) (string, error) {
	var body domain.RunPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", domain.Validation("failed to parse run payload: %v", err)
	}
	if body.RunID == "" {
		return "", domain.Validation("runId is required")
	}
	return body.RunID, nil
}

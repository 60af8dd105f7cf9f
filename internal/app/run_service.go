package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

type RunService interface {
	Start(ctx context.Context, workflowID, startedBy string) (*domain.Run, error)
	Retry(ctx context.Context, runID string) (*domain.Run, error)
	Cancel(ctx context.Context, runID string) (*domain.Run, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, workflowID string) ([]*domain.Run, error)
}

// EnqueueOptions are attached to every run message.
type EnqueueOptions struct {
	Queue            string
	Attempts         int
	Backoff          domain.BackoffPolicy
	RemoveOnComplete bool
}

func DefaultEnqueueOptions() EnqueueOptions {
	return EnqueueOptions{
		Queue:            domain.RunQueue,
		Attempts:         domain.DefaultMaxAttempts,
		Backoff:          domain.BackoffPolicy{Type: domain.BackoffExponential, Delay: domain.DefaultBackoffDelay},
		RemoveOnComplete: true,
	}
}

type runService struct {
	workflows domain.WorkflowRepository
	runs      domain.RunRepository
	broker    domain.QueueBroker
	opts      EnqueueOptions
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunService(workflows domain.WorkflowRepository, runs domain.RunRepository, broker domain.QueueBroker, opts EnqueueOptions, logger *slog.Logger) RunService {
	if opts.Queue == "" {
		opts.Queue = domain.RunQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &runService{
		workflows: workflows,
		runs:      runs,
		broker:    broker,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Start persists a QUEUED run and enqueues it under its own id.
func (s *runService) Start(ctx context.Context, workflowID, startedBy string) (*domain.Run, error) {
	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, domain.ErrWorkflowNotFound
	}

	run := domain.NewRun(wf.ID, startedBy)
	run.CreatedAt = s.now().UTC()
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := s.enqueue(ctx, run); err != nil {
		// Never leave an unreachable QUEUED run behind.
		if terr := run.TransitionTo(domain.RunStatusFailed, s.now()); terr == nil {
			_ = s.runs.UpdateRun(ctx, run, domain.RunStatusQueued)
		}
		return nil, err
	}

	s.logger.Info("run enqueued",
		slog.String("run_id", run.ID),
		slog.String("workflow_id", wf.ID),
		slog.String("started_by", run.StartedBy),
	)
	return run, nil
}

// Retry always creates a fresh run; the original run is left untouched.
func (s *runService) Retry(ctx context.Context, runID string) (*domain.Run, error) {
	previous, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, domain.ErrRunNotFound
	}
	return s.Start(ctx, previous.WorkflowID, domain.StartedByRetry)
}

// Cancel flags the run CANCELLED. A step already executing is not
// interrupted; the executor notices the flag before its next step. When the
// executor moves the run concurrently, the cancel is re-evaluated against
// the new status.
func (s *runService) Cancel(ctx context.Context, runID string) (*domain.Run, error) {
	const attempts = 3
	for i := 0; ; i++ {
		run, err := s.runs.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, domain.ErrRunNotFound
		}
		from := run.Status
		if err := run.TransitionTo(domain.RunStatusCancelled, s.now()); err != nil {
			return nil, err
		}
		err = s.runs.UpdateRun(ctx, run, from)
		if errors.Is(err, domain.ErrRunStatusChanged) && i+1 < attempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel run %s: %w", run.ID, err)
		}
		s.logger.Info("run cancelled", slog.String("run_id", run.ID), slog.String("from", string(from)))
		return run, nil
	}
}

// GetRun returns the run with its steps ordered by index.
func (s *runService) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	steps, err := s.runs.ListRunSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

func (s *runService) ListRuns(ctx context.Context, workflowID string) ([]*domain.Run, error) {
	const defaultLimit = 100
	return s.runs.ListRuns(ctx, workflowID, defaultLimit)
}

func (s *runService) enqueue(ctx context.Context, run *domain.Run) error {
	payload, err := json.Marshal(domain.RunPayload{RunID: run.ID})
	if err != nil {
		return err
	}
	message := &domain.QueueMessage{
		ID:               run.ID,
		Queue:            s.opts.Queue,
		Payload:          payload,
		MaxAttempts:      s.opts.Attempts,
		Backoff:          s.opts.Backoff,
		RemoveOnComplete: s.opts.RemoveOnComplete,
	}
	if err := s.broker.Enqueue(ctx, s.opts.Queue, message); err != nil {
		return fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}
	return nil
}

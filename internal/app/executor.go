package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/runner"
)

const instrumentationName = "github.com/skalaliya/agent.algorythmos/internal/app"

// Executor drives one run through its workflow's steps, strictly in order.
type Executor struct {
	workflows domain.WorkflowRepository
	runs      domain.RunRepository
	registry  *runner.Registry
	logger    *slog.Logger
	now       func() time.Time

	tracer       trace.Tracer
	creditsTotal metric.Int64Counter
	stepsTotal   metric.Int64Counter
}

type ExecutorOption func(*Executor)

func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(workflows domain.WorkflowRepository, runs domain.RunRepository, registry *runner.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		workflows: workflows,
		runs:      runs,
		registry:  registry,
		logger:    slog.Default(),
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter(instrumentationName)
	e.creditsTotal, _ = meter.Int64Counter("workflow.run.credits",
		metric.WithDescription("Credits charged by completed steps"))
	e.stepsTotal, _ = meter.Int64Counter("workflow.run.steps",
		metric.WithDescription("Top-level steps executed, by type and status"))
	return e
}

var _ domain.RunExecutor = (*Executor)(nil)

// ExecuteRun runs a QUEUED run to completion. A step failure marks the run
// FAILED and is returned wrapped with domain.Permanent. A run cancelled
// between steps stops at the next checkpoint and returns nil. Every status
// write is conditional on the status last read, so a concurrent cancel is
// never overwritten.
func (e *Executor) ExecuteRun(ctx context.Context, runID string) error {
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run == nil {
		return domain.Permanent(domain.ErrRunNotFound)
	}
	wf, err := e.workflows.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", run.WorkflowID, err)
	}
	if wf == nil {
		return domain.Permanent(domain.ErrWorkflowNotFound)
	}
	span.SetAttributes(attribute.String("workflow.id", wf.ID))

	logger := e.logger.With(slog.String("run_id", run.ID), slog.String("workflow_id", wf.ID))

	switch run.Status {
	case domain.RunStatusCancelled:
		logger.Info("run cancelled before start")
		return nil
	case domain.RunStatusRunning:
		// Redelivered after the previous attempt stopped mid-run.
		credits, err := e.completedCredits(ctx, run.ID)
		if err != nil {
			return err
		}
		return e.fail(ctx, logger, run, credits, domain.Internal("run interrupted before completion", nil))
	}
	ok, err := e.advance(ctx, run, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark run %s running: %w", run.ID, err)
	}
	if !ok {
		return e.stop(ctx, logger, run.ID, 0)
	}
	logger.Info("run started", slog.Int("steps", len(wf.Definition.Steps)), slog.String("started_by", run.StartedBy))

	if err := wf.Definition.Validate(); err != nil {
		return e.fail(ctx, logger, run, 0, err)
	}

	scope := runner.NewScope()
	credits := 0

	for i, step := range wf.Definition.Steps {
		cancelled, err := e.cancelled(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			logger.Info("cancellation seen before step", slog.Int("next_index", i+1))
			return e.stop(ctx, logger, run.ID, credits)
		}

		output, stepCredits, err := e.executeStep(ctx, logger, run, i+1, step, scope)
		if err != nil {
			return e.fail(ctx, logger, run, credits, err)
		}
		credits += stepCredits
		if err := scope.Set(step.ID, output); err != nil {
			return e.fail(ctx, logger, run, credits, err)
		}
	}

	cancelled, err := e.cancelled(ctx, run.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return e.stop(ctx, logger, run.ID, credits)
	}

	run.Credits = credits
	ok, err = e.advance(ctx, run, domain.RunStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}
	if !ok {
		return e.stop(ctx, logger, run.ID, credits)
	}
	logger.Info("run completed", slog.Int("credits", credits))
	return nil
}

func (e *Executor) executeStep(ctx context.Context, logger *slog.Logger, run *domain.Run, index int, step domain.Step, scope *runner.Scope) (any, int, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", step.Type),
		attribute.Int("step.index", index),
	))
	defer span.End()

	record := domain.NewRunStep(run.ID, index, step, runner.ResolveValue(step.Input, scope), e.now())
	if err := e.runs.CreateRunStep(ctx, record); err != nil {
		return nil, 0, fmt.Errorf("failed to record step %s: %w", step.ID, err)
	}

	result, err := e.registry.Execute(ctx, step, scope)
	if err != nil {
		record.Fail(err, e.now())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if uerr := e.runs.UpdateRunStep(ctx, record); uerr != nil {
			logger.Error("failed to persist step failure", slog.String("step_id", step.ID), slog.Any("error", uerr))
		}
		e.stepsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step.type", step.Type), attribute.String("status", string(domain.StepStatusFailed))))
		return nil, 0, err
	}

	record.Complete(result.Output, result.Credits, e.now())
	if err := e.runs.UpdateRunStep(ctx, record); err != nil {
		return nil, 0, fmt.Errorf("failed to persist step %s: %w", step.ID, err)
	}
	e.stepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step.type", step.Type), attribute.String("status", string(domain.StepStatusCompleted))))
	e.creditsTotal.Add(ctx, int64(result.Credits), metric.WithAttributes(attribute.String("step.type", step.Type)))

	logger.Debug("step completed",
		slog.String("step_id", step.ID),
		slog.String("step_type", step.Type),
		slog.Int("index", index),
		slog.Int("credits", result.Credits),
	)
	return result.Output, result.Credits, nil
}

// fail marks the run FAILED with the credits accumulated so far. A run that
// was cancelled meanwhile keeps its CANCELLED status.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, run *domain.Run, credits int, cause error) error {
	logger.Warn("run failed", slog.Any("error", cause), slog.Int("credits", credits))

	run.Credits = credits
	ok, err := e.advance(ctx, run, domain.RunStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w (step error: %v)", run.ID, err, cause)
	}
	if !ok {
		if err := e.stop(ctx, logger, run.ID, credits); err != nil {
			return err
		}
	}
	return domain.Permanent(cause)
}

// advance moves run to next, conditional on the status it was read with.
// It reports false when another writer changed the stored status first.
func (e *Executor) advance(ctx context.Context, run *domain.Run, next domain.RunStatus) (bool, error) {
	from := run.Status
	if err := run.TransitionTo(next, e.now()); err != nil {
		return false, domain.Permanent(err)
	}
	err := e.runs.UpdateRun(ctx, run, from)
	if errors.Is(err, domain.ErrRunStatusChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// stop ends a run that was cancelled under the executor. The run stays
// CANCELLED and records the credits of the steps that completed.
func (e *Executor) stop(ctx context.Context, logger *slog.Logger, runID string, credits int) error {
	current, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to reload run %s: %w", runID, err)
	}
	if current == nil {
		return domain.Permanent(domain.ErrRunNotFound)
	}
	if current.Status != domain.RunStatusCancelled {
		return domain.Permanent(domain.InvalidTransition("run %s was finalized as %s elsewhere", runID, current.Status))
	}

	if current.Credits != credits {
		current.Credits = credits
		if err := e.runs.UpdateRun(ctx, current, domain.RunStatusCancelled); err != nil {
			return fmt.Errorf("failed to record credits of cancelled run %s: %w", runID, err)
		}
	}
	logger.Info("run cancelled, stopping", slog.Int("credits", credits))
	return nil
}

func (e *Executor) completedCredits(ctx context.Context, runID string) (int, error) {
	steps, err := e.runs.ListRunSteps(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to load steps of run %s: %w", runID, err)
	}
	total := 0
	for _, step := range steps {
		if step.Status == domain.StepStatusCompleted {
			total += step.Credits
		}
	}
	return total, nil
}

// cancelled is the checkpoint read between steps.
func (e *Executor) cancelled(ctx context.Context, runID string) (bool, error) {
	current, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to reload run %s: %w", runID, err)
	}
	return current != nil && current.Status == domain.RunStatusCancelled, nil
}

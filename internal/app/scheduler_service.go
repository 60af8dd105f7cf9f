package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/schedule"
)

const DefaultSchedulerTolerance = 2 * time.Minute

type SchedulerService struct {
	workflows domain.WorkflowRepository
	starter   domain.RunStarter
	logger    *slog.Logger
	tolerance time.Duration
	watermark bool
	timezone  string
	now       func() time.Time
}

type SchedulerOption func(*SchedulerService)

// WithTolerance sets how close to an occurrence a tick must land to fire.
func WithTolerance(d time.Duration) SchedulerOption {
	return func(s *SchedulerService) { s.tolerance = d }
}

// WithWatermark makes the service remember the last occurrence it started a
// run for, per workflow, so consecutive ticks inside the tolerance window
// fire once. Without it every such tick starts a run.
func WithWatermark(enabled bool) SchedulerOption {
	return func(s *SchedulerService) { s.watermark = enabled }
}

// WithDefaultTimezone applies to workflows that do not name a timezone.
func WithDefaultTimezone(tz string) SchedulerOption {
	return func(s *SchedulerService) { s.timezone = tz }
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *SchedulerService) { s.logger = logger }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *SchedulerService) { s.now = now }
}

func NewSchedulerService(workflows domain.WorkflowRepository, starter domain.RunStarter, opts ...SchedulerOption) *SchedulerService {
	s := &SchedulerService{
		workflows: workflows,
		starter:   starter,
		logger:    slog.Default(),
		tolerance: DefaultSchedulerTolerance,
		watermark: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleDueWorkflows starts a run for every scheduled workflow whose next
// occurrence lies within the tolerance window of now. It returns the number
// of runs started.
func (s *SchedulerService) ScheduleDueWorkflows(ctx context.Context) (int, error) {
	workflows, err := s.workflows.ListScheduledWorkflows(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	started := 0

	for _, wf := range workflows {
		tz := wf.Timezone
		if tz == "" {
			tz = s.timezone
		}
		next, err := schedule.NextOccurrence(wf.Schedule, tz, now)
		if err != nil {
			s.logger.Warn("skipping workflow with unusable schedule",
				slog.String("workflow_id", wf.ID),
				slog.String("schedule", wf.Schedule),
				slog.Any("error", err),
			)
			continue
		}

		if abs(next.Sub(now)) >= s.tolerance {
			continue
		}
		if s.watermark && wf.LastScheduledOccurrence != nil && wf.LastScheduledOccurrence.Equal(next) {
			continue
		}

		run, err := s.starter.Start(ctx, wf.ID, domain.StartedByScheduler)
		if err != nil {
			s.logger.Error("failed to start scheduled run", slog.String("workflow_id", wf.ID), slog.Any("error", err))
			continue
		}
		started++

		if s.watermark {
			if err := s.workflows.MarkScheduled(ctx, wf.ID, next); err != nil {
				s.logger.Error("failed to persist schedule watermark", slog.String("workflow_id", wf.ID), slog.Any("error", err))
			}
		}

		s.logger.Info("scheduled run",
			slog.String("workflow_id", wf.ID),
			slog.String("run_id", run.ID),
			slog.Time("occurrence", next),
		)
	}

	return started, nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

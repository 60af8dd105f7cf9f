package app

import (
	"context"
	"log/slog"
	"time"
)

const DefaultTickInterval = 60 * time.Second

// SchedulerRunner polls the scheduler service on a single ticker.
type SchedulerRunner struct {
	service  *SchedulerService
	interval time.Duration
	logger   *slog.Logger
}

func NewSchedulerRunner(service *SchedulerService, interval time.Duration, logger *slog.Logger) *SchedulerRunner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerRunner{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start ticks until ctx is cancelled.
func (r *SchedulerRunner) Start(ctx context.Context) error {
	r.logger.Info("starting scheduler", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *SchedulerRunner) tick(ctx context.Context) {
	started, err := r.service.ScheduleDueWorkflows(ctx)
	if err != nil {
		r.logger.Error("error scheduling workflows", slog.Any("error", err))
		return
	}
	if started > 0 {
		r.logger.Info("scheduled workflow runs", slog.Int("count", started))
	}
}

// Package bootstrap wires configuration into concrete adapters and services
// for the binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalaliya/agent.algorythmos/internal/adapters/ai"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/database"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/mail"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/memory"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/queue"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/search"
	"github.com/skalaliya/agent.algorythmos/internal/app"
	"github.com/skalaliya/agent.algorythmos/internal/config"
	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/ports"
	"github.com/skalaliya/agent.algorythmos/internal/runner"
)

type Components struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workflows domain.WorkflowRepository
	Runs      domain.RunRepository
	Broker    domain.QueueBroker

	pool *pgxpool.Pool
}

// Open connects the configured store and queue backends.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	switch cfg.Store {
	case "memory":
		store := memory.NewStore()
		c.Workflows, c.Runs = store, store
		logger.Warn("using in-memory store; data is lost on exit")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.DB.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		c.pool = pool
		c.Workflows = database.NewPostgresWorkflowRepository(pool)
		c.Runs = database.NewPostgresRunRepository(pool)
	}

	switch cfg.Queue.Backend {
	case "memory":
		c.Broker = queue.NewMemoryQueueBroker()
	default:
		c.Broker = queue.NewRedisQueueBroker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			queue.WithVisibilityTimeout(cfg.Redis.VisibilityTimeout))
	}

	return c, nil
}

func (c *Components) Close() {
	if c.Broker != nil {
		if err := c.Broker.Close(); err != nil {
			c.Logger.Warn("failed to close queue broker", slog.Any("error", err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

func (c *Components) EnqueueOptions() app.EnqueueOptions {
	q := c.Config.Queue
	return app.EnqueueOptions{
		Queue:    q.Name,
		Attempts: q.Attempts,
		Backoff: domain.BackoffPolicy{
			Type:  domain.BackoffType(q.BackoffType),
			Delay: q.BackoffDelay,
			Max:   q.BackoffMax,
		},
		RemoveOnComplete: q.RemoveOnComplete,
	}
}

func (c *Components) WorkflowService() app.WorkflowService {
	return app.NewWorkflowService(c.Workflows, app.WithWorkflowTimezone(c.Config.Scheduler.DefaultTimezone))
}

func (c *Components) RunService() app.RunService {
	return app.NewRunService(c.Workflows, c.Runs, c.Broker, c.EnqueueOptions(), c.Logger)
}

func (c *Components) SchedulerRunner() *app.SchedulerRunner {
	s := c.Config.Scheduler
	service := app.NewSchedulerService(c.Workflows, c.RunService(),
		app.WithTolerance(s.Tolerance),
		app.WithWatermark(s.Watermark),
		app.WithDefaultTimezone(s.DefaultTimezone),
		app.WithSchedulerLogger(c.Logger),
	)
	return app.NewSchedulerRunner(service, s.Tick, c.Logger)
}

// Registry builds the step runners. Without an AI endpoint the offline mock
// completer answers AI steps.
func (c *Components) Registry() *runner.Registry {
	cfg := c.Config

	var completer ports.Completer = ai.NewMockCompleter()
	if cfg.AI.Endpoint != "" {
		completer = ai.NewHTTPCompleter(cfg.AI.Endpoint,
			ai.WithAPIKey(cfg.AI.APIKey),
			ai.WithRateLimit(cfg.AI.RPS, cfg.AI.Burst),
			ai.WithHTTPClient(&http.Client{Timeout: cfg.AI.Timeout}),
		)
	}

	return runner.NewDefaultRegistry(runner.Dependencies{
		Completer: completer,
		Mailer: mail.NewSMTPMailer(mail.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}),
		Searcher: search.NewStaticSearcher(),
		Rates:    cfg.Credits.RateTable(),
		MailFrom: cfg.Mail.From,
		Logger:   c.Logger,
	})
}

// Worker returns a worker consuming the run queue with the executor.
func (c *Components) Worker(ctx context.Context) (*app.WorkerService, error) {
	q := c.Config.Queue
	executor := app.NewExecutor(c.Workflows, c.Runs, c.Registry(), app.WithExecutorLogger(c.Logger))
	worker := app.NewWorkerService(ctx, c.Broker,
		app.WithConcurrency(q.Concurrency),
		app.WithPollTimeout(q.PollTimeout),
		app.WithJobTimeout(q.JobTimeout),
		app.WithWorkerLogger(c.Logger),
	)
	if err := worker.RegisterHandler(q.Name, app.NewRunJobHandler(executor)); err != nil {
		return nil, err
	}
	return worker, nil
}

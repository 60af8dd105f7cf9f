package domain

import "context"

type JobHandler func(context.Context, *QueueMessage) error

type WorkerService interface {
	// RegisterHandler binds a handler to every message delivered from queue.
	RegisterHandler(queue string, handler JobHandler) error
	// ProcessJobs continuously processes jobs from the specified queues
	ProcessJobs(queues []string) error
	// Stop gracefully shuts down the worker service
	Stop(ctx context.Context) error
}

// RunStarter creates and enqueues runs.
type RunStarter interface {
	Start(ctx context.Context, workflowID, startedBy string) (*Run, error)
}

// RunExecutor drives a single run to a terminal state.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

package domain

import (
	"context"
	"time"
)

// Get methods return nil, nil when the record does not exist.

type WorkflowRepository interface {
	CreateWorkflow(ctx context.Context, workflow *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, workflow *Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context, limit int) ([]*Workflow, error)
	ListScheduledWorkflows(ctx context.Context) ([]*Workflow, error)
	// MarkScheduled persists the last occurrence the scheduler acted on.
	MarkScheduled(ctx context.Context, workflowID string, occurrence time.Time) error
}

type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// UpdateRun writes run only while the stored status is still from,
	// and returns ErrRunStatusChanged otherwise.
	UpdateRun(ctx context.Context, run *Run, from RunStatus) error
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*Run, error)

	CreateRunStep(ctx context.Context, step *RunStep) error
	UpdateRunStep(ctx context.Context, step *RunStep) error
	// ListRunSteps returns the run's steps ordered by index.
	ListRunSteps(ctx context.Context, runID string) ([]*RunStep, error)
}

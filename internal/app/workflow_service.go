package app

import (
	"context"
	"time"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/schedule"
)

type WorkflowService interface {
	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*domain.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	// NextRun reports when a scheduled workflow fires next. Unscheduled
	// workflows return the zero time.
	NextRun(ctx context.Context, id string) (time.Time, error)
}

type workflowService struct {
	repo     domain.WorkflowRepository
	timezone string
	now      func() time.Time
}

type WorkflowOption func(*workflowService)

// WithWorkflowTimezone sets the timezone NextRun uses for workflows that do
// not name one.
func WithWorkflowTimezone(tz string) WorkflowOption {
	return func(s *workflowService) { s.timezone = tz }
}

func NewWorkflowService(repo domain.WorkflowRepository, opts ...WorkflowOption) WorkflowService {
	s := &workflowService{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *workflowService) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if err := validateWorkflow(wf); err != nil {
		return err
	}
	return s.repo.CreateWorkflow(ctx, wf)
}

func (s *workflowService) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, nil
}

func (s *workflowService) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	const defaultLimit = 100
	return s.repo.ListWorkflows(ctx, defaultLimit)
}

func (s *workflowService) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	existing, err := s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}
	if err := validateWorkflow(wf); err != nil {
		return err
	}
	if wf.Schedule != existing.Schedule || wf.Timezone != existing.Timezone {
		wf.LastScheduledOccurrence = nil
	} else {
		wf.LastScheduledOccurrence = existing.LastScheduledOccurrence
	}
	return s.repo.UpdateWorkflow(ctx, wf)
}

func (s *workflowService) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := s.GetWorkflow(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteWorkflow(ctx, id)
}

func (s *workflowService) NextRun(ctx context.Context, id string) (time.Time, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if wf.Schedule == "" {
		return time.Time{}, nil
	}
	tz := wf.Timezone
	if tz == "" {
		tz = s.timezone
	}
	return schedule.NextOccurrence(wf.Schedule, tz, s.now())
}

func validateWorkflow(wf *domain.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	if wf.Schedule != "" {
		if _, err := schedule.Lookup(wf.Schedule); err != nil {
			return err
		}
	}
	if _, err := schedule.LoadLocation(wf.Timezone); err != nil {
		return err
	}
	return nil
}

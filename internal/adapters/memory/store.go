// Package memory provides in-process implementations of the domain
// repositories, used by tests and by the local "memory" store mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	workflows map[string]*domain.Workflow
	runs      map[string]*domain.Run
	steps     map[string]*domain.RunStep
}

func NewStore() *Store {
	return &Store{
		workflows: make(map[string]*domain.Workflow),
		runs:      make(map[string]*domain.Run),
		steps:     make(map[string]*domain.RunStep),
	}
}

var (
	_ domain.WorkflowRepository = (*Store)(nil)
	_ domain.RunRepository      = (*Store)(nil)
)

func (s *Store) CreateWorkflow(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	s.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	return cloneWorkflow(wf), nil
}

func (s *Store) UpdateWorkflow(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workflows[wf.ID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return domain.ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	for runID, run := range s.runs {
		if run.WorkflowID != id {
			continue
		}
		delete(s.runs, runID)
		for stepID, step := range s.steps {
			if step.RunID == runID {
				delete(s.steps, stepID)
			}
		}
	}
	return nil
}

func (s *Store) ListWorkflows(_ context.Context, limit int) ([]*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListScheduledWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	all, err := s.ListWorkflows(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, wf := range all {
		if wf.Schedule != "" {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *Store) MarkScheduled(_ context.Context, workflowID string, occurrence time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return domain.ErrWorkflowNotFound
	}
	occ := occurrence.UTC()
	wf.LastScheduledOccurrence = &occ
	return nil
}

func (s *Store) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, ok := s.workflows[run.WorkflowID]; !ok {
		return domain.ErrWorkflowNotFound
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return cloneRun(run), nil
}

func (s *Store) UpdateRun(_ context.Context, run *domain.Run, from domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[run.ID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if current.Status != from {
		return domain.ErrRunStatusChanged
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) ListRuns(_ context.Context, workflowID string, limit int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Run
	for _, run := range s.runs {
		if workflowID == "" || run.WorkflowID == workflowID {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateRunStep(_ context.Context, step *domain.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[step.RunID]; !ok {
		return domain.ErrRunNotFound
	}
	for _, existing := range s.steps {
		if existing.RunID == step.RunID && existing.Index == step.Index {
			return fmt.Errorf("run %s already has a step at index %d", step.RunID, step.Index)
		}
	}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	cp := *step
	s.steps[step.ID] = &cp
	return nil
}

func (s *Store) UpdateRunStep(_ context.Context, step *domain.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.steps[step.ID]; !ok {
		return fmt.Errorf("run step %s not found", step.ID)
	}
	cp := *step
	s.steps[step.ID] = &cp
	return nil
}

func (s *Store) ListRunSteps(_ context.Context, runID string) ([]*domain.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RunStep
	for _, step := range s.steps {
		if step.RunID == runID {
			cp := *step
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func cloneWorkflow(wf *domain.Workflow) *domain.Workflow {
	cp := *wf
	cp.Definition.Steps = append([]domain.Step(nil), wf.Definition.Steps...)
	if wf.LastScheduledOccurrence != nil {
		t := *wf.LastScheduledOccurrence
		cp.LastScheduledOccurrence = &t
	}
	return &cp
}

func cloneRun(run *domain.Run) *domain.Run {
	cp := *run
	cp.Steps = nil
	return &cp
}

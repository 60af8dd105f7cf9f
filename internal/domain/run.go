package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

const (
	StartedByUser      = "user"
	StartedByScheduler = "scheduler"
	StartedByRetry     = "retry"
)

type Run struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflowId"`
	Status     RunStatus  `json:"status"`
	StartedBy  string     `json:"startedBy"`
	Credits    int        `json:"credits"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Steps      []*RunStep `json:"steps,omitempty"`
}

func NewRun(workflowID, startedBy string) *Run {
	if startedBy == "" {
		startedBy = StartedByUser
	}
	return &Run{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     RunStatusQueued,
		StartedBy:  startedBy,
		CreatedAt:  time.Now().UTC(),
	}
}

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:  {RunStatusRunning, RunStatusCancelled, RunStatusFailed},
	RunStatusRunning: {RunStatusCompleted, RunStatusFailed, RunStatusCancelled},
}

// TransitionTo moves the run forward, stamping StartedAt/FinishedAt.
// Terminal runs never change again.
func (r *Run) TransitionTo(next RunStatus, at time.Time) error {
	allowed := false
	for _, s := range runTransitions[r.Status] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return InvalidTransition("run %s cannot move from %s to %s", r.ID, r.Status, next)
	}

	r.Status = next
	if next == RunStatusRunning {
		r.StartedAt = &at
	}
	if next.Terminal() {
		r.FinishedAt = &at
	}
	return nil
}

type RunStep struct {
	ID           string     `json:"id"`
	RunID        string     `json:"runId"`
	ParentStepID *string    `json:"parentStepId,omitempty"`
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Input        any        `json:"input,omitempty"`
	Output       any        `json:"output,omitempty"`
	Status       StepStatus `json:"status"`
	Credits      int        `json:"credits"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

func NewRunStep(runID string, index int, step Step, input any, at time.Time) *RunStep {
	name := step.Name
	if name == "" {
		name = step.ID
	}
	return &RunStep{
		ID:        uuid.New().String(),
		RunID:     runID,
		Index:     index,
		Name:      name,
		Type:      step.Type,
		Input:     input,
		Status:    StepStatusRunning,
		StartedAt: &at,
	}
}

func (s *RunStep) Complete(output any, credits int, at time.Time) {
	s.Status = StepStatusCompleted
	s.Output = output
	s.Credits = credits
	s.FinishedAt = &at
}

func (s *RunStep) Fail(err error, at time.Time) {
	s.Status = StepStatusFailed
	s.Output = map[string]any{"error": Message(err)}
	s.Credits = 0
	s.FinishedAt = &at
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/adapters/memory"
	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/schedule"
)

func TestWorkflowService(t *testing.T) {
	ctx := context.Background()

	newWorkflow := func(pattern, tz string) *domain.Workflow {
		wf := domain.NewWorkflow(domain.Definition{
			Name:  "digest",
			Steps: []domain.Step{{ID: "a", Type: domain.StepTypeLog}},
		})
		wf.Schedule = pattern
		wf.Timezone = tz
		return wf
	}

	t.Run("rejects unknown schedules and timezones", func(t *testing.T) {
		service := NewWorkflowService(memory.NewStore())

		assert.True(t, domain.IsValidation(service.CreateWorkflow(ctx, newWorkflow("sometimes", ""))))
		assert.True(t, domain.IsValidation(service.CreateWorkflow(ctx, newWorkflow("", "Mars/Olympus"))))
	})

	t.Run("rejects definitions without a name", func(t *testing.T) {
		service := NewWorkflowService(memory.NewStore())
		wf := newWorkflow("", "")
		wf.Name = ""

		assert.True(t, domain.IsValidation(service.CreateWorkflow(ctx, wf)))
	})

	t.Run("changing the schedule resets the watermark", func(t *testing.T) {
		store := memory.NewStore()
		service := NewWorkflowService(store)
		wf := newWorkflow(schedule.FirstWednesday08, "Europe/Paris")
		require.NoError(t, service.CreateWorkflow(ctx, wf))
		require.NoError(t, store.MarkScheduled(ctx, wf.ID, time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)))

		same, err := service.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		same.Name = "renamed"
		require.NoError(t, service.UpdateWorkflow(ctx, same))
		got, _ := service.GetWorkflow(ctx, wf.ID)
		assert.NotNil(t, got.LastScheduledOccurrence)

		got.Timezone = "America/New_York"
		require.NoError(t, service.UpdateWorkflow(ctx, got))
		got, _ = service.GetWorkflow(ctx, wf.ID)
		assert.Nil(t, got.LastScheduledOccurrence)
	})

	t.Run("reports the next run", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewWorkflowService(store).(*workflowService)
		svc.now = func() time.Time { return time.Date(2025, 9, 30, 12, 0, 0, 0, time.UTC) }
		wf := newWorkflow(schedule.FirstWednesday08, "Europe/Paris")
		require.NoError(t, svc.CreateWorkflow(ctx, wf))

		next, err := svc.NextRun(ctx, wf.ID)

		require.NoError(t, err)
		assert.True(t, next.Equal(time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)))

		unscheduled := newWorkflow("", "")
		require.NoError(t, svc.CreateWorkflow(ctx, unscheduled))
		next, err = svc.NextRun(ctx, unscheduled.ID)
		require.NoError(t, err)
		assert.True(t, next.IsZero())
	})

	t.Run("missing workflows are not found", func(t *testing.T) {
		service := NewWorkflowService(memory.NewStore())

		_, err := service.GetWorkflow(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
		assert.ErrorIs(t, service.DeleteWorkflow(ctx, "missing"), domain.ErrWorkflowNotFound)
	})
}

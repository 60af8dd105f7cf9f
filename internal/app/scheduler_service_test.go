package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/adapters/memory"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/queue"
	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/schedule"
)

type MockRunStarter struct {
	mock.Mock
}

func (m *MockRunStarter) Start(ctx context.Context, workflowID, startedBy string) (*domain.Run, error) {
	args := m.Called(ctx, workflowID, startedBy)
	run, _ := args.Get(0).(*domain.Run)
	return run, args.Error(1)
}

func paris(t *testing.T, year int, month time.Month, day, hour, min, sec int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, sec, 0, loc)
}

func scheduledWorkflow(t *testing.T, store *memory.Store, pattern string) *domain.Workflow {
	t.Helper()
	wf := domain.NewWorkflow(domain.Definition{
		Name:     "digest",
		Schedule: pattern,
		Timezone: "Europe/Paris",
		Steps:    []domain.Step{{ID: "a", Type: domain.StepTypeLog}},
	})
	require.NoError(t, store.CreateWorkflow(context.Background(), wf))
	return wf
}

type schedulerFixture struct {
	store   *memory.Store
	broker  *queue.MemoryQueueBroker
	now     time.Time
	service func(opts ...SchedulerOption) *SchedulerService
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	f := &schedulerFixture{store: memory.NewStore(), broker: queue.NewMemoryQueueBroker()}
	runs := NewRunService(f.store, f.store, f.broker, DefaultEnqueueOptions(), nil)
	f.service = func(opts ...SchedulerOption) *SchedulerService {
		opts = append([]SchedulerOption{WithSchedulerClock(func() time.Time { return f.now })}, opts...)
		return NewSchedulerService(f.store, runs, opts...)
	}
	return f
}

func (f *schedulerFixture) runsFor(t *testing.T, workflowID string) []*domain.Run {
	t.Helper()
	runs, err := f.store.ListRuns(context.Background(), workflowID, 0)
	require.NoError(t, err)
	return runs
}

func TestSchedulerService_ScheduleDueWorkflows(t *testing.T) {
	ctx := context.Background()

	t.Run("starts a run inside the tolerance window", func(t *testing.T) {
		f := newSchedulerFixture(t)
		wf := scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
		f.now = paris(t, 2025, time.October, 1, 7, 59, 10)

		started, err := f.service().ScheduleDueWorkflows(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, started)
		runs := f.runsFor(t, wf.ID)
		require.Len(t, runs, 1)
		assert.Equal(t, domain.StartedByScheduler, runs[0].StartedBy)
		assert.Equal(t, domain.RunStatusQueued, runs[0].Status)
		assert.Equal(t, 1, f.broker.Len())

		stored, err := f.store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastScheduledOccurrence)
		assert.True(t, stored.LastScheduledOccurrence.Equal(paris(t, 2025, time.October, 1, 8, 0, 0)))
	})

	t.Run("ignores workflows outside the window", func(t *testing.T) {
		f := newSchedulerFixture(t)
		wf := scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
		f.now = paris(t, 2025, time.October, 1, 7, 50, 0)

		started, err := f.service().ScheduleDueWorkflows(ctx)

		require.NoError(t, err)
		assert.Zero(t, started)
		assert.Empty(t, f.runsFor(t, wf.ID))
	})

	t.Run("respects a custom tolerance", func(t *testing.T) {
		f := newSchedulerFixture(t)
		scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
		f.now = paris(t, 2025, time.October, 1, 7, 50, 0)

		started, err := f.service(WithTolerance(15*time.Minute)).ScheduleDueWorkflows(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, started)
	})

	t.Run("fires once per occurrence with the watermark", func(t *testing.T) {
		f := newSchedulerFixture(t)
		wf := scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
		service := f.service()

		f.now = paris(t, 2025, time.October, 1, 7, 58, 30)
		first, err := service.ScheduleDueWorkflows(ctx)
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
		second, err := service.ScheduleDueWorkflows(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, first)
		assert.Zero(t, second)
		assert.Len(t, f.runsFor(t, wf.ID), 1)
	})

	t.Run("two ticks inside the window start two runs without the watermark", func(t *testing.T) {
		f := newSchedulerFixture(t)
		wf := scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
		service := f.service(WithWatermark(false))

		f.now = paris(t, 2025, time.October, 1, 7, 58, 30)
		_, err := service.ScheduleDueWorkflows(ctx)
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
		_, err = service.ScheduleDueWorkflows(ctx)
		require.NoError(t, err)

		assert.Len(t, f.runsFor(t, wf.ID), 2)
		assert.Equal(t, 2, f.broker.Len())
	})

	t.Run("skips unusable schedules and keeps going", func(t *testing.T) {
		f := newSchedulerFixture(t)
		broken := domain.NewWorkflow(domain.Definition{
			Name:     "broken",
			Schedule: "every-blue-moon",
			Steps:    []domain.Step{{ID: "a", Type: domain.StepTypeLog}},
		})
		require.NoError(t, f.store.CreateWorkflow(ctx, broken))
		good := scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
		f.now = paris(t, 2025, time.October, 1, 7, 59, 0)

		started, err := f.service().ScheduleDueWorkflows(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, started)
		assert.Empty(t, f.runsFor(t, broken.ID))
		assert.Len(t, f.runsFor(t, good.ID), 1)
	})

	t.Run("a failed start does not advance the watermark", func(t *testing.T) {
		store := memory.NewStore()
		wf := scheduledWorkflow(t, store, schedule.FirstWednesday08)
		starter := &MockRunStarter{}
		starter.On("Start", mock.Anything, wf.ID, domain.StartedByScheduler).Return(nil, errors.New("queue down"))
		now := paris(t, 2025, time.October, 1, 7, 59, 0)

		service := NewSchedulerService(store, starter, WithSchedulerClock(func() time.Time { return now }))
		started, err := service.ScheduleDueWorkflows(ctx)

		require.NoError(t, err)
		assert.Zero(t, started)
		stored, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.LastScheduledOccurrence)
		starter.AssertExpectations(t)
	})
}

func TestSchedulerRunner_StopsOnCancel(t *testing.T) {
	f := newSchedulerFixture(t)
	scheduledWorkflow(t, f.store, schedule.FirstWednesday08)
	f.now = paris(t, 2025, time.October, 1, 7, 59, 0)
	runner := NewSchedulerRunner(f.service(), 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, runner.Start(ctx))
	assert.Len(t, f.runsFor(t, f.firstWorkflowID(t)), 1, "watermark holds across ticks")
}

func (f *schedulerFixture) firstWorkflowID(t *testing.T) string {
	t.Helper()
	workflows, err := f.store.ListScheduledWorkflows(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, workflows)
	return workflows[0].ID
}

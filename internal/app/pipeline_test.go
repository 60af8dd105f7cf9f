package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalaliya/agent.algorythmos/internal/adapters/ai"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/memory"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/queue"
	"github.com/skalaliya/agent.algorythmos/internal/adapters/search"
	"github.com/skalaliya/agent.algorythmos/internal/domain"
	"github.com/skalaliya/agent.algorythmos/internal/ports"
	"github.com/skalaliya/agent.algorythmos/internal/runner"
)

type recordingMailer struct {
	sent []ports.MailMessage
}

func (m *recordingMailer) Send(_ context.Context, msg ports.MailMessage) (string, error) {
	m.sent = append(m.sent, msg)
	return "<test@local.dev>", nil
}

// TestShippedWorkflowRunsEndToEnd starts the sample workflow through the
// run service and drains the queue with the worker.
func TestShippedWorkflowRunsEndToEnd(t *testing.T) {
	ctx := context.Background()

	data, err := os.ReadFile("../../workflows/linkedin-post-analyzer.yaml")
	require.NoError(t, err)
	def, err := domain.ParseDefinition(data, "yaml")
	require.NoError(t, err)

	store := memory.NewStore()
	broker := queue.NewMemoryQueueBroker()
	mailer := &recordingMailer{}
	registry := runner.NewDefaultRegistry(runner.Dependencies{
		Completer: ai.NewMockCompleter(),
		Mailer:    mailer,
		Searcher:  search.NewStaticSearcher(),
		Rates:     runner.DefaultRateTable(),
		MailFrom:  "noreply@local.dev",
	})

	workflows := NewWorkflowService(store)
	wf := domain.NewWorkflow(def)
	require.NoError(t, workflows.CreateWorkflow(ctx, wf))

	runs := NewRunService(store, store, broker, DefaultEnqueueOptions(), nil)
	run, err := runs.Start(ctx, wf.ID, domain.StartedByUser)
	require.NoError(t, err)

	worker := NewWorkerService(ctx, broker, WithConcurrency(1))
	require.NoError(t, worker.RegisterHandler(domain.RunQueue, NewRunJobHandler(NewExecutor(store, store, registry))))

	done := make(chan error, 1)
	go func() { done <- worker.ProcessJobs([]string{domain.RunQueue}) }()

	require.Eventually(t, func() bool {
		got, err := store.GetRun(ctx, run.ID)
		return err == nil && got.Status.Terminal() && broker.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, worker.Stop(ctx))
	assert.ErrorIs(t, <-done, context.Canceled)

	got, err := runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Len(t, got.Steps, 5)
	assert.Equal(t, sumCompleted(got.Steps), got.Credits)
	assert.Positive(t, got.Credits)

	loop := got.Steps[1].Output.(map[string]any)
	assert.Equal(t, "2 iterations: 2 successful", loop["summary"])

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "me@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].HTML, "mock response from OpenAI GPT-4")
	assert.NotContains(t, mailer.sent[0].Text, "<p>")
}

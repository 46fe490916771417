package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type run struct {
	workflowID string
	req        engine.RunRequest
}

type recordingRunner struct {
	mu   sync.Mutex
	runs []run
}

func (r *recordingRunner) Run(_ context.Context, workflowID string, req engine.RunRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append(r.runs, run{workflowID: workflowID, req: req})

	return "exec-1", nil
}

func (r *recordingRunner) all() []run {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]run(nil), r.runs...)
}

func TestScheduler_SyncTracksStorage(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).WorkflowRepository()
	runner := &recordingRunner{}
	scheduler := New(log.Discard(), repo, runner, time.Hour)

	workflow := testutil.CreateTestWorkflow(func(w *models.Workflow) { w.Schedule = "0 9 * * 1" })
	require.NoError(t, repo.Save(t.Context(), workflow))
	require.NoError(t, repo.Save(t.Context(), testutil.CreateTestWorkflow(func(w *models.Workflow) {
		w.ID = "broken"
		w.Schedule = "whenever"
	})))
	require.NoError(t, repo.Save(t.Context(), testutil.CreateTestWorkflow(func(w *models.Workflow) { w.ID = "manual" })))

	require.NoError(t, scheduler.Sync(t.Context()))
	require.Equal(t, 1, scheduler.Len())

	first := scheduler.entries[workflow.ID].id
	scheduler.cron.Entry(first).Job.Run()

	runs := runner.all()
	require.Len(t, runs, 1)
	assert.Equal(t, workflow.ID, runs[0].workflowID)
	assert.Equal(t, workflow.TenantID, runs[0].req.TenantID)
	assert.Equal(t, models.TriggerSchedule, runs[0].req.Source)
	assert.Equal(t, "0 9 * * 1", runs[0].req.Input["schedule"])

	// Unchanged schedules keep their entry.
	require.NoError(t, scheduler.Sync(t.Context()))
	assert.Equal(t, first, scheduler.entries[workflow.ID].id)

	workflow.Version = 2
	workflow.Schedule = "*/5 * * * *"
	require.NoError(t, repo.Save(t.Context(), workflow))
	require.NoError(t, scheduler.Sync(t.Context()))
	assert.NotEqual(t, first, scheduler.entries[workflow.ID].id)
	assert.Len(t, scheduler.cron.Entries(), 1)

	require.NoError(t, repo.Delete(t.Context(), workflow.TenantID, workflow.ID))
	require.NoError(t, scheduler.Sync(t.Context()))
	assert.Zero(t, scheduler.Len())
	assert.Empty(t, scheduler.cron.Entries())
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).WorkflowRepository()
	require.NoError(t, repo.Save(t.Context(), testutil.CreateTestWorkflow(func(w *models.Workflow) { w.Schedule = "@hourly" })))

	scheduler := New(log.Discard(), repo, &recordingRunner{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- scheduler.Run(ctx) }()

	assert.Eventually(t, func() bool { return scheduler.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

package retry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/retry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogs struct {
	mu      sync.Mutex
	entries []models.ExecutionLog
}

func (r *recordingLogs) Append(_ context.Context, entry models.ExecutionLog) (models.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Sequence = int64(len(r.entries) + 1)
	r.entries = append(r.entries, entry)

	return entry, nil
}

func TestPolicy_Delay(t *testing.T) {
	policy := retry.DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 30 * time.Second},
		{attempt: 12, want: 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestConfig_PolicyFor(t *testing.T) {
	config := retry.DefaultConfig()

	assert.Equal(t, 0, config.PolicyFor(models.KindEmailSend).MaxRetries)
	assert.Equal(t, 3, config.PolicyFor(models.KindAgentTask).MaxRetries)

	config.Kinds[models.KindHTTPCall] = retry.Policy{MaxRetries: 1}
	policy := config.PolicyFor(models.KindHTTPCall)
	assert.Equal(t, retry.DefaultBaseDelay, policy.BaseDelay)
	assert.Equal(t, retry.DefaultMaxDelay, policy.MaxDelay)
}

func TestManager_RetriesUntilBudgetThenFails(t *testing.T) {
	logs := &recordingLogs{}
	manager := retry.NewManager(log.Discard(), logs, retry.DefaultConfig())

	failure := retry.FailureContext{
		Execution: &models.WorkflowExecution{ID: "exec-1"},
		Node:      &models.Node{ID: "qualify", Kind: models.KindAgentTask},
		Err:       &protocol.HandlerError{NodeID: "qualify", Err: errors.New("agent crashed")},
	}

	for attempt := 1; attempt <= 3; attempt++ {
		decision, err := manager.OnNodeFailure(context.Background(), failure)
		require.NoError(t, err)
		assert.Equal(t, retry.ActionRetry, decision.Action)
		assert.Equal(t, attempt, decision.Attempt)
	}

	decision, err := manager.OnNodeFailure(context.Background(), failure)
	require.NoError(t, err)
	assert.Equal(t, retry.ActionFail, decision.Action)
	assert.Equal(t, 4, decision.Attempt)

	require.Len(t, logs.entries, 4)
	assert.Equal(t, "retrying node qualify (attempt 1/3) in 1s", logs.entries[0].Message)
	assert.Equal(t, models.LevelWarning, logs.entries[2].Level)
	assert.Equal(t, models.LevelError, logs.entries[3].Level)
	assert.Equal(t, 4, logs.entries[3].Payload["attempts"])
}

func TestManager_BudgetByErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{name: "structural never retries", err: &protocol.StructuralError{NodeID: "n"}, want: retry.ActionFail},
		{name: "dispatch uses zero budget", err: &protocol.DispatchError{NodeID: "n", Err: errors.New("none")}, want: retry.ActionFail},
		{name: "timeout retries", err: &protocol.TimeoutError{NodeID: "n", Timeout: time.Second}, want: retry.ActionRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := retry.NewManager(log.Discard(), &recordingLogs{}, retry.DefaultConfig())

			decision, err := manager.OnNodeFailure(context.Background(), retry.FailureContext{
				Execution: &models.WorkflowExecution{ID: "e"},
				Node:      &models.Node{ID: "n", Kind: models.KindAgentTask},
				Err:       tt.err,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Action)
		})
	}
}

func TestManager_ResetAndForget(t *testing.T) {
	manager := retry.NewManager(log.Discard(), &recordingLogs{}, retry.DefaultConfig())
	failure := retry.FailureContext{
		Execution: &models.WorkflowExecution{ID: "e"},
		Node:      &models.Node{ID: "n", Kind: models.KindHTTPCall},
		Err:       errors.New("boom"),
	}

	_, _ = manager.OnNodeFailure(context.Background(), failure)
	_, _ = manager.OnNodeFailure(context.Background(), failure)
	assert.Equal(t, 2, manager.Attempts("e", "n"))

	manager.Reset("e", "n")
	assert.Equal(t, 0, manager.Attempts("e", "n"))

	_, _ = manager.OnNodeFailure(context.Background(), failure)
	manager.Forget("e")
	assert.Equal(t, 0, manager.Attempts("e", "n"))
}

func TestScheduler_RunsOnFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	scheduler := retry.NewScheduler(clock)

	var fired atomic.Int32

	done := make(chan struct{})

	scheduler.Schedule(2*time.Second, func() {
		fired.Add(1)
		close(done)
	})
	assert.Equal(t, 1, scheduler.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, int32(0), fired.Load())

	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled callback did not run")
	}

	assert.Equal(t, int32(1), fired.Load())
	assert.Eventually(t, func() bool { return scheduler.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CancelAndStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	scheduler := retry.NewScheduler(clock)

	var fired atomic.Int32

	cancel := scheduler.Schedule(time.Second, func() { fired.Add(1) })
	assert.True(t, cancel())
	assert.False(t, cancel())

	scheduler.Schedule(time.Second, func() { fired.Add(1) })
	scheduler.Stop()
	assert.Equal(t, 0, scheduler.Pending())

	scheduler.Schedule(time.Second, func() { fired.Add(1) })
	assert.Equal(t, 0, scheduler.Pending())

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

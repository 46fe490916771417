package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
)

// run is the in-memory owner of one non-terminal execution.
type run struct {
	workflow *models.Workflow
	// order and next are only touched by the goroutine currently executing the run.
	order []string
	next  int
	// retryFrom is the node a manual retry re-enters at.
	retryFrom string

	mu              sync.Mutex
	execution       *models.WorkflowExecution
	cancelRequested bool
	// cancelRetry stops the pending retry timer while the run is parked.
	cancelRetry func() bool
	finished    bool
}

func (r *run) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.execution.ID
}

func (r *run) isCancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelRequested
}

// transition moves the execution to status to, applies mutate and persists the result before
// announcing it.
func (e *Engine) transition(ctx context.Context, r *run, to models.ExecutionStatus, mutate func(*models.WorkflowExecution)) error {
	r.mu.Lock()

	from := r.execution.Status
	if !from.CanTransitionTo(to) {
		r.mu.Unlock()

		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := e.clock.Now().UTC()
	r.execution.Status = to
	r.execution.UpdatedAt = now

	if to.IsTerminal() {
		r.execution.FinishedAt = &now
	}

	if mutate != nil {
		mutate(r.execution)
	}

	snapshot := r.execution.Snapshot()
	err := e.executions.Update(ctx, snapshot)
	r.mu.Unlock()

	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution transition",
			"execution_id", snapshot.ID, "from", from, "to", to, "error", err)

		return err
	}

	e.announce(ctx, snapshot, from)

	return nil
}

// save persists a non-status change of the execution.
func (e *Engine) save(ctx context.Context, r *run, mutate func(*models.WorkflowExecution)) error {
	r.mu.Lock()

	mutate(r.execution)
	r.execution.UpdatedAt = e.clock.Now().UTC()

	snapshot := r.execution.Snapshot()
	err := e.executions.Update(ctx, snapshot)
	r.mu.Unlock()

	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution", "execution_id", snapshot.ID, "error", err)
	}

	return err
}

func (e *Engine) announce(ctx context.Context, execution *models.WorkflowExecution, from models.ExecutionStatus) {
	e.metrics.ExecutionTransitioned(string(from), string(execution.Status))

	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, execution.ID, events.NewExecutionTransitioned(execution, from))
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish execution transition",
			"execution_id", execution.ID, "to", execution.Status, "error", err)
	}
}

func (e *Engine) appendLog(ctx context.Context, executionID, nodeID string, level models.LogLevel, message string, payload map[string]any) {
	_, err := e.logs.Append(ctx, models.ExecutionLog{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Payload:     payload,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to append execution log",
			"execution_id", executionID, "node_id", nodeID, "level", level, "error", err)
	}
}

func (e *Engine) cancelRun(ctx context.Context, r *run, nodeID string) {
	err := e.transition(ctx, r, models.ExecutionCancelled, nil)
	if err == nil {
		message := "execution cancelled"
		if nodeID != "" {
			message = fmt.Sprintf("execution cancelled before node %s", nodeID)
		}

		e.appendLog(ctx, r.id(), nodeID, models.LevelInfo, message, nil)
	}

	e.finish(r)
}

func (e *Engine) failRun(ctx context.Context, r *run, nodeID string, cause error) {
	_ = e.transition(ctx, r, models.ExecutionFailed, func(execution *models.WorkflowExecution) {
		execution.Error = cause.Error()
		if nodeID != "" {
			execution.CurrentNodeID = nodeID
			execution.NodeStates[nodeID] = models.NodeFailed
		}
	})

	e.finish(r)
}

// abandon fails a run parked on a retry timer that will not fire because the engine stops.
func (e *Engine) abandon(ctx context.Context, r *run) {
	e.appendLog(ctx, r.id(), "", models.LevelError,
		fmt.Sprintf("execution abandoned while waiting for a retry: %v", ErrShuttingDown), nil)
	e.failRun(ctx, r, "", ErrShuttingDown)
}

// finish releases everything held for a run. It is safe to call more than once.
func (e *Engine) finish(r *run) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()

		return
	}

	r.finished = true
	r.cancelRetry = nil
	execution := r.execution.Snapshot()
	r.mu.Unlock()

	e.logs.Complete(execution.ID)
	e.retries.Forget(execution.ID)

	e.mu.Lock()
	delete(e.runs, execution.ID)
	e.mu.Unlock()

	e.releaseTenant(execution.TenantID)

	e.logger.Info("Execution finished",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"status", execution.Status)
}

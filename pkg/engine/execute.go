package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
)

// execute drives a run until it ends or parks on a retry timer.
func (e *Engine) execute(ctx context.Context, r *run) {
	defer e.wg.Done()

	r.mu.Lock()
	status := r.execution.Status
	r.mu.Unlock()

	switch status {
	case models.ExecutionPending:
		if !e.begin(ctx, r) {
			return
		}
	case models.ExecutionRetrying:
		if r.isCancelRequested() {
			e.cancelRun(ctx, r, r.order[r.next])

			return
		}

		err := e.transition(ctx, r, models.ExecutionRunning, nil)
		if err != nil {
			e.finish(r)

			return
		}
	default:
		return
	}

	for r.next < len(r.order) {
		nodeID := r.order[r.next]

		if r.isCancelRequested() {
			e.cancelRun(ctx, r, nodeID)

			return
		}

		if e.nodeState(r, nodeID) == models.NodeSuccess {
			r.next++

			continue
		}

		node := r.workflow.Node(nodeID)

		inbound, active, err := e.inbound(r, node)
		if err == nil && !active {
			e.skip(ctx, r, node)
			r.next++

			continue
		}

		if err == nil {
			err = e.attempt(ctx, r, node, inbound)
		}

		if err == nil {
			r.next++

			continue
		}

		e.handleFailure(ctx, r, node, err)

		return
	}

	if r.isCancelRequested() {
		e.cancelRun(ctx, r, "")

		return
	}

	err := e.transition(ctx, r, models.ExecutionSuccess, func(execution *models.WorkflowExecution) {
		execution.CurrentNodeID = ""
	})
	if err == nil {
		e.appendLog(ctx, r.id(), "", models.LevelInfo, "execution finished", map[string]any{"status": models.ExecutionSuccess})
	}

	e.finish(r)
}

// begin validates the graph and moves a pending run to running. It reports whether to go on.
func (e *Engine) begin(ctx context.Context, r *run) bool {
	executionID := r.id()

	if r.retryFrom != "" {
		r.mu.Lock()
		retryOf := r.execution.RetryOf
		r.mu.Unlock()

		e.appendLog(ctx, executionID, r.retryFrom, models.LevelInfo,
			fmt.Sprintf("manual retry of execution %s from node %s", retryOf, r.retryFrom),
			map[string]any{"retry_of": retryOf})
	}

	if r.isCancelRequested() {
		e.cancelRun(ctx, r, "")

		return false
	}

	result := graph.Validate(r.workflow)
	if !result.Valid {
		issues := make([]string, 0, len(result.Errors))
		for _, issue := range result.Errors {
			issues = append(issues, issue.String())
		}

		structural := &protocol.StructuralError{WorkflowID: r.workflow.ID, Issues: issues}

		e.appendLog(ctx, executionID, "", models.LevelError, structural.Error(), map[string]any{"issues": issues})
		e.failRun(ctx, r, "", structural)

		return false
	}

	r.order = graph.ExecutionOrder(r.workflow)
	scheduled := make(map[string]bool, len(r.order))

	for _, id := range r.order {
		scheduled[id] = true
	}

	err := e.transition(ctx, r, models.ExecutionRunning, func(execution *models.WorkflowExecution) {
		for _, node := range r.workflow.Nodes {
			if execution.NodeStates[node.ID] == models.NodeSuccess {
				continue
			}

			if scheduled[node.ID] {
				execution.NodeStates[node.ID] = models.NodePending
			} else {
				execution.NodeStates[node.ID] = models.NodeSkipped
			}
		}
	})
	if err != nil {
		e.finish(r)

		return false
	}

	r.mu.Lock()
	source, version := r.execution.TriggerSource, r.execution.WorkflowVersion
	r.mu.Unlock()

	e.appendLog(ctx, executionID, "", models.LevelInfo,
		fmt.Sprintf("execution started by %s trigger on version %d", source, version),
		map[string]any{"source": source, "version": version, "nodes": len(r.order)})

	return true
}

func (e *Engine) nodeState(r *run, nodeID string) models.NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.execution.NodeStates[nodeID]
}

// inbound resolves what a node receives from its predecessors. A node whose inbound connections
// are all inactive is skipped. Triggers receive the trigger input.
func (e *Engine) inbound(r *run, node *models.Node) (map[string]any, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connections := r.workflow.Inbound(node.ID)
	data := make(map[string]any)

	if node.Kind.IsTrigger() {
		maps.Copy(data, r.execution.TriggerInput)

		if len(connections) == 0 {
			return data, true, nil
		}
	}

	if len(connections) == 0 {
		return data, true, nil
	}

	active := false

	for _, connection := range connections {
		if r.execution.NodeStates[connection.Source] != models.NodeSuccess {
			continue
		}

		output := r.execution.NodeOutputs[connection.Source]

		if connection.Guard != nil {
			ok, err := connection.Guard.Evaluate(output)
			if err != nil {
				return nil, false, &protocol.StructuralError{
					WorkflowID: r.workflow.ID,
					NodeID:     node.ID,
					Err:        fmt.Errorf("guard on connection %s: %w", connection.ID, err),
				}
			}

			if !ok {
				continue
			}
		}

		active = true

		if len(connection.Mapping) == 0 {
			maps.Copy(data, output)

			continue
		}

		for _, from := range slices.Sorted(maps.Keys(connection.Mapping)) {
			if value, found := models.Lookup(output, from); found {
				data[connection.Mapping[from]] = value
			}
		}
	}

	return data, active, nil
}

func (e *Engine) skip(ctx context.Context, r *run, node *models.Node) {
	_ = e.save(ctx, r, func(execution *models.WorkflowExecution) {
		execution.NodeStates[node.ID] = models.NodeSkipped
	})

	e.appendLog(ctx, r.id(), node.ID, models.LevelDebug,
		fmt.Sprintf("skipping node %s: no active inbound connection", node.ID), nil)
}

// attempt runs the node handler once and records a successful result.
func (e *Engine) attempt(ctx context.Context, r *run, node *models.Node, inbound map[string]any) error {
	executionID := r.id()

	err := node.ValidateConfig(e.validate)
	if err != nil {
		return &protocol.StructuralError{WorkflowID: r.workflow.ID, NodeID: node.ID, Err: err}
	}

	handler, err := e.handlers.Handler(node.Kind)
	if err != nil {
		return &protocol.DispatchError{NodeID: node.ID, Role: string(node.AgentRole()), Err: err}
	}

	err = e.save(ctx, r, func(execution *models.WorkflowExecution) {
		execution.NodeStates[node.ID] = models.NodeRunning
		execution.CurrentNodeID = node.ID
	})
	if err != nil {
		return err
	}

	if node.Kind == models.KindAgentTask {
		e.appendLog(ctx, executionID, node.ID, models.LevelAgent,
			fmt.Sprintf("dispatching node %s to a %s agent", node.ID, node.AgentRole()),
			map[string]any{"role": node.AgentRole()})
	}

	timeout := e.config.timeoutFor(node.Kind)
	attempt := e.attemptNumber(executionID, node.ID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.node",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkflowIDKey, r.workflow.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
		attribute.Int(otelhelper.AttemptKey, attempt))
	defer span.End()

	started := e.clock.Now()

	output, err := e.call(ctx, handler, protocol.Request{
		ExecutionID: executionID,
		WorkflowID:  r.workflow.ID,
		TenantID:    r.workflow.TenantID,
		Node:        node,
		Inbound:     inbound,
		Timeout:     timeout,
		Attempt:     attempt,
	})

	elapsed := e.clock.Since(started)

	if err != nil {
		err = protocol.Classify(node.ID, err)
		otelhelper.SetError(span, err)
		e.metrics.NodeAttempt(string(node.Kind), outcome(err), elapsed)

		return err
	}

	e.metrics.NodeAttempt(string(node.Kind), "success", elapsed)

	if output == nil {
		output = map[string]any{}
	}

	err = e.save(ctx, r, func(execution *models.WorkflowExecution) {
		execution.NodeStates[node.ID] = models.NodeSuccess
		execution.NodeOutputs[node.ID] = output
	})
	if err != nil {
		return err
	}

	e.appendLog(ctx, executionID, node.ID, models.LevelSuccess,
		fmt.Sprintf("node %s completed", node.ID),
		map[string]any{"duration_ms": elapsed.Milliseconds(), "attempt": attempt})

	return nil
}

// attemptNumber is 1 for the first invocation of a node, counting earlier failures otherwise.
func (e *Engine) attemptNumber(executionID, nodeID string) int {
	return e.retries.Attempts(executionID, nodeID) + 1
}

type callResult struct {
	output map[string]any
	err    error
}

// call runs the handler under the node timeout. A handler that ignores its context is abandoned
// when the timeout fires.
func (e *Engine) call(ctx context.Context, handler protocol.Handler, req protocol.Request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	done := make(chan callResult, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- callResult{err: &protocol.HandlerError{NodeID: req.Node.ID, Err: fmt.Errorf("handler panic: %v", recovered)}}
			}
		}()

		output, err := handler.Handle(ctx, req)
		done <- callResult{output: output, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &protocol.TimeoutError{NodeID: req.Node.ID, Timeout: req.Timeout}
		}

		return result.output, result.err
	case <-ctx.Done():
		return nil, &protocol.TimeoutError{NodeID: req.Node.ID, Timeout: req.Timeout}
	}
}

func outcome(err error) string {
	switch {
	case protocol.IsTimeoutError(err):
		return "timeout"
	case protocol.IsStructuralError(err):
		return "structural"
	case protocol.IsDispatchError(err):
		return "dispatch"
	default:
		return "failure"
	}
}

// handleFailure asks the retry manager what to do with a failed node and either parks the run
// on a retry timer or fails it.
func (e *Engine) handleFailure(ctx context.Context, r *run, node *models.Node, cause error) {
	if r.isCancelRequested() {
		e.appendLog(ctx, r.id(), node.ID, models.LevelError,
			fmt.Sprintf("node %s failed after cancellation: %v", node.ID, cause), nil)
		_ = e.save(ctx, r, func(execution *models.WorkflowExecution) {
			execution.NodeStates[node.ID] = models.NodeFailed
		})
		e.cancelRun(ctx, r, "")

		return
	}

	r.mu.Lock()
	snapshot := r.execution.Snapshot()
	r.mu.Unlock()

	decision, err := e.retries.OnNodeFailure(ctx, retry.FailureContext{Execution: snapshot, Node: node, Err: cause})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record node failure", "execution_id", snapshot.ID, "node_id", node.ID, "error", err)
	}

	if decision.Action == retry.ActionRetry {
		if e.park(ctx, r, node, decision.Delay) {
			return
		}

		e.appendLog(ctx, snapshot.ID, node.ID, models.LevelError,
			fmt.Sprintf("node %s not retried: %v", node.ID, ErrShuttingDown), nil)
	}

	e.failRun(ctx, r, node.ID, fmt.Errorf("node %s: %w", node.ID, cause))
}

// park moves the run to retrying and schedules its resumption. It reports false only when the
// engine is already closed and the failure should end the run instead.
func (e *Engine) park(ctx context.Context, r *run, node *models.Node, delay time.Duration) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return false
	}

	err := e.transition(ctx, r, models.ExecutionRetrying, func(execution *models.WorkflowExecution) {
		execution.NodeStates[node.ID] = models.NodeRetrying
		execution.CurrentNodeID = node.ID
	})
	if err != nil {
		e.finish(r)

		return true
	}

	// Same lock order as Shutdown so a parked run is either seen by it or sees closed here.
	e.mu.Lock()
	r.mu.Lock()

	closed, cancelled := e.closed, r.cancelRequested
	if !closed && !cancelled {
		r.cancelRetry = e.scheduler.Schedule(delay, func() { e.resume(ctx, r) })
	}

	r.mu.Unlock()
	e.mu.Unlock()

	switch {
	case cancelled:
		e.cancelRun(ctx, r, node.ID)
	case closed:
		e.abandon(ctx, r)
	}

	return true
}

func (e *Engine) resume(ctx context.Context, r *run) {
	r.mu.Lock()
	r.cancelRetry = nil
	r.mu.Unlock()

	e.mu.Lock()
	closed := e.closed
	if !closed {
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if closed {
		e.abandon(ctx, r)

		return
	}

	go e.execute(ctx, r)
}

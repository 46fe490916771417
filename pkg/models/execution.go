package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionRetrying  ExecutionStatus = "retrying"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending:  {ExecutionRunning, ExecutionFailed, ExecutionCancelled},
	ExecutionRunning:  {ExecutionRetrying, ExecutionSuccess, ExecutionFailed, ExecutionCancelled},
	ExecutionRetrying: {ExecutionRunning, ExecutionFailed, ExecutionCancelled},
}

func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return slices.Contains(executionTransitions[s], next)
}

func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed || s == ExecutionCancelled
}

// IsActive reports whether an execution in this state counts as running.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionRunning || s == ExecutionRetrying
}

// NodeState is the per-node progress inside one execution.
type NodeState string

const (
	NodePending  NodeState = "pending"
	NodeRunning  NodeState = "running"
	NodeRetrying NodeState = "retrying"
	NodeSuccess  NodeState = "success"
	NodeFailed   NodeState = "failed"
	NodeSkipped  NodeState = "skipped"
)

// TriggerSource identifies the ingress that started an execution.
type TriggerSource string

const (
	TriggerUser     TriggerSource = "user"
	TriggerWebhook  TriggerSource = "webhook"
	TriggerSchedule TriggerSource = "schedule"
	TriggerQueue    TriggerSource = "queue"
)

func (s TriggerSource) IsValid() bool {
	switch s {
	case TriggerUser, TriggerWebhook, TriggerSchedule, TriggerQueue:
		return true
	default:
		return false
	}
}

// WorkflowExecution is one run of a workflow version against a trigger input.
type WorkflowExecution struct {
	ID              string                    `json:"id"`
	WorkflowID      string                    `json:"workflow_id"`
	WorkflowVersion int                       `json:"workflow_version"`
	TenantID        string                    `json:"tenant_id"`
	TriggerSource   TriggerSource             `json:"trigger_source"`
	TriggerInput    map[string]any            `json:"trigger_input,omitempty"`
	Status          ExecutionStatus           `json:"status"`
	CurrentNodeID   string                    `json:"current_node_id,omitempty"`
	Error           string                    `json:"error,omitempty"`
	NodeStates      map[string]NodeState      `json:"node_states"`
	NodeOutputs     map[string]map[string]any `json:"node_outputs"`
	RetryOf         string                    `json:"retry_of,omitempty"`
	StartedAt       time.Time                 `json:"started_at"`
	FinishedAt      *time.Time                `json:"finished_at,omitempty"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// Snapshot returns a copy that does not share maps with the receiver.
func (e *WorkflowExecution) Snapshot() *WorkflowExecution {
	clone := *e

	clone.NodeStates = make(map[string]NodeState, len(e.NodeStates))
	for k, v := range e.NodeStates {
		clone.NodeStates[k] = v
	}

	clone.NodeOutputs = make(map[string]map[string]any, len(e.NodeOutputs))
	for k, v := range e.NodeOutputs {
		clone.NodeOutputs[k] = v
	}

	if e.FinishedAt != nil {
		finished := *e.FinishedAt
		clone.FinishedAt = &finished
	}

	return &clone
}

// Package events defines the notifications leadflow publishes about execution lifecycle.
package events

import (
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic                = "leadflow.executions"
	OutboundMessageTopic = "leadflow.outbound.messages"
	RunRequestTopic      = "leadflow.runs"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const ExecutionTransitionedEvent EventType = "execution.transitioned"

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TenantID   string    `json:"tenant_id"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, tenantID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
	}
}

// ExecutionTransitioned is published after an execution status change is persisted.
type ExecutionTransitioned struct {
	BaseEvent

	ExecutionID     string                 `json:"execution_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	From            models.ExecutionStatus `json:"from"`
	To              models.ExecutionStatus `json:"to"`
	NodeID          string                 `json:"node_id,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

func (ExecutionTransitioned) GetType() EventType {
	return ExecutionTransitionedEvent
}

func NewExecutionTransitioned(execution *models.WorkflowExecution, from models.ExecutionStatus) ExecutionTransitioned {
	return ExecutionTransitioned{
		BaseEvent:       NewBaseEvent(ExecutionTransitionedEvent, execution.TenantID, execution.WorkflowID),
		ExecutionID:     execution.ID,
		WorkflowVersion: execution.WorkflowVersion,
		From:            from,
		To:              execution.Status,
		NodeID:          execution.CurrentNodeID,
		Error:           execution.Error,
	}
}

// OutboundMessage is what the client-message node hands to delivery workers.
type OutboundMessage struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient"`
	Message     string    `json:"message"`
	QueuedAt    time.Time `json:"queued_at"`
}

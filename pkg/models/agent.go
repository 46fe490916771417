package models

import "time"

type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentPaused  AgentStatus = "paused"
	AgentOffline AgentStatus = "offline"
)

// Agent is a worker instance that services agent-task nodes of one role.
type Agent struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"              validate:"required"`
	Name         string      `json:"name"                   validate:"required"`
	Role         AgentRole   `json:"role"                   validate:"required,oneof=manager coordinator specialist notifier custom"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Status       AgentStatus `json:"status"                 validate:"required,oneof=active paused offline"`
	// MaxConcurrency limits in-flight tasks; zero means unbounded.
	MaxConcurrency int       `json:"max_concurrency"        validate:"min=0"`
	Endpoint       string    `json:"endpoint,omitempty"     validate:"omitempty,url"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentOrchestration binds a tenant's workflows to its agents and keeps fleet counters.
type AgentOrchestration struct {
	TenantID          string          `json:"tenant_id"`
	WorkflowIDs       []string        `json:"workflow_ids"`
	AgentIDs          []string        `json:"agent_ids"`
	RunningExecutions []string        `json:"running_executions"`
	FailedCount       int64           `json:"failed_count"`
	LastStatus        ExecutionStatus `json:"last_status,omitempty"`
	LastExecutionID   string          `json:"last_execution_id,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (o *AgentOrchestration) RunningCount() int {
	return len(o.RunningExecutions)
}

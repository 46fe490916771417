// Package web provides the HTTP API: workflow and template management, trigger ingress and execution observability.
package web

import "github.com/dukex/leadflow/pkg/models"

// WorkflowRequest is the body for creating a workflow or saving a new version of it.
type WorkflowRequest struct {
	Name        string               `json:"name"        validate:"required,min=3"`
	Description string               `json:"description"`
	CreatedBy   string               `json:"created_by"`
	Nodes       []*models.Node       `json:"nodes"       validate:"required,min=1"`
	Connections []*models.Connection `json:"connections"`
	Tags        []string             `json:"tags,omitempty"`
	Schedule    string               `json:"schedule,omitempty"`
}

func (r WorkflowRequest) workflow(tenantID string) *models.Workflow {
	connections := r.Connections
	if connections == nil {
		connections = []*models.Connection{}
	}

	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		TenantID:    tenantID,
		CreatedBy:   r.CreatedBy,
		Nodes:       r.Nodes,
		Connections: connections,
		Tags:        r.Tags,
		Schedule:    r.Schedule,
	}
}

type RunRequest struct {
	Input map[string]any `json:"input"`
}

type RetryRequest struct {
	NodeID string `json:"node_id" validate:"required"`
}

// ExecutionStarted is returned by every endpoint that starts an execution.
type ExecutionStarted struct {
	ExecutionID string `json:"execution_id"`
}

type DeployRequest struct {
	Name      string `json:"name,omitempty"`
	CreatedBy string `json:"created_by"`
}

type OutcomeRequest struct {
	Success bool    `json:"success"`
	ROI     float64 `json:"roi"`
}

type BindRequest struct {
	WorkflowIDs []string `json:"workflow_ids"`
	AgentIDs    []string `json:"agent_ids"`
}

type AgentStatusRequest struct {
	Status models.AgentStatus `json:"status" validate:"required,oneof=active paused offline"`
}

// Package persistence defines the storage port used by the engine, services and coordinator.
package persistence

import (
	"context"

	"github.com/dukex/leadflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TemplateRepository() TemplateRepository
	ExecutionRepository() ExecutionRepository
	LogRepository() LogRepository
	AgentRepository() AgentRepository
	OrchestrationRepository() OrchestrationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores every version of a workflow. The head is the highest version.
type WorkflowRepository interface {
	// Save upserts the (ID, Version) snapshot.
	Save(ctx context.Context, workflow *models.Workflow) error
	// GetByID returns the head version. Tombstoned workflows are not found.
	GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	// GetVersion returns a specific snapshot, tombstoned or not.
	GetVersion(ctx context.Context, tenantID, id string, version int) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	// ListScheduled returns head versions with a schedule across all tenants.
	ListScheduled(ctx context.Context) ([]*models.Workflow, error)
	// Delete removes every version.
	Delete(ctx context.Context, tenantID, id string) error
}

type ListWorkflowsOptions struct {
	TenantID       string
	Tag            string
	IncludeDeleted bool
}

type TemplateRepository interface {
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	// List filters by category when it is not empty.
	List(ctx context.Context, category string) ([]*models.WorkflowTemplate, error)
	// UpdateStats applies update to the stored stats atomically.
	UpdateStats(ctx context.Context, id string, update func(*models.TemplateStats)) (*models.WorkflowTemplate, error)
}

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// Update replaces the record unless the stored one is already terminal.
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	CountByWorkflow(ctx context.Context, workflowID string) (int, error)
}

type LogFilter struct {
	Levels        []models.LogLevel
	NodeID        string
	AfterSequence int64
	Limit         int
}

// Matches reports whether entry passes the filter, ignoring Limit.
func (f LogFilter) Matches(entry models.ExecutionLog) bool {
	if entry.Sequence <= f.AfterSequence {
		return false
	}

	if f.NodeID != "" && entry.NodeID != f.NodeID {
		return false
	}

	if len(f.Levels) == 0 {
		return true
	}

	for _, level := range f.Levels {
		if level == entry.Level {
			return true
		}
	}

	return false
}

type LogRepository interface {
	// Append stores entry. Sequences must grow strictly per execution.
	Append(ctx context.Context, entry models.ExecutionLog) error
	Query(ctx context.Context, executionID string, filter LogFilter) ([]models.ExecutionLog, error)
	LastSequence(ctx context.Context, executionID string) (int64, error)
}

type AgentRepository interface {
	Save(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Agent, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Agent, error)
	List(ctx context.Context) ([]*models.Agent, error)
	Delete(ctx context.Context, tenantID, id string) error
}

type OrchestrationRepository interface {
	Save(ctx context.Context, orchestration *models.AgentOrchestration) error
	Get(ctx context.Context, tenantID string) (*models.AgentOrchestration, error)
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	TenantID       string
	Tag            string
	IncludeDeleted bool
}

// ListWorkflows retrieves the head version of each workflow of a tenant.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.Workflow, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, ErrTenantRequired
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		TenantID:       req.TenantID,
		Tag:            req.Tag,
		IncludeDeleted: req.IncludeDeleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves the current version of a workflow.
func (w *Workflow) FetchByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
}

// FetchVersion retrieves a stored snapshot, including versions of deleted workflows.
func (w *Workflow) FetchVersion(ctx context.Context, tenantID, id string, version int) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetVersion(ctx, tenantID, id, version)
}

// ListExecutions returns the executions of a workflow owned by the tenant, tombstoned or not.
func (w *Workflow) ListExecutions(ctx context.Context, tenantID, workflowID string) ([]*models.WorkflowExecution, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}

	executions, err := w.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	owned := make([]*models.WorkflowExecution, 0, len(executions))
	for _, execution := range executions {
		if execution.TenantID == tenantID {
			owned = append(owned, execution)
		}
	}

	return owned, nil
}

// Create stores version 1 of a new workflow.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	err := w.check("Create", workflow)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.Version = 1
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.DeletedAt = nil

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update stores the edit as the next version. Earlier versions stay readable for executions bound
// to them.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	err := w.check("Update", workflow)
	if err != nil {
		return nil, err
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflow.TenantID, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.Version = existing.Version + 1
	workflow.CreatedAt = existing.CreatedAt
	workflow.CreatedBy = existing.CreatedBy
	workflow.FromTemplate = existing.FromTemplate
	workflow.TemplateID = existing.TemplateID
	workflow.UpdatedAt = time.Now().UTC()
	workflow.DeletedAt = nil

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete tombstones a workflow that executions still reference and removes it otherwise.
// It reports whether a tombstone was written.
func (w *Workflow) Delete(ctx context.Context, tenantID, workflowID string) (bool, error) {
	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, workflowID)
	if err != nil {
		return false, err
	}

	count, err := w.persistence.ExecutionRepository().CountByWorkflow(ctx, workflowID)
	if err != nil {
		return false, fmt.Errorf("failed to count executions: %w", err)
	}

	if count == 0 {
		err = w.persistence.WorkflowRepository().Delete(ctx, tenantID, workflowID)
		if err != nil {
			return false, fmt.Errorf("failed to delete workflow: %w", err)
		}

		return false, nil
	}

	tombstone, err := existing.Clone()
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	tombstone.Version = existing.Version + 1
	tombstone.UpdatedAt = now
	tombstone.DeletedAt = &now

	err = w.persistence.WorkflowRepository().Save(ctx, tombstone)
	if err != nil {
		return false, fmt.Errorf("failed to tombstone workflow: %w", err)
	}

	return true, nil
}

// check validates what a workflow needs before it is stored. Node configuration is left to
// execution time.
func (w *Workflow) check(op string, workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if strings.TrimSpace(workflow.TenantID) == "" {
		return ErrTenantRequired
	}

	err := w.validate.StructPartial(workflow, "Name")
	if err != nil {
		return NewValidationError(op, "INVALID_NAME", "workflow name must have at least 3 characters", ErrWorkflowNameRequired)
	}

	result := graph.Validate(workflow)
	if !result.Valid {
		issues := make([]string, 0, len(result.Errors))
		for _, issue := range result.Errors {
			issues = append(issues, issue.String())
		}

		return NewValidationError(op, "INVALID_GRAPH", strings.Join(issues, "; "), ErrInvalidGraph)
	}

	if workflow.Schedule != "" {
		_, err := cron.ParseStandard(workflow.Schedule)
		if err != nil {
			return NewValidationError(op, "INVALID_SCHEDULE", err.Error(), ErrInvalidSchedule)
		}
	}

	return nil
}

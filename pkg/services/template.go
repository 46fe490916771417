package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Templates publishes workflow blueprints and deploys them into tenant workflows.
type Templates struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewTemplates(persistence persistence.Persistence) *Templates {
	return &Templates{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Publish stores an immutable template. Publishing an existing id is a conflict.
func (t *Templates) Publish(ctx context.Context, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if template == nil {
		return nil, ErrInvalidRequest
	}

	err := t.validate.StructPartial(template, "Name", "Category")
	if err != nil {
		return nil, NewValidationError("Publish", "INVALID_TEMPLATE", err.Error(), ErrTemplateNameRequired)
	}

	if len(template.Nodes) == 0 {
		return nil, ErrTemplateNodesRequired
	}

	result := graph.Validate(&models.Workflow{Nodes: template.Nodes, Connections: template.Connections})
	if !result.Valid {
		issues := make([]string, 0, len(result.Errors))
		for _, issue := range result.Errors {
			issues = append(issues, issue.String())
		}

		return nil, NewValidationError("Publish", "INVALID_GRAPH", strings.Join(issues, "; "), ErrInvalidGraph)
	}

	if template.ID == "" {
		template.ID = uuid.New().String()
	}

	template.PublishedAt = time.Now().UTC()
	template.Stats = models.TemplateStats{}

	err = t.persistence.TemplateRepository().Save(ctx, template)
	if errors.Is(err, persistence.ErrTemplateAlreadyExists) {
		return nil, &ServiceError{Op: "Publish", Code: "TEMPLATE_EXISTS", Message: "template " + template.ID + " already exists", Err: ErrTemplateExists}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to publish template: %w", err)
	}

	return template, nil
}

func (t *Templates) FetchByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return t.persistence.TemplateRepository().GetByID(ctx, id)
}

// List returns templates of a category, or all of them when category is empty.
func (t *Templates) List(ctx context.Context, category string) ([]*models.WorkflowTemplate, error) {
	return t.persistence.TemplateRepository().List(ctx, category)
}

type DeployRequest struct {
	TenantID  string `json:"tenant_id"`
	CreatedBy string `json:"created_by"`
	// Name overrides the template name when set.
	Name string `json:"name,omitempty"`
}

// Deploy instantiates the template into a new workflow owned by the tenant and counts the deploy.
func (t *Templates) Deploy(ctx context.Context, templateID string, req DeployRequest) (*models.Workflow, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, ErrTenantRequired
	}

	template, err := t.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	workflow, err := template.Instantiate(uuid.New().String(), req.TenantID, req.CreatedBy, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		workflow.Name = req.Name
	}

	err = t.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save deployed workflow: %w", err)
	}

	_, err = t.persistence.TemplateRepository().UpdateStats(ctx, templateID, func(stats *models.TemplateStats) {
		stats.TimesDeployed++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count deploy of %s: %w", templateID, err)
	}

	return workflow, nil
}

// RecordOutcome folds an execution outcome of a deployed copy into the template stats.
func (t *Templates) RecordOutcome(ctx context.Context, templateID string, success bool, roi float64) (*models.WorkflowTemplate, error) {
	return t.persistence.TemplateRepository().UpdateStats(ctx, templateID, func(stats *models.TemplateStats) {
		stats.RecordOutcome(success, roi)
	})
}

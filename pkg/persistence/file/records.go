package file

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

type TemplateRepository struct {
	store *store
}

func (r *TemplateRepository) path(id string) string {
	return r.store.path("templates", id+".json")
}

// Save publishes a template. Published templates cannot be replaced.
func (r *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	err := validateID(template.ID)
	if err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err = os.Stat(r.path(template.ID))
	if err == nil {
		return persistence.ErrTemplateAlreadyExists
	}

	return r.store.writeJSON(r.path(template.ID), template)
}

func (r *TemplateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	if validateID(id) != nil {
		return nil, persistence.ErrTemplateNotFound
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var template models.WorkflowTemplate

	err := r.store.readJSON(r.path(id), &template, persistence.ErrTemplateNotFound)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

func (r *TemplateRepository) List(_ context.Context, category string) ([]*models.WorkflowTemplate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	files, err := r.store.jsonFiles(r.store.path("templates"))
	if err != nil {
		return nil, err
	}

	templates := make([]*models.WorkflowTemplate, 0, len(files))

	for _, file := range files {
		var template models.WorkflowTemplate

		err := r.store.readJSON(file, &template, persistence.ErrTemplateNotFound)
		if err != nil {
			return nil, err
		}

		if category != "" && template.Category != category {
			continue
		}

		templates = append(templates, &template)
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })

	return templates, nil
}

func (r *TemplateRepository) UpdateStats(_ context.Context, id string, update func(*models.TemplateStats)) (*models.WorkflowTemplate, error) {
	if validateID(id) != nil {
		return nil, persistence.ErrTemplateNotFound
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var template models.WorkflowTemplate

	err := r.store.readJSON(r.path(id), &template, persistence.ErrTemplateNotFound)
	if err != nil {
		return nil, err
	}

	update(&template.Stats)

	err = r.store.writeJSON(r.path(id), &template)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

type ExecutionRepository struct {
	store *store
}

func (r *ExecutionRepository) path(id string) string {
	return r.store.path("executions", id+".json")
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	err := validateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err = os.Stat(r.path(execution.ID))
	if err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return r.store.writeJSON(r.path(execution.ID), execution)
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	if validateID(id) != nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var execution models.WorkflowExecution

	err := r.store.readJSON(r.path(id), &execution, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	if validateID(execution.ID) != nil {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var current models.WorkflowExecution

	err := r.store.readJSON(r.path(execution.ID), &current, persistence.ErrExecutionNotFound)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if current.Status.IsTerminal() {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionTerminal)
	}

	return r.store.writeJSON(r.path(execution.ID), execution)
}

func (r *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.listByWorkflow(workflowID)
}

func (r *ExecutionRepository) CountByWorkflow(_ context.Context, workflowID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	executions, err := r.listByWorkflow(workflowID)

	return len(executions), err
}

func (r *ExecutionRepository) listByWorkflow(workflowID string) ([]*models.WorkflowExecution, error) {
	files, err := r.store.jsonFiles(r.store.path("executions"))
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, file := range files {
		var execution models.WorkflowExecution

		err := r.store.readJSON(file, &execution, persistence.ErrExecutionNotFound)
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, &execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

type AgentRepository struct {
	store *store
}

func (r *AgentRepository) path(tenantID, id string) string {
	return r.store.path("agents", tenantID, id+".json")
}

func (r *AgentRepository) Save(_ context.Context, agent *models.Agent) error {
	if err := validateID(agent.TenantID); err != nil {
		return err
	}

	if err := validateID(agent.ID); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeJSON(r.path(agent.TenantID, agent.ID), agent)
}

func (r *AgentRepository) GetByID(_ context.Context, tenantID, id string) (*models.Agent, error) {
	if validateID(tenantID) != nil || validateID(id) != nil {
		return nil, persistence.ErrAgentNotFound
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var agent models.Agent

	err := r.store.readJSON(r.path(tenantID, id), &agent, persistence.ErrAgentNotFound)
	if err != nil {
		return nil, err
	}

	return &agent, nil
}

func (r *AgentRepository) ListByTenant(_ context.Context, tenantID string) ([]*models.Agent, error) {
	if validateID(tenantID) != nil {
		return []*models.Agent{}, nil
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.list(tenantID)
}

func (r *AgentRepository) List(_ context.Context) ([]*models.Agent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries, err := os.ReadDir(r.store.path("agents"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.Agent{}, nil
		}

		return nil, err
	}

	agents := make([]*models.Agent, 0)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		tenantAgents, err := r.list(entry.Name())
		if err != nil {
			return nil, err
		}

		agents = append(agents, tenantAgents...)
	}

	return agents, nil
}

func (r *AgentRepository) list(tenantID string) ([]*models.Agent, error) {
	files, err := r.store.jsonFiles(r.store.path("agents", tenantID))
	if err != nil {
		return nil, err
	}

	agents := make([]*models.Agent, 0, len(files))

	for _, file := range files {
		var agent models.Agent

		err := r.store.readJSON(file, &agent, persistence.ErrAgentNotFound)
		if err != nil {
			return nil, err
		}

		agents = append(agents, &agent)
	}

	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})

	return agents, nil
}

func (r *AgentRepository) Delete(_ context.Context, tenantID, id string) error {
	if validateID(tenantID) != nil || validateID(id) != nil {
		return persistence.ErrAgentNotFound
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := os.Remove(r.path(tenantID, id))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.ErrAgentNotFound
	}

	return err
}

type OrchestrationRepository struct {
	store *store
}

func (r *OrchestrationRepository) path(tenantID string) string {
	return r.store.path("orchestrations", tenantID+".json")
}

func (r *OrchestrationRepository) Save(_ context.Context, orchestration *models.AgentOrchestration) error {
	if err := validateID(orchestration.TenantID); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeJSON(r.path(orchestration.TenantID), orchestration)
}

func (r *OrchestrationRepository) Get(_ context.Context, tenantID string) (*models.AgentOrchestration, error) {
	if validateID(tenantID) != nil {
		return nil, persistence.ErrOrchestrationNotFound
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var orchestration models.AgentOrchestration

	err := r.store.readJSON(r.path(tenantID), &orchestration, persistence.ErrOrchestrationNotFound)
	if err != nil {
		return nil, err
	}

	return &orchestration, nil
}

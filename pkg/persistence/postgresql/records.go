package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	document, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_templates (id, name, category, published_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, template.ID, template.Name, template.Category, template.PublishedAt, document)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrTemplateAlreadyExists
	}

	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflow_templates WHERE id = $1`, id)

	return scanDocument[models.WorkflowTemplate](row, persistence.ErrTemplateNotFound)
}

func (r *TemplateRepository) List(ctx context.Context, category string) ([]*models.WorkflowTemplate, error) {
	return queryDocuments[models.WorkflowTemplate](ctx, r.db, r.logger, `
		SELECT document
		FROM workflow_templates
		WHERE $1 = '' OR category = $1
		ORDER BY name
	`, category)
}

func (r *TemplateRepository) UpdateStats(ctx context.Context, id string, update func(*models.TemplateStats)) (*models.WorkflowTemplate, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT document FROM workflow_templates WHERE id = $1 FOR UPDATE`, id)

	template, err := scanDocument[models.WorkflowTemplate](row, persistence.ErrTemplateNotFound)
	if err != nil {
		return nil, err
	}

	update(&template.Stats)

	document, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE workflow_templates SET document = $2 WHERE id = $1`, id, document)
	if err != nil {
		return nil, fmt.Errorf("failed to update template stats: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit template stats: %w", err)
	}

	return template, nil
}

type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, tenant_id, status, started_at, updated_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, execution.ID, execution.WorkflowID, execution.TenantID, execution.Status, execution.StartedAt, execution.UpdatedAt, document)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanDocument[models.WorkflowExecution](row, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// Update only touches rows that are not terminal, so the check and write are one statement.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = $2, updated_at = $3, document = $4
		WHERE id = $1 AND status NOT IN ('success', 'failed', 'cancelled')
	`, execution.ID, execution.Status, execution.UpdatedAt, document)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, execution.ID).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if exists {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionTerminal)
	}

	return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return queryDocuments[models.WorkflowExecution](ctx, r.db, r.logger, `
		SELECT document FROM workflow_executions WHERE workflow_id = $1 ORDER BY started_at
	`, workflowID)
}

func (r *ExecutionRepository) CountByWorkflow(ctx context.Context, workflowID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = $1`, workflowID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

type AgentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAgentRepository(db *sql.DB, logger *slog.Logger) *AgentRepository {
	return &AgentRepository{db: db, logger: logger}
}

func (r *AgentRepository) Save(ctx context.Context, agent *models.Agent) error {
	document, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to encode agent: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agents (tenant_id, id, created_at, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET document = EXCLUDED.document
	`, agent.TenantID, agent.ID, agent.CreatedAt, document)
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}

	return nil
}

func (r *AgentRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	return scanDocument[models.Agent](row, persistence.ErrAgentNotFound)
}

func (r *AgentRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	return queryDocuments[models.Agent](ctx, r.db, r.logger, `
		SELECT document FROM agents WHERE tenant_id = $1 ORDER BY created_at, id
	`, tenantID)
}

func (r *AgentRepository) List(ctx context.Context) ([]*models.Agent, error) {
	return queryDocuments[models.Agent](ctx, r.db, r.logger, `SELECT document FROM agents ORDER BY created_at, id`)
}

func (r *AgentRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrAgentNotFound
	}

	return nil
}

type OrchestrationRepository struct {
	db *sql.DB
}

func NewOrchestrationRepository(db *sql.DB) *OrchestrationRepository {
	return &OrchestrationRepository{db: db}
}

func (r *OrchestrationRepository) Save(ctx context.Context, orchestration *models.AgentOrchestration) error {
	document, err := json.Marshal(orchestration)
	if err != nil {
		return fmt.Errorf("failed to encode orchestration: %w", err)
	}

	updatedAt := orchestration.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_orchestrations (tenant_id, updated_at, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET updated_at = EXCLUDED.updated_at, document = EXCLUDED.document
	`, orchestration.TenantID, updatedAt, document)
	if err != nil {
		return fmt.Errorf("failed to save orchestration: %w", err)
	}

	return nil
}

func (r *OrchestrationRepository) Get(ctx context.Context, tenantID string) (*models.AgentOrchestration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM agent_orchestrations WHERE tenant_id = $1`, tenantID)

	orchestration, err := scanDocument[models.AgentOrchestration](row, persistence.ErrOrchestrationNotFound)
	if err != nil && !errors.Is(err, persistence.ErrOrchestrationNotFound) {
		return nil, fmt.Errorf("failed to load orchestration: %w", err)
	}

	return orchestration, err
}

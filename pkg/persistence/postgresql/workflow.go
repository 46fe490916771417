package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// WorkflowRepository stores one row per (workflow, version).
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	document, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	query := `
		INSERT INTO workflows (id, version, tenant_id, schedule, created_at, deleted_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id, version) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id
		  , schedule = EXCLUDED.schedule
		  , deleted_at = EXCLUDED.deleted_at
		  , document = EXCLUDED.document
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Version,
		workflow.TenantID,
		workflow.Schedule,
		workflow.CreatedAt,
		workflow.DeletedAt,
		document,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to save workflow: %w", err))
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	query := `
		SELECT document
		FROM workflows
		WHERE id = $1 AND tenant_id = $2
		ORDER BY version DESC
		LIMIT 1
	`

	workflow, err := scanDocument[models.Workflow](r.db.QueryRowContext(ctx, query, id, tenantID), persistence.ErrWorkflowNotFound)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if workflow.IsDeleted() {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, tenantID, id string, version int) (*models.Workflow, error) {
	query := `SELECT document FROM workflows WHERE id = $1 AND tenant_id = $2 AND version = $3`

	workflow, err := scanDocument[models.Workflow](r.db.QueryRowContext(ctx, query, id, tenantID, version), persistence.ErrWorkflowVersionNotFound)
	if err != nil {
		return nil, &persistence.WorkflowError{Op: "GetVersion", WorkflowID: id, Version: version, Err: err}
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	heads, err := r.heads(ctx, opts.TenantID)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(heads))

	for _, workflow := range heads {
		if workflow.IsDeleted() && !opts.IncludeDeleted {
			continue
		}

		if opts.Tag != "" && !slices.Contains(workflow.Tags, opts.Tag) {
			continue
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (r *WorkflowRepository) ListScheduled(ctx context.Context) ([]*models.Workflow, error) {
	heads, err := r.heads(ctx, "")
	if err != nil {
		return nil, err
	}

	scheduled := make([]*models.Workflow, 0)

	for _, workflow := range heads {
		if workflow.Schedule != "" && !workflow.IsDeleted() {
			scheduled = append(scheduled, workflow)
		}
	}

	return scheduled, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, fmt.Errorf("failed to delete workflow: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// heads returns the latest version of every workflow, optionally for one tenant.
func (r *WorkflowRepository) heads(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	query := `
		SELECT DISTINCT ON (id) document
		FROM workflows
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY id, version DESC
	`

	heads, err := queryDocuments[models.Workflow](ctx, r.db, r.logger, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.SliceStable(heads, func(i, j int) bool {
		return heads[i].CreatedAt.Before(heads[j].CreatedAt)
	})

	return heads, nil
}

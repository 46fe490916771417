package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// WorkflowRepository keeps one directory per workflow with one file per version.
type WorkflowRepository struct {
	store *store
}

func (r *WorkflowRepository) dir(id string) string {
	return r.store.path("workflows", id)
}

func (r *WorkflowRepository) versionPath(id string, version int) string {
	return filepath.Join(r.dir(id), "v"+strconv.Itoa(version)+".json")
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	err := validateID(workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if workflow.Version < 1 {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("version must be positive, got %d", workflow.Version))
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeJSON(r.versionPath(workflow.ID, workflow.Version), workflow)
}

func (r *WorkflowRepository) GetByID(_ context.Context, tenantID, id string) (*models.Workflow, error) {
	if validateID(id) != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflow, err := r.head(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if workflow.TenantID != tenantID || workflow.IsDeleted() {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetVersion(_ context.Context, tenantID, id string, version int) (*models.Workflow, error) {
	if validateID(id) != nil {
		return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var workflow models.Workflow

	err := r.store.readJSON(r.versionPath(id, version), &workflow, persistence.ErrWorkflowVersionNotFound)
	if err != nil {
		return nil, &persistence.WorkflowError{Op: "GetVersion", WorkflowID: id, Version: version, Err: err}
	}

	if workflow.TenantID != tenantID {
		return nil, &persistence.WorkflowError{Op: "GetVersion", WorkflowID: id, Version: version, Err: persistence.ErrWorkflowVersionNotFound}
	}

	return &workflow, nil
}

func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	heads, err := r.heads()
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(heads))

	for _, workflow := range heads {
		if opts.TenantID != "" && workflow.TenantID != opts.TenantID {
			continue
		}

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

func (r *WorkflowRepository) ListScheduled(_ context.Context) ([]*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	heads, err := r.heads()
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

func (r *WorkflowRepository) Delete(_ context.Context, tenantID, id string) error {
	if validateID(id) != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	workflow, err := r.head(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if workflow.TenantID != tenantID {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	err = os.RemoveAll(r.dir(id))
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

// heads returns the latest version of every workflow, ordered by creation time.
func (r *WorkflowRepository) heads() ([]*models.Workflow, error) {
	entries, err := os.ReadDir(r.store.path("workflows"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	heads := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		workflow, err := r.head(entry.Name())
		if err != nil {
			if errors.Is(err, persistence.ErrWorkflowNotFound) {
				continue
			}

			return nil, err
		}

		heads = append(heads, workflow)
	}

	sort.SliceStable(heads, func(i, j int) bool {
		return heads[i].CreatedAt.Before(heads[j].CreatedAt)
	})

	return heads, nil
}

func (r *WorkflowRepository) head(id string) (*models.Workflow, error) {
	files, err := r.store.jsonFiles(r.dir(id))
	if err != nil {
		return nil, err
	}

	latest := 0

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".json")

		version, err := strconv.Atoi(strings.TrimPrefix(name, "v"))
		if err == nil && version > latest {
			latest = version
		}
	}

	if latest == 0 {
		return nil, persistence.ErrWorkflowNotFound
	}

	var workflow models.Workflow

	err = r.store.readJSON(r.versionPath(id, latest), &workflow, persistence.ErrWorkflowNotFound)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

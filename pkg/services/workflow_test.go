package services

import (
	"testing"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflow(t *testing.T) {
	persistence := file.NewPersistence(t.TempDir())
	service := NewWorkflow(persistence)

	assert.NotNil(t, service)
	assert.Equal(t, persistence, service.persistence)

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}

func TestWorkflow_Create(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	workflow := testutil.CreateTestWorkflow(func(w *models.Workflow) {
		w.ID = ""
		w.Version = 0
	})

	created, err := service.Create(t.Context(), workflow)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := service.FetchByID(t.Context(), workflow.TenantID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lead intake", fetched.Name)
}

func TestWorkflow_CreateValidation(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	tests := []struct {
		name     string
		workflow *models.Workflow
		want     error
	}{
		{"nil workflow", nil, ErrWorkflowNil},
		{"missing tenant", testutil.CreateTestWorkflow(func(w *models.Workflow) { w.TenantID = " " }), ErrTenantRequired},
		{"short name", testutil.CreateTestWorkflow(func(w *models.Workflow) { w.Name = "ab" }), ErrWorkflowNameRequired},
		{"cycle", testutil.CreateTestWorkflow(func(w *models.Workflow) {
			w.Connections = append(w.Connections, &models.Connection{ID: "back", Source: "notify", Target: "qualify"})
		}), ErrInvalidGraph},
		{"dangling connection", testutil.CreateTestWorkflow(func(w *models.Workflow) {
			w.Connections = append(w.Connections, &models.Connection{ID: "ghost", Source: "notify", Target: "nowhere"})
		}), ErrInvalidGraph},
		{"bad schedule", testutil.CreateTestWorkflow(func(w *models.Workflow) { w.Schedule = "every tuesday" }), ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(t.Context(), tt.workflow)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestWorkflow_CreateKeepsNodeConfigLazy(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	// An agent-task without a task text is rejected when it runs, not when it is saved.
	workflow := testutil.CreateTestWorkflow(func(w *models.Workflow) {
		w.Nodes[1].Config = &models.AgentTaskConfig{Role: models.RoleSpecialist}
	})

	_, err := service.Create(t.Context(), workflow)
	require.NoError(t, err)
}

func TestWorkflow_UpdateCreatesNewVersion(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	created, err := service.Create(t.Context(), testutil.CreateTestWorkflow())
	require.NoError(t, err)

	edit := testutil.CreateTestWorkflow(func(w *models.Workflow) {
		w.Name = "Lead intake v2"
		w.Nodes = w.Nodes[:2]
		w.Connections = w.Connections[:1]
	})

	updated, err := service.Update(t.Context(), created.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	head, err := service.FetchByID(t.Context(), created.TenantID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lead intake v2", head.Name)
	assert.Len(t, head.Nodes, 2)

	v1, err := service.FetchVersion(t.Context(), created.TenantID, created.ID, 1)
	require.NoError(t, err)
	assert.Len(t, v1.Nodes, 3)

	_, err = service.Update(t.Context(), "missing", testutil.CreateTestWorkflow())
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_DeleteTombstonesWhenExecutionsExist(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	service := NewWorkflow(p)

	referenced, err := service.Create(t.Context(), testutil.CreateTestWorkflow())
	require.NoError(t, err)

	require.NoError(t, p.ExecutionRepository().Create(t.Context(), testutil.CreateTestExecution(func(e *models.WorkflowExecution) {
		e.WorkflowID = referenced.ID
	})))

	tombstoned, err := service.Delete(t.Context(), referenced.TenantID, referenced.ID)
	require.NoError(t, err)
	assert.True(t, tombstoned)

	_, err = service.FetchByID(t.Context(), referenced.TenantID, referenced.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	// The version executions are bound to is still readable.
	_, err = service.FetchVersion(t.Context(), referenced.TenantID, referenced.ID, 1)
	require.NoError(t, err)

	listed, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{TenantID: referenced.TenantID, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].IsDeleted())

	unreferenced, err := service.Create(t.Context(), testutil.CreateTestWorkflow())
	require.NoError(t, err)

	tombstoned, err = service.Delete(t.Context(), unreferenced.TenantID, unreferenced.ID)
	require.NoError(t, err)
	assert.False(t, tombstoned)

	_, err = service.FetchVersion(t.Context(), unreferenced.TenantID, unreferenced.ID, 1)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflow_ListRequiresTenant(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()))

	_, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{})
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestWorkflow_ListExecutionsFiltersTenant(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	service := NewWorkflow(p)

	workflow, err := service.Create(t.Context(), testutil.CreateTestWorkflow())
	require.NoError(t, err)

	for _, tenant := range []string{workflow.TenantID, "other-tenant"} {
		require.NoError(t, p.ExecutionRepository().Create(t.Context(), testutil.CreateTestExecution(func(e *models.WorkflowExecution) {
			e.WorkflowID = workflow.ID
			e.TenantID = tenant
		})))
	}

	executions, err := service.ListExecutions(t.Context(), workflow.TenantID, workflow.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, workflow.TenantID, executions[0].TenantID)

	_, err = service.ListExecutions(t.Context(), "", workflow.ID)
	assert.ErrorIs(t, err, ErrTenantRequired)
}

package services

import (
	"testing"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_PublishAndDeploy(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	templates := NewTemplates(p)

	published, err := templates.Publish(t.Context(), testutil.CreateTestTemplate(func(tpl *models.WorkflowTemplate) {
		tpl.ID = ""
		tpl.Stats.TimesDeployed = 42
	}))
	require.NoError(t, err)
	require.NotEmpty(t, published.ID)
	assert.Zero(t, published.Stats.TimesDeployed)

	first, err := templates.Deploy(t.Context(), published.ID, DeployRequest{TenantID: "acme", CreatedBy: "ana"})
	require.NoError(t, err)

	second, err := templates.Deploy(t.Context(), published.ID, DeployRequest{TenantID: "acme", Name: "Second intake"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, first.FromTemplate)
	assert.Equal(t, published.ID, first.TemplateID)
	assert.Equal(t, "acme", first.TenantID)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "Second intake", second.Name)

	// Editing a deployed copy leaves the template snapshot alone.
	first.Nodes[0].Name = "changed"

	stored, err := templates.FetchByID(t.Context(), published.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Stats.TimesDeployed)
	assert.Equal(t, "New lead webhook", stored.Nodes[0].Name)

	_, err = p.WorkflowRepository().GetByID(t.Context(), "acme", second.ID)
	require.NoError(t, err)
}

func TestTemplates_PublishValidation(t *testing.T) {
	templates := NewTemplates(file.NewPersistence(t.TempDir()))

	_, err := templates.Publish(t.Context(), testutil.CreateTestTemplate(func(tpl *models.WorkflowTemplate) { tpl.Category = "" }))
	assert.ErrorIs(t, err, ErrTemplateNameRequired)

	_, err = templates.Publish(t.Context(), testutil.CreateTestTemplate(func(tpl *models.WorkflowTemplate) { tpl.Nodes = nil }))
	assert.ErrorIs(t, err, ErrTemplateNodesRequired)

	tpl := testutil.CreateTestTemplate()
	_, err = templates.Publish(t.Context(), tpl)
	require.NoError(t, err)

	_, err = templates.Publish(t.Context(), testutil.CreateTestTemplate(func(again *models.WorkflowTemplate) { again.ID = tpl.ID }))
	assert.True(t, IsConflictError(err))
}

func TestTemplates_RecordOutcome(t *testing.T) {
	templates := NewTemplates(file.NewPersistence(t.TempDir()))

	published, err := templates.Publish(t.Context(), testutil.CreateTestTemplate())
	require.NoError(t, err)

	_, err = templates.RecordOutcome(t.Context(), published.ID, true, 4)
	require.NoError(t, err)

	updated, err := templates.RecordOutcome(t.Context(), published.ID, false, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Stats.Executions)
	assert.InDelta(t, 0.5, updated.Stats.AverageSuccessRate, 1e-9)
	assert.InDelta(t, 3.0, updated.Stats.AverageROI, 1e-9)

	_, err = templates.RecordOutcome(t.Context(), "missing", true, 1)
	assert.True(t, IsNotFoundError(err))

	_, err = templates.Deploy(t.Context(), published.ID, DeployRequest{})
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestTemplates_ListByCategory(t *testing.T) {
	templates := NewTemplates(file.NewPersistence(t.TempDir()))

	_, err := templates.Publish(t.Context(), testutil.CreateTestTemplate())
	require.NoError(t, err)
	_, err = templates.Publish(t.Context(), testutil.CreateTestTemplate(func(tpl *models.WorkflowTemplate) { tpl.Category = "nurture" }))
	require.NoError(t, err)

	nurture, err := templates.List(t.Context(), "nurture")
	require.NoError(t, err)
	assert.Len(t, nurture, 1)

	all, err := templates.List(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

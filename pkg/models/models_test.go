package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_UnmarshalTypedConfigKeepsUnknownKeys(t *testing.T) {
	t.Parallel()

	raw := `{
		"id": "score",
		"name": "Score lead",
		"kind": "agent-task",
		"enabled": true,
		"config": {"role": "specialist", "task": "score", "ui_color": "#ff0000", "legacy": {"a": 1}}
	}`

	var node models.Node

	require.NoError(t, json.Unmarshal([]byte(raw), &node))

	cfg, ok := node.Config.(*models.AgentTaskConfig)
	require.True(t, ok)
	assert.Equal(t, models.RoleSpecialist, cfg.Role)
	assert.Equal(t, "score", cfg.Task)
	assert.Equal(t, models.RoleSpecialist, node.AgentRole())

	assert.Equal(t, "#ff0000", node.Extra["ui_color"])
	assert.Contains(t, node.Extra, "legacy")
	assert.NotContains(t, node.Extra, "role")

	data, err := json.Marshal(node)
	require.NoError(t, err)

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(data, &decoded))

	config := decoded["config"].(map[string]any)
	assert.Equal(t, "#ff0000", config["ui_color"])
	assert.Equal(t, "specialist", config["role"])
}

func TestNode_UnknownKindKeepsConfigAsExtra(t *testing.T) {
	t.Parallel()

	var node models.Node

	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","kind":"teleport","config":{"to":"mars"}}`), &node))

	assert.Nil(t, node.Config)
	assert.Equal(t, "mars", node.Extra["to"])
	assert.False(t, node.Kind.IsValid())
}

func TestNode_ValidateConfigIsLazy(t *testing.T) {
	t.Parallel()

	validate := validator.New(validator.WithRequiredStructEnabled())

	var node models.Node

	// An empty http-call config is accepted when decoding.
	require.NoError(t, json.Unmarshal([]byte(`{"id":"call","kind":"http-call","config":{}}`), &node))

	err := node.ValidateConfig(validate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL")

	node.Config = &models.HTTPCallConfig{URL: "https://example.com", Method: "POST"}
	require.NoError(t, node.ValidateConfig(validate))

	node.Config = &models.EmailSendConfig{}
	require.ErrorIs(t, node.ValidateConfig(validate), models.ErrConfigKindMismatch)
}

func TestGuard_Evaluate(t *testing.T) {
	t.Parallel()

	output := map[string]any{
		"score":     float64(72),
		"qualified": true,
		"lead":      map[string]any{"city": "Lisbon", "budget": "350000"},
		"empty":     "",
	}

	tests := []struct {
		name  string
		guard models.Guard
		want  bool
	}{
		{"gte number", models.Guard{Field: "score", Operator: models.OpGreaterOrEqual, Value: 70}, true},
		{"lt number", models.Guard{Field: "score", Operator: models.OpLess, Value: 70}, false},
		{"eq nested string", models.Guard{Field: "lead.city", Operator: models.OpEqual, Value: "Lisbon"}, true},
		{"ne nested string", models.Guard{Field: "lead.city", Operator: models.OpNotEqual, Value: "Porto"}, true},
		{"gt numeric string", models.Guard{Field: "lead.budget", Operator: models.OpGreater, Value: 300000}, true},
		{"exists", models.Guard{Field: "lead.city", Operator: models.OpExists}, true},
		{"missing does not exist", models.Guard{Field: "lead.phone", Operator: models.OpExists}, false},
		{"truthy bool", models.Guard{Field: "qualified", Operator: models.OpTruthy}, true},
		{"empty string is falsy", models.Guard{Field: "empty", Operator: models.OpTruthy}, false},
		{"missing field is falsy", models.Guard{Field: "nope", Operator: models.OpTruthy}, false},
		{"missing field fails comparison", models.Guard{Field: "nope", Operator: models.OpGreater, Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.guard.Evaluate(output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_EvaluateErrors(t *testing.T) {
	t.Parallel()

	output := map[string]any{"city": "Lisbon"}

	_, err := (&models.Guard{Field: "city", Operator: "like"}).Evaluate(output)
	require.ErrorIs(t, err, models.ErrUnknownOperator)

	_, err = (&models.Guard{Field: "city", Operator: models.OpGreater, Value: 3}).Evaluate(output)
	require.ErrorIs(t, err, models.ErrNotComparable)
}

func TestExecutionStatus_Transitions(t *testing.T) {
	t.Parallel()

	assert.True(t, models.ExecutionPending.CanTransitionTo(models.ExecutionRunning))
	assert.True(t, models.ExecutionPending.CanTransitionTo(models.ExecutionCancelled))
	assert.True(t, models.ExecutionRunning.CanTransitionTo(models.ExecutionRetrying))
	assert.True(t, models.ExecutionRetrying.CanTransitionTo(models.ExecutionRunning))
	assert.True(t, models.ExecutionRetrying.CanTransitionTo(models.ExecutionFailed))

	assert.False(t, models.ExecutionRetrying.CanTransitionTo(models.ExecutionSuccess))
	assert.False(t, models.ExecutionPending.CanTransitionTo(models.ExecutionSuccess))

	for _, terminal := range []models.ExecutionStatus{models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionCancelled} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransitionTo(models.ExecutionRunning))
		assert.False(t, terminal.CanTransitionTo(models.ExecutionCancelled))
	}
}

func TestWorkflowTemplate_InstantiateCopiesGraph(t *testing.T) {
	t.Parallel()

	tmpl := &models.WorkflowTemplate{
		ID:       "tmpl-1",
		Name:     "Lead follow-up",
		Category: "follow-up",
		Nodes: []*models.Node{
			{ID: "hook", Kind: models.KindWebhookTrigger, Enabled: true, Config: &models.WebhookTriggerConfig{}},
			{ID: "mail", Kind: models.KindEmailSend, Enabled: true, Config: &models.EmailSendConfig{To: "a@b.c", Subject: "hi"}},
		},
		Connections: []*models.Connection{{ID: "c1", Source: "hook", Target: "mail"}},
		Tags:        []string{"email"},
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	workflow, err := tmpl.Instantiate("wf-new", "tenant-a", "alice", now)
	require.NoError(t, err)

	assert.Equal(t, "wf-new", workflow.ID)
	assert.Equal(t, "tenant-a", workflow.TenantID)
	assert.True(t, workflow.FromTemplate)
	assert.Equal(t, "tmpl-1", workflow.TemplateID)
	assert.Equal(t, 1, workflow.Version)
	require.Len(t, workflow.Nodes, 2)

	workflow.Nodes[1].Config.(*models.EmailSendConfig).Subject = "changed"
	assert.Equal(t, "hi", tmpl.Nodes[1].Config.(*models.EmailSendConfig).Subject)
}

func TestTemplateStats_RecordOutcome(t *testing.T) {
	t.Parallel()

	var stats models.TemplateStats

	stats.RecordOutcome(true, 100)
	stats.RecordOutcome(false, 0)
	stats.RecordOutcome(true, 50)

	assert.Equal(t, int64(3), stats.Executions)
	assert.Equal(t, int64(2), stats.Successes)
	assert.InDelta(t, 2.0/3.0, stats.AverageSuccessRate, 1e-9)
	assert.InDelta(t, 50.0, stats.AverageROI, 1e-9)
}

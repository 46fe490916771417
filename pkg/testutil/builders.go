// Package testutil provides test data builders with overridable defaults.
package testutil

import (
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/google/uuid"
)

// LeadIntakeNodes returns the trigger -> agent-task -> email-send chain used across tests.
func LeadIntakeNodes() ([]*models.Node, []*models.Connection) {
	nodes := []*models.Node{
		{
			ID:      "trigger",
			Name:    "New lead webhook",
			Kind:    models.KindWebhookTrigger,
			Enabled: true,
			Config:  &models.WebhookTriggerConfig{Method: "POST"},
		},
		{
			ID:      "qualify",
			Name:    "Qualify lead",
			Kind:    models.KindAgentTask,
			Enabled: true,
			Config:  &models.AgentTaskConfig{Role: models.RoleSpecialist, Task: "qualify"},
		},
		{
			ID:      "notify",
			Name:    "Email agent",
			Kind:    models.KindEmailSend,
			Enabled: true,
			Config:  &models.EmailSendConfig{To: "agent@example.com", Subject: "New lead"},
		},
	}

	connections := []*models.Connection{
		{ID: "c1", Source: "trigger", Target: "qualify"},
		{ID: "c2", Source: "qualify", Target: "notify"},
	}

	return nodes, connections
}

// CreateTestWorkflow creates a valid lead intake workflow that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	nodes, connections := LeadIntakeNodes()
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Lead intake",
		Description: "Qualify and notify",
		TenantID:    "tenant-test",
		CreatedBy:   "tester",
		Version:     1,
		Nodes:       nodes,
		Connections: connections,
		Tags:        []string{"leads"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// CreateTestTemplate creates a publishable template that can be overridden.
func CreateTestTemplate(overrides ...func(*models.WorkflowTemplate)) *models.WorkflowTemplate {
	nodes, connections := LeadIntakeNodes()

	template := &models.WorkflowTemplate{
		ID:            uuid.New().String(),
		Name:          "Lead intake template",
		Description:   "Qualify inbound leads",
		Category:      "lead-intake",
		SampleUseCase: "Website contact form",
		Nodes:         nodes,
		Connections:   connections,
		PublishedAt:   time.Now().UTC(),
	}

	for _, override := range overrides {
		override(template)
	}

	return template
}

// CreateTestExecution creates a pending execution that can be overridden.
func CreateTestExecution(overrides ...func(*models.WorkflowExecution)) *models.WorkflowExecution {
	now := time.Now().UTC()

	execution := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      "wf-test",
		WorkflowVersion: 1,
		TenantID:        "tenant-test",
		TriggerSource:   models.TriggerUser,
		Status:          models.ExecutionPending,
		NodeStates:      map[string]models.NodeState{},
		NodeOutputs:     map[string]map[string]any{},
		StartedAt:       now,
		UpdatedAt:       now,
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// CreateTestAgent creates an active specialist agent that can be overridden.
func CreateTestAgent(overrides ...func(*models.Agent)) *models.Agent {
	agent := &models.Agent{
		ID:             uuid.New().String(),
		TenantID:       "tenant-test",
		Name:           "Specialist",
		Role:           models.RoleSpecialist,
		Status:         models.AgentActive,
		MaxConcurrency: 2,
		CreatedAt:      time.Now().UTC(),
	}

	for _, override := range overrides {
		override(agent)
	}

	return agent
}

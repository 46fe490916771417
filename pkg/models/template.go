package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TemplateStats aggregates how deployed copies of a template perform.
type TemplateStats struct {
	TimesDeployed      int64   `json:"times_deployed"`
	Executions         int64   `json:"executions"`
	Successes          int64   `json:"successes"`
	AverageSuccessRate float64 `json:"average_success_rate"`
	AverageROI         float64 `json:"average_roi"`
}

// WorkflowTemplate is a published, immutable workflow blueprint.
type WorkflowTemplate struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"            validate:"required,min=3"`
	Description   string        `json:"description"`
	Category      string        `json:"category"        validate:"required"`
	SampleUseCase string        `json:"sample_use_case"`
	Nodes         []*Node       `json:"nodes"           validate:"required,min=1,dive"`
	Connections   []*Connection `json:"connections"     validate:"dive"`
	Tags          []string      `json:"tags,omitempty"`
	Schedule      string        `json:"schedule,omitempty"`
	Stats         TemplateStats `json:"stats"`
	PublishedAt   time.Time     `json:"published_at"`
}

// Instantiate clones the template graph into a new workflow owned by tenantID.
func (t *WorkflowTemplate) Instantiate(id, tenantID, createdBy string, now time.Time) (*Workflow, error) {
	snapshot := struct {
		Nodes       []*Node       `json:"nodes"`
		Connections []*Connection `json:"connections"`
		Tags        []string      `json:"tags"`
	}{t.Nodes, t.Connections, t.Tags}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to copy template %s: %w", t.ID, err)
	}

	err = json.Unmarshal(data, &snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to copy template %s: %w", t.ID, err)
	}

	return &Workflow{
		ID:           id,
		Name:         t.Name,
		Description:  t.Description,
		TenantID:     tenantID,
		CreatedBy:    createdBy,
		Version:      1,
		Nodes:        snapshot.Nodes,
		Connections:  snapshot.Connections,
		FromTemplate: true,
		TemplateID:   t.ID,
		Tags:         snapshot.Tags,
		Schedule:     t.Schedule,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// RecordOutcome folds one execution result of a deployed copy into the stats.
func (s *TemplateStats) RecordOutcome(success bool, roi float64) {
	s.Executions++
	if success {
		s.Successes++
	}

	s.AverageSuccessRate = float64(s.Successes) / float64(s.Executions)
	s.AverageROI += (roi - s.AverageROI) / float64(s.Executions)
}

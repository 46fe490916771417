package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Workflow is a named, versioned graph owned by a tenant.
type Workflow struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"                    validate:"required,min=3"`
	Description  string        `json:"description"`
	TenantID     string        `json:"tenant_id"               validate:"required"`
	CreatedBy    string        `json:"created_by"`
	Version      int           `json:"version"`
	Nodes        []*Node       `json:"nodes"                   validate:"dive"`
	Connections  []*Connection `json:"connections"             validate:"dive"`
	FromTemplate bool          `json:"from_template"`
	TemplateID   string        `json:"template_id,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	// Schedule is an optional standard cron expression.
	Schedule  string     `json:"schedule,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (w *Workflow) Node(id string) *Node {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

func (w *Workflow) IsDeleted() bool {
	return w.DeletedAt != nil
}

// Inbound returns the connections that target nodeID, in declaration order.
func (w *Workflow) Inbound(nodeID string) []*Connection {
	var inbound []*Connection

	for _, conn := range w.Connections {
		if conn.Target == nodeID {
			inbound = append(inbound, conn)
		}
	}

	return inbound
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to clone workflow %s: %w", w.ID, err)
	}

	var clone Workflow

	err = json.Unmarshal(data, &clone)
	if err != nil {
		return nil, fmt.Errorf("failed to clone workflow %s: %w", w.ID, err)
	}

	return &clone, nil
}

// Package triggers holds the ingress sources that start executions without an API call.
package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/leadflow/pkg/engine"
)

// Runner starts an execution of the head version of a workflow.
type Runner interface {
	Run(ctx context.Context, workflowID string, req engine.RunRequest) (string, error)
}

var ErrInvalidItem = errors.New("invalid run request")

// Item is the JSON run request producers push to queue and topic ingress.
type Item struct {
	WorkflowID string         `json:"workflow_id"`
	TenantID   string         `json:"tenant_id"`
	Input      map[string]any `json:"input"`
}

func DecodeItem(raw []byte) (Item, error) {
	var item Item

	err := json.Unmarshal(raw, &item)
	if err != nil {
		return item, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	if item.WorkflowID == "" || item.TenantID == "" {
		return item, fmt.Errorf("%w: workflow_id and tenant_id are required", ErrInvalidItem)
	}

	if item.Input == nil {
		item.Input = map[string]any{}
	}

	return item, nil
}

// Package protocol defines the contract between the execution engine and node handlers.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

// Request carries everything a handler needs to run one node.
type Request struct {
	ExecutionID string
	WorkflowID  string
	TenantID    string
	Node        *models.Node
	// Inbound is the data resolved from predecessor outputs, or the trigger input for triggers.
	Inbound map[string]any
	Timeout time.Duration
	Attempt int
}

// Handler runs one node kind. Implementations must honour ctx cancellation.
type Handler interface {
	Handle(ctx context.Context, req Request) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, req Request) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (map[string]any, error) {
	return f(ctx, req)
}

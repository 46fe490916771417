package dispatcher

import (
	"context"
	"fmt"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/template"
)

// Handler returns the protocol handler for agent-task nodes.
func (d *Dispatcher) Handler() protocol.Handler {
	return protocol.HandlerFunc(func(ctx context.Context, req protocol.Request) (map[string]any, error) {
		config, ok := req.Node.Config.(*models.AgentTaskConfig)
		if !ok {
			return nil, &protocol.StructuralError{
				WorkflowID: req.WorkflowID,
				NodeID:     req.Node.ID,
				Err:        fmt.Errorf("%w: want %s", models.ErrConfigKindMismatch, models.KindAgentTask),
			}
		}

		data := template.Data(req.ExecutionID, req.WorkflowID, req.TenantID, req.Inbound)

		task, err := template.RenderString(config.Task, data)
		if err != nil {
			return nil, &protocol.StructuralError{WorkflowID: req.WorkflowID, NodeID: req.Node.ID, Err: err}
		}

		instructions, err := template.RenderString(config.Instructions, data)
		if err != nil {
			return nil, &protocol.StructuralError{WorkflowID: req.WorkflowID, NodeID: req.Node.ID, Err: err}
		}

		return d.Dispatch(ctx, req.TenantID, config.Role, Task{
			ExecutionID:  req.ExecutionID,
			WorkflowID:   req.WorkflowID,
			NodeID:       req.Node.ID,
			Role:         config.Role,
			Task:         task,
			Instructions: instructions,
			Input:        req.Inbound,
		})
	})
}

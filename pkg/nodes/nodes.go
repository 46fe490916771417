// Package nodes holds the integration adapters that run non-agent node kinds.
package nodes

import (
	"fmt"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/template"
)

// Config returns the typed configuration of the request node, or a StructuralError when it has another kind.
func Config[T models.NodeConfig](req protocol.Request) (T, error) {
	config, ok := req.Node.Config.(T)
	if !ok {
		var zero T

		return zero, &protocol.StructuralError{
			WorkflowID: req.WorkflowID,
			NodeID:     req.Node.ID,
			Err:        fmt.Errorf("%w: got %T", models.ErrConfigKindMismatch, req.Node.Config),
		}
	}

	return config, nil
}

// Data is the template root for the request.
func Data(req protocol.Request) map[string]any {
	return template.Data(req.ExecutionID, req.WorkflowID, req.TenantID, req.Inbound)
}

// Render renders one configuration string. A template that does not parse is a structural problem.
func Render(req protocol.Request, value string) (string, error) {
	rendered, err := template.RenderString(value, Data(req))
	if err != nil {
		return "", &protocol.StructuralError{WorkflowID: req.WorkflowID, NodeID: req.Node.ID, Err: err}
	}

	return rendered, nil
}

// RenderMap renders every value of a configuration map.
func RenderMap(req protocol.Request, values map[string]string) (map[string]string, error) {
	rendered, err := template.RenderMap(values, Data(req))
	if err != nil {
		return nil, &protocol.StructuralError{WorkflowID: req.WorkflowID, NodeID: req.Node.ID, Err: err}
	}

	return rendered, nil
}

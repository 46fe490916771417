// Package portalsync provides the external-portal-sync node, which pushes a listing to a portal endpoint.
package portalsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/nodes/httpcall"
	"github.com/dukex/leadflow/pkg/protocol"
)

type Node struct {
	client *httpcall.Client
}

func New(client *httpcall.Client) *Node {
	if client == nil {
		client = httpcall.NewClient(nil)
	}

	return &Node{client: client}
}

type payload struct {
	Portal      string         `json:"portal"`
	ExecutionID string         `json:"execution_id"`
	TenantID    string         `json:"tenant_id"`
	Listing     map[string]any `json:"listing"`
}

func (n *Node) Handle(ctx context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.PortalSyncConfig](req)
	if err != nil {
		return nil, err
	}

	headers, err := nodes.RenderMap(req, config.Headers)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload{
		Portal:      config.Portal,
		ExecutionID: req.ExecutionID,
		TenantID:    req.TenantID,
		Listing:     listing(req.Inbound, config.Fields),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode listing: %w", err)
	}

	response, err := n.client.Do(ctx, http.MethodPost, config.Endpoint, headers, string(body))
	if err != nil {
		return nil, fmt.Errorf("sync to %s failed: %w", config.Portal, err)
	}

	output := map[string]any{
		"portal":      config.Portal,
		"synced":      true,
		"status_code": response["status_code"],
	}

	if parsed, ok := response["json"]; ok {
		output["response"] = parsed
	}

	return output, nil
}

// listing keeps only fields when any are configured. Dotted fields are flattened to their path.
func listing(inbound map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return inbound
	}

	selected := make(map[string]any, len(fields))

	for _, field := range fields {
		if value, ok := models.Lookup(inbound, field); ok {
			selected[field] = value
		}
	}

	return selected
}

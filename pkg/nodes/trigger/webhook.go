// Package trigger provides the webhook-trigger node, the entry point of an execution chain.
package trigger

import (
	"context"
	"maps"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
)

// Webhook passes the trigger input through as the node output.
type Webhook struct{}

func NewWebhook() *Webhook {
	return &Webhook{}
}

func (*Webhook) Handle(_ context.Context, req protocol.Request) (map[string]any, error) {
	_, err := nodes.Config[*models.WebhookTriggerConfig](req)
	if err != nil {
		return nil, err
	}

	output := make(map[string]any, len(req.Inbound))
	maps.Copy(output, req.Inbound)

	return output, nil
}

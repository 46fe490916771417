// Package clientmessage provides the client-message node. It queues outbound messages on a watermill
// topic for the delivery workers of each channel.
package clientmessage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/google/uuid"
)

type Node struct {
	publisher message.Publisher
	topic     string
}

func New(publisher message.Publisher) *Node {
	return &Node{publisher: publisher, topic: events.OutboundMessageTopic}
}

func (n *Node) Handle(ctx context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.ClientMessageConfig](req)
	if err != nil {
		return nil, err
	}

	recipient, err := nodes.Render(req, config.Recipient)
	if err != nil {
		return nil, err
	}

	text, err := nodes.Render(req, config.Message)
	if err != nil {
		return nil, err
	}

	outbound := events.OutboundMessage{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		ExecutionID: req.ExecutionID,
		NodeID:      req.Node.ID,
		Channel:     config.Channel,
		Recipient:   recipient,
		Message:     text,
		QueuedAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(outbound)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound message: %w", err)
	}

	msg := message.NewMessage(outbound.ID, payload)
	msg.Metadata.Set(events.EventMetadataKey, req.TenantID)
	msg.Metadata.Set("channel", config.Channel)
	msg.SetContext(ctx)

	err = n.publisher.Publish(n.topic, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to queue %s message: %w", config.Channel, err)
	}

	return map[string]any{
		"message_id": outbound.ID,
		"channel":    config.Channel,
		"recipient":  recipient,
		"queued":     true,
	}, nil
}

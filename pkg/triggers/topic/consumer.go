// Package topic starts executions from run requests published on a message bus topic.
package topic

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/triggers"
)

const DefaultRedeliveryDelay = time.Second

// Consumer reads triggers.Item payloads. Requests refused for capacity are nacked for redelivery
// after a delay. Every other outcome is acked.
type Consumer struct {
	logger     *slog.Logger
	subscriber message.Subscriber
	runner     triggers.Runner
	topic      string
	delay      time.Duration
}

func NewConsumer(logger *slog.Logger, subscriber message.Subscriber, runner triggers.Runner) *Consumer {
	return &Consumer{
		logger:     logger.With("module", "topic_trigger", "topic", events.RunRequestTopic),
		subscriber: subscriber,
		runner:     runner,
		topic:      events.RunRequestTopic,
		delay:      DefaultRedeliveryDelay,
	}
}

// Run blocks until ctx is done or the subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "Starting topic consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Topic consumer stopped")

			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	item, err := triggers.DecodeItem(msg.Payload)
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed run request", "message_id", msg.UUID, "error", err)
		msg.Ack()

		return
	}

	executionID, err := c.runner.Run(ctx, item.WorkflowID, engine.RunRequest{
		TenantID: item.TenantID,
		Source:   models.TriggerQueue,
		Input:    item.Input,
	})
	if errors.Is(err, engine.ErrTenantConcurrencyLimit) {
		c.logger.WarnContext(ctx, "Tenant at capacity, redelivering run request", "workflow_id", item.WorkflowID, "tenant_id", item.TenantID)

		select {
		case <-ctx.Done():
		case <-time.After(c.delay):
		}

		msg.Nack()

		return
	}

	if err != nil {
		c.logger.ErrorContext(ctx, "Run request rejected", "workflow_id", item.WorkflowID, "tenant_id", item.TenantID, "error", err)
		msg.Ack()

		return
	}

	c.logger.InfoContext(ctx, "Run request started", "workflow_id", item.WorkflowID, "execution_id", executionID)
	msg.Ack()
}

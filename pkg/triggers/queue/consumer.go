// Package queue consumes run requests pushed onto a Redis list.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/triggers"
	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultQueue = "leadflow:runs"
	pollTimeout  = time.Second
	errorBackoff = time.Second
)

// Consumer pops items with BLPOP and starts one execution per item. Items that can never run go to
// the dead-letter list. Items refused for capacity are pushed back to the tail.
type Consumer struct {
	logger *slog.Logger
	client redis.UniversalClient
	runner triggers.Runner
	queue  string
}

func NewConsumer(logger *slog.Logger, client redis.UniversalClient, runner triggers.Runner, queue string) *Consumer {
	if queue == "" {
		queue = DefaultQueue
	}

	return &Consumer{
		logger: logger.With("module", "queue_trigger", "queue", queue),
		client: client,
		runner: runner,
		queue:  queue,
	}
}

// DeadLetterQueue is the list holding items that were dropped.
func (c *Consumer) DeadLetterQueue() string {
	return c.queue + ":dead"
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Queue consumer stopped")

			return nil
		default:
		}

		err := c.next(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "Error processing queue item", "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
		}
	}
}

func (c *Consumer) next(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, pollTimeout, c.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to pop from %s: %w", c.queue, err)
	}

	if len(result) < 2 {
		return nil
	}

	return c.process(ctx, result[1])
}

func (c *Consumer) process(ctx context.Context, raw string) error {
	item, err := triggers.DecodeItem([]byte(raw))
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed queue item", "error", err)

		return c.deadLetter(ctx, raw)
	}

	executionID, err := c.runner.Run(ctx, item.WorkflowID, engine.RunRequest{
		TenantID: item.TenantID,
		Source:   models.TriggerQueue,
		Input:    item.Input,
	})

	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "Queued run started", "workflow_id", item.WorkflowID, "execution_id", executionID)

		return nil
	case errors.Is(err, engine.ErrTenantConcurrencyLimit), errors.Is(err, engine.ErrShuttingDown):
		c.logger.WarnContext(ctx, "Requeueing run", "workflow_id", item.WorkflowID, "error", err)

		pushErr := c.client.RPush(ctx, c.queue, raw).Err()
		if pushErr != nil {
			return fmt.Errorf("failed to requeue item: %w", pushErr)
		}

		return err
	case persistence.IsWorkflowNotFound(err):
		c.logger.WarnContext(ctx, "Dropping run for unknown workflow", "workflow_id", item.WorkflowID, "tenant_id", item.TenantID)

		return c.deadLetter(ctx, raw)
	default:
		return fmt.Errorf("failed to start workflow %s: %w", item.WorkflowID, err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, raw string) error {
	err := c.client.RPush(ctx, c.DeadLetterQueue(), raw).Err()
	if err != nil {
		return fmt.Errorf("failed to dead-letter item: %w", err)
	}

	return nil
}

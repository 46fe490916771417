package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dukex/leadflow/pkg/triggers"
	"github.com/redis/go-redis/v9"
)

type enqueueRequest struct {
	WorkflowID string
	TenantID   string
	// Input is a JSON object.
	Input string
}

func enqueue(ctx context.Context, redisURL, queue string, req enqueueRequest, w io.Writer) error {
	item := triggers.Item{WorkflowID: req.WorkflowID, TenantID: req.TenantID, Input: map[string]any{}}

	if req.Input != "" {
		err := json.Unmarshal([]byte(req.Input), &item.Input)
		if err != nil {
			return fmt.Errorf("input must be a JSON object: %w", err)
		}
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}

	// Catch what the consumer would dead-letter before it reaches the queue.
	_, err = triggers.DecodeItem(payload)
	if err != nil {
		return err
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)
	defer client.Close()

	length, err := client.RPush(ctx, queue, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue run request: %w", err)
	}

	fmt.Fprintf(w, "queued run of %s for %s (%d waiting)\n", item.WorkflowID, item.TenantID, length)

	return nil
}

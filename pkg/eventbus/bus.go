// Package eventbus carries execution lifecycle events between leadflow components.
package eventbus

import (
	"context"

	"github.com/dukex/leadflow/pkg/events"
)

// Event is anything with a registered events.EventType.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is what the engine needs: key is the partition key, the execution id for
// transitions, so one execution's events stay ordered on partitioned transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes decoded events to one handler per type. Handle must be called before
// Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event, e.g. *events.ExecutionTransitioned.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Package coordinator keeps per-tenant fleet counters by consuming execution transition events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMissingTenant    = errors.New("tenant id is required")
	ErrUnsupportedEvent = errors.New("unsupported event")
)

const defaultSeenCapacity = 10000

type Status struct {
	TenantID        string                 `json:"tenant_id"`
	WorkflowIDs     []string               `json:"workflow_ids"`
	AgentIDs        []string               `json:"agent_ids"`
	RunningCount    int                    `json:"running_count"`
	FailedCount     int64                  `json:"failed_count"`
	LastStatus      models.ExecutionStatus `json:"last_status,omitempty"`
	LastExecutionID string                 `json:"last_execution_id,omitempty"`
}

// seenKey identifies one published transition. Events without an id fall back to their content.
type seenKey struct {
	eventID     string
	executionID string
	from        models.ExecutionStatus
	to          models.ExecutionStatus
	nodeID      string
}

func keyOf(transition events.ExecutionTransitioned) seenKey {
	if transition.ID != "" {
		return seenKey{eventID: transition.ID}
	}

	return seenKey{
		executionID: transition.ExecutionID,
		from:        transition.From,
		to:          transition.To,
		nodeID:      transition.NodeID,
	}
}

type Coordinator struct {
	logger         *slog.Logger
	orchestrations persistence.OrchestrationRepository
	clock          clockwork.Clock

	// mu serializes the read-modify-write of orchestration records.
	mu sync.Mutex
	// seen is a bounded set of processed events, evicted oldest first.
	seen      map[seenKey]struct{}
	seenOrder []seenKey
	seenCap   int
}

func New(logger *slog.Logger, orchestrations persistence.OrchestrationRepository, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Coordinator{
		logger:         logger.With("module", "coordinator"),
		orchestrations: orchestrations,
		clock:          clock,
		seen:           make(map[seenKey]struct{}),
		seenCap:        defaultSeenCapacity,
	}
}

// Subscribe registers the coordinator on the bus. The caller starts the subscriber.
func (c *Coordinator) Subscribe(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ExecutionTransitionedEvent, c.HandleTransition)
}

// Bind sets the workflows and agents of a tenant's orchestration, keeping its counters.
func (c *Coordinator) Bind(ctx context.Context, tenantID string, workflowIDs, agentIDs []string) (*models.AgentOrchestration, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	orchestration, err := c.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	orchestration.WorkflowIDs = unique(workflowIDs)
	orchestration.AgentIDs = unique(agentIDs)
	orchestration.UpdatedAt = c.clock.Now().UTC()

	err = c.orchestrations.Save(ctx, orchestration)
	if err != nil {
		return nil, fmt.Errorf("failed to save orchestration for %s: %w", tenantID, err)
	}

	c.logger.InfoContext(ctx, "Bound orchestration",
		"tenant_id", tenantID,
		"workflows", len(orchestration.WorkflowIDs),
		"agents", len(orchestration.AgentIDs))

	return orchestration, nil
}

// Status reports the counters of a tenant. An unbound tenant reports zeros.
func (c *Coordinator) Status(ctx context.Context, tenantID string) (Status, error) {
	orchestration, err := c.orchestrations.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrOrchestrationNotFound) {
		return Status{TenantID: tenantID, WorkflowIDs: []string{}, AgentIDs: []string{}}, nil
	}

	if err != nil {
		return Status{}, err
	}

	return Status{
		TenantID:        tenantID,
		WorkflowIDs:     orchestration.WorkflowIDs,
		AgentIDs:        orchestration.AgentIDs,
		RunningCount:    orchestration.RunningCount(),
		FailedCount:     orchestration.FailedCount,
		LastStatus:      orchestration.LastStatus,
		LastExecutionID: orchestration.LastExecutionID,
	}, nil
}

// HandleTransition folds one transition into the tenant counters. Redelivered events are ignored.
func (c *Coordinator) HandleTransition(ctx context.Context, event any) error {
	var transition events.ExecutionTransitioned

	switch e := event.(type) {
	case *events.ExecutionTransitioned:
		transition = *e
	case events.ExecutionTransitioned:
		transition = e
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
	}

	key := keyOf(transition)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[key]; dup {
		c.logger.DebugContext(ctx, "Ignoring duplicate transition", "event_id", transition.ID,
			"execution_id", transition.ExecutionID, "to", transition.To)

		return nil
	}

	orchestration, err := c.orchestrations.Get(ctx, transition.TenantID)
	if errors.Is(err, persistence.ErrOrchestrationNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if !slices.Contains(orchestration.WorkflowIDs, transition.WorkflowID) {
		return nil
	}

	apply(orchestration, transition)
	orchestration.UpdatedAt = c.clock.Now().UTC()

	err = c.orchestrations.Save(ctx, orchestration)
	if err != nil {
		return fmt.Errorf("failed to save orchestration for %s: %w", transition.TenantID, err)
	}

	c.remember(key)

	return nil
}

func apply(orchestration *models.AgentOrchestration, transition events.ExecutionTransitioned) {
	running := slices.Contains(orchestration.RunningExecutions, transition.ExecutionID)

	switch {
	case transition.To.IsActive() && !running:
		orchestration.RunningExecutions = append(orchestration.RunningExecutions, transition.ExecutionID)
	case transition.To.IsTerminal() && running:
		orchestration.RunningExecutions = slices.DeleteFunc(orchestration.RunningExecutions, func(id string) bool {
			return id == transition.ExecutionID
		})
	}

	if transition.To == models.ExecutionFailed {
		orchestration.FailedCount++
	}

	orchestration.LastStatus = transition.To
	orchestration.LastExecutionID = transition.ExecutionID
}

func (c *Coordinator) remember(key seenKey) {
	c.seen[key] = struct{}{}
	c.seenOrder = append(c.seenOrder, key)

	if len(c.seenOrder) > c.seenCap {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
}

func (c *Coordinator) load(ctx context.Context, tenantID string) (*models.AgentOrchestration, error) {
	orchestration, err := c.orchestrations.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrOrchestrationNotFound) {
		return &models.AgentOrchestration{TenantID: tenantID, RunningExecutions: []string{}}, nil
	}

	return orchestration, err
}

func unique(ids []string) []string {
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	return out
}

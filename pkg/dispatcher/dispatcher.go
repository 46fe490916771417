// Package dispatcher routes agent-task nodes to the least loaded eligible agent of a tenant.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/leadflow/pkg/metrics"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
)

var (
	ErrNoEligibleAgent    = errors.New("no eligible agent")
	ErrAgentNotRegistered = errors.New("agent not registered")
)

// Task is what an agent receives for one agent-task node.
type Task struct {
	ExecutionID  string           `json:"execution_id"`
	WorkflowID   string           `json:"workflow_id"`
	NodeID       string           `json:"node_id"`
	Role         models.AgentRole `json:"role"`
	Task         string           `json:"task"`
	Instructions string           `json:"instructions,omitempty"`
	Input        map[string]any   `json:"input"`
}

// Executor performs a task on behalf of a concrete agent.
type Executor interface {
	Execute(ctx context.Context, agent models.Agent, task Task) (map[string]any, error)
}

type ExecutorFunc func(ctx context.Context, agent models.Agent, task Task) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, agent models.Agent, task Task) (map[string]any, error) {
	return f(ctx, agent, task)
}

type slot struct {
	agent    models.Agent
	executor Executor
	inFlight int
	order    int
}

func (s *slot) eligible(role models.AgentRole) bool {
	if s.agent.Role != role || s.agent.Status != models.AgentActive {
		return false
	}

	return s.agent.MaxConcurrency == 0 || s.inFlight < s.agent.MaxConcurrency
}

type Dispatcher struct {
	logger   *slog.Logger
	metrics  *metrics.Collector
	validate *validator.Validate

	mu        sync.Mutex
	nextOrder int
	// tenants maps tenant id to agent id to slot.
	tenants map[string]map[string]*slot
}

func New(logger *slog.Logger, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With("module", "dispatcher"),
		metrics:  collector,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tenants:  make(map[string]map[string]*slot),
	}
}

// Register adds agent to the fleet or replaces its definition. A replaced agent keeps its
// registration order and in-flight count.
func (d *Dispatcher) Register(agent models.Agent, executor Executor) error {
	err := d.validate.Struct(agent)
	if err != nil {
		return fmt.Errorf("invalid agent %s: %w", agent.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	agents, ok := d.tenants[agent.TenantID]
	if !ok {
		agents = make(map[string]*slot)
		d.tenants[agent.TenantID] = agents
	}

	if existing, ok := agents[agent.ID]; ok {
		existing.agent = agent
		existing.executor = executor

		return nil
	}

	agents[agent.ID] = &slot{agent: agent, executor: executor, order: d.nextOrder}
	d.nextOrder++

	d.logger.Info("Registered agent", "tenant_id", agent.TenantID, "agent_id", agent.ID, "role", agent.Role)

	return nil
}

func (d *Dispatcher) Deregister(tenantID, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agents := d.tenants[tenantID]
	if _, ok := agents[agentID]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrAgentNotRegistered, tenantID, agentID)
	}

	delete(agents, agentID)

	if len(agents) == 0 {
		delete(d.tenants, tenantID)
	}

	return nil
}

// SetStatus pauses or resumes an agent without dropping its counters.
func (d *Dispatcher) SetStatus(tenantID, agentID string, status models.AgentStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.tenants[tenantID][agentID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrAgentNotRegistered, tenantID, agentID)
	}

	s.agent.Status = status

	return nil
}

// Sync registers every stored agent with executor.
func (d *Dispatcher) Sync(ctx context.Context, agents persistence.AgentRepository, executor Executor) error {
	stored, err := agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	for _, agent := range stored {
		err := d.Register(*agent, executor)
		if err != nil {
			d.logger.WarnContext(ctx, "Skipping invalid agent", "agent_id", agent.ID, "error", err)
		}
	}

	return nil
}

// Dispatch runs task on the least loaded eligible agent. Ties go to the earliest registered.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, role models.AgentRole, task Task) (map[string]any, error) {
	chosen := d.acquire(tenantID, role)
	if chosen == nil {
		return nil, &protocol.DispatchError{NodeID: task.NodeID, Role: string(role), Err: ErrNoEligibleAgent}
	}

	defer d.releaseSlot(tenantID, chosen)

	d.logger.DebugContext(ctx, "Dispatching task",
		"tenant_id", tenantID,
		"agent_id", chosen.agent.ID,
		"execution_id", task.ExecutionID,
		"node_id", task.NodeID)

	return chosen.executor.Execute(ctx, chosen.agent, task)
}

func (d *Dispatcher) acquire(tenantID string, role models.AgentRole) *slot {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *slot

	for _, candidate := range d.tenants[tenantID] {
		if !candidate.eligible(role) {
			continue
		}

		if best == nil ||
			candidate.inFlight < best.inFlight ||
			(candidate.inFlight == best.inFlight && candidate.order < best.order) {
			best = candidate
		}
	}

	if best != nil {
		best.inFlight++
		d.metrics.AgentInFlight(tenantID, best.agent.ID, best.inFlight)
	}

	return best
}

func (d *Dispatcher) releaseSlot(tenantID string, s *slot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s.inFlight--
	d.metrics.AgentInFlight(tenantID, s.agent.ID, s.inFlight)
}

// Load reports in-flight tasks per registered agent of the tenant.
func (d *Dispatcher) Load(tenantID string) map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	load := make(map[string]int, len(d.tenants[tenantID]))
	for id, s := range d.tenants[tenantID] {
		load[id] = s.inFlight
	}

	return load
}

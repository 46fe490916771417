package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Fleet is the live agent roster agent-task nodes are dispatched to.
type Fleet interface {
	Register(agent models.Agent, executor dispatcher.Executor) error
	Deregister(tenantID, agentID string) error
	SetStatus(tenantID, agentID string, status models.AgentStatus) error
}

// Agents stores agents and keeps the fleet in step with storage.
type Agents struct {
	persistence persistence.Persistence
	fleet       Fleet
	executor    dispatcher.Executor
	validate    *validator.Validate
}

func NewAgents(persistence persistence.Persistence, fleet Fleet, executor dispatcher.Executor) *Agents {
	return &Agents{
		persistence: persistence,
		fleet:       fleet,
		executor:    executor,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register stores the agent, assigning an id when empty, and adds it to the fleet.
func (a *Agents) Register(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if agent == nil {
		return nil, ErrInvalidRequest
	}

	if agent.Status == "" {
		agent.Status = models.AgentActive
	}

	err := a.validate.Struct(agent)
	if err != nil {
		return nil, NewValidationError("RegisterAgent", "INVALID_AGENT", err.Error(), ErrInvalidRequest)
	}

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}

	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	err = a.persistence.AgentRepository().Save(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	err = a.fleet.Register(*agent, a.executor)
	if err != nil {
		return nil, fmt.Errorf("failed to register agent %s: %w", agent.ID, err)
	}

	return agent, nil
}

func (a *Agents) List(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}

	return a.persistence.AgentRepository().ListByTenant(ctx, tenantID)
}

func (a *Agents) SetStatus(ctx context.Context, tenantID, agentID string, status models.AgentStatus) (*models.Agent, error) {
	err := a.validate.Var(status, "required,oneof=active paused offline")
	if err != nil {
		return nil, NewValidationError("SetAgentStatus", "INVALID_STATUS", "unknown agent status "+string(status), ErrInvalidRequest)
	}

	agent, err := a.persistence.AgentRepository().GetByID(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	agent.Status = status

	err = a.persistence.AgentRepository().Save(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	err = a.fleet.SetStatus(tenantID, agentID, status)
	if errors.Is(err, dispatcher.ErrAgentNotRegistered) {
		err = a.fleet.Register(*agent, a.executor)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update fleet: %w", err)
	}

	return agent, nil
}

func (a *Agents) Delete(ctx context.Context, tenantID, agentID string) error {
	err := a.persistence.AgentRepository().Delete(ctx, tenantID, agentID)
	if err != nil {
		return err
	}

	err = a.fleet.Deregister(tenantID, agentID)
	if err != nil && !errors.Is(err, dispatcher.ErrAgentNotRegistered) {
		return err
	}

	return nil
}

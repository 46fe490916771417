package services

import (
	"context"
	"testing"

	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/mocks"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAgents_RegisterDispatchesToFleet(t *testing.T) {
	fleet := dispatcher.New(log.Discard(), nil)
	executor := dispatcher.ExecutorFunc(func(_ context.Context, agent models.Agent, _ dispatcher.Task) (map[string]any, error) {
		return map[string]any{"agent": agent.ID}, nil
	})

	agents := NewAgents(file.NewPersistence(t.TempDir()), fleet, executor)

	registered, err := agents.Register(t.Context(), testutil.CreateTestAgent(func(a *models.Agent) {
		a.ID = ""
		a.Status = ""
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, registered.ID)
	assert.Equal(t, models.AgentActive, registered.Status)

	out, err := fleet.Dispatch(t.Context(), registered.TenantID, registered.Role, dispatcher.Task{NodeID: "qualify"})
	require.NoError(t, err)
	assert.Equal(t, registered.ID, out["agent"])

	listed, err := agents.List(t.Context(), registered.TenantID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = agents.SetStatus(t.Context(), registered.TenantID, registered.ID, models.AgentPaused)
	require.NoError(t, err)

	_, err = fleet.Dispatch(t.Context(), registered.TenantID, registered.Role, dispatcher.Task{NodeID: "qualify"})
	assert.ErrorIs(t, err, dispatcher.ErrNoEligibleAgent)

	require.NoError(t, agents.Delete(t.Context(), registered.TenantID, registered.ID))

	_, err = agents.SetStatus(t.Context(), registered.TenantID, registered.ID, models.AgentActive)
	assert.True(t, IsNotFoundError(err))
}

func TestAgents_Validation(t *testing.T) {
	agents := NewAgents(file.NewPersistence(t.TempDir()), dispatcher.New(log.Discard(), nil), nil)

	_, err := agents.Register(t.Context(), testutil.CreateTestAgent(func(a *models.Agent) { a.Role = "broker" }))
	assert.True(t, IsValidationError(err))

	_, err = agents.SetStatus(t.Context(), "t", "a", "sleeping")
	assert.True(t, IsValidationError(err))

	_, err = agents.List(t.Context(), "")
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestAgents_SetStatusRegistersAgentsMissingFromFleet(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	agent := testutil.CreateTestAgent()
	require.NoError(t, p.AgentRepository().Save(t.Context(), agent))

	fleet := &mocks.MockFleet{}
	fleet.On("SetStatus", agent.TenantID, agent.ID, models.AgentPaused).Return(dispatcher.ErrAgentNotRegistered).Once()
	fleet.On("Register", mock.MatchedBy(func(a models.Agent) bool {
		return a.ID == agent.ID && a.Status == models.AgentPaused
	}), mock.Anything).Return(nil).Once()

	updated, err := NewAgents(p, fleet, nil).SetStatus(t.Context(), agent.TenantID, agent.ID, models.AgentPaused)
	require.NoError(t, err)
	assert.Equal(t, models.AgentPaused, updated.Status)
	fleet.AssertExpectations(t)
}

func TestAgents_DeleteToleratesUnregisteredAgents(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	agent := testutil.CreateTestAgent()
	require.NoError(t, p.AgentRepository().Save(t.Context(), agent))

	fleet := &mocks.MockFleet{}
	fleet.On("Deregister", agent.TenantID, agent.ID).Return(dispatcher.ErrAgentNotRegistered).Once()

	require.NoError(t, NewAgents(p, fleet, nil).Delete(t.Context(), agent.TenantID, agent.ID))
	fleet.AssertExpectations(t)
}

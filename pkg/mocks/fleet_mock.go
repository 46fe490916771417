package mocks

import (
	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockFleet is a mock implementation of services.Fleet interface.
type MockFleet struct {
	mock.Mock
}

func (m *MockFleet) Register(agent models.Agent, executor dispatcher.Executor) error {
	args := m.Called(agent, executor)

	return args.Error(0)
}

func (m *MockFleet) Deregister(tenantID, agentID string) error {
	args := m.Called(tenantID, agentID)

	return args.Error(0)
}

func (m *MockFleet) SetStatus(tenantID, agentID string, status models.AgentStatus) error {
	args := m.Called(tenantID, agentID, status)

	return args.Error(0)
}

package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
)

type Action int

const (
	ActionRetry Action = iota + 1
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

type FailureContext struct {
	Execution *models.WorkflowExecution
	Node      *models.Node
	Err       error
}

type Decision struct {
	Action Action
	// Attempt is the number of failed invocations so far, including this one.
	Attempt int
	// Budget is how many retries the failure class allows.
	Budget int
	Delay  time.Duration
}

// LogAppender is the part of the log stream the manager writes to.
type LogAppender interface {
	Append(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error)
}

type attemptKey struct {
	executionID string
	nodeID      string
}

type Manager struct {
	logger *slog.Logger
	logs   LogAppender
	config Config

	mu       sync.Mutex
	attempts map[attemptKey]int
}

func NewManager(logger *slog.Logger, logs LogAppender, config Config) *Manager {
	return &Manager{
		logger:   logger.With("module", "retry"),
		logs:     logs,
		config:   config,
		attempts: make(map[attemptKey]int),
	}
}

// OnNodeFailure records one failed attempt and logs the decision.
func (m *Manager) OnNodeFailure(ctx context.Context, failure FailureContext) (Decision, error) {
	policy := m.config.PolicyFor(failure.Node.Kind)
	key := attemptKey{executionID: failure.Execution.ID, nodeID: failure.Node.ID}

	m.mu.Lock()
	m.attempts[key]++
	attempt := m.attempts[key]
	m.mu.Unlock()

	budget := budgetFor(policy, failure.Err)

	if attempt <= budget {
		delay := policy.Delay(attempt)
		decision := Decision{Action: ActionRetry, Attempt: attempt, Budget: budget, Delay: delay}

		_, err := m.logs.Append(ctx, models.ExecutionLog{
			ExecutionID: failure.Execution.ID,
			NodeID:      failure.Node.ID,
			Level:       models.LevelWarning,
			Message:     fmt.Sprintf("retrying node %s (attempt %d/%d) in %s", failure.Node.ID, attempt, budget, delay),
			Payload:     map[string]any{"attempt": attempt, "budget": budget, "delay_ms": delay.Milliseconds(), "error": failure.Err.Error()},
		})

		return decision, err
	}

	m.logger.InfoContext(ctx, "node exhausted retries",
		"execution_id", failure.Execution.ID,
		"node_id", failure.Node.ID,
		"attempts", attempt,
		"error", failure.Err)

	_, err := m.logs.Append(ctx, models.ExecutionLog{
		ExecutionID: failure.Execution.ID,
		NodeID:      failure.Node.ID,
		Level:       models.LevelError,
		Message:     fmt.Sprintf("node %s failed after %d attempt(s): %v", failure.Node.ID, attempt, failure.Err),
		Payload:     map[string]any{"attempts": attempt, "error": failure.Err.Error()},
	})

	return Decision{Action: ActionFail, Attempt: attempt, Budget: budget}, err
}

func budgetFor(policy Policy, err error) int {
	switch {
	case protocol.IsStructuralError(err):
		return 0
	case protocol.IsDispatchError(err):
		return policy.DispatchRetries
	default:
		return policy.MaxRetries
	}
}

// Attempts returns the failed attempt count recorded for (executionID, nodeID).
func (m *Manager) Attempts(executionID, nodeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempts[attemptKey{executionID: executionID, nodeID: nodeID}]
}

func (m *Manager) Reset(executionID, nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.attempts, attemptKey{executionID: executionID, nodeID: nodeID})
}

// Forget drops every counter of a terminal execution.
func (m *Manager) Forget(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.attempts {
		if key.executionID == executionID {
			delete(m.attempts, key)
		}
	}
}

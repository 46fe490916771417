package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence errors that every backend returns.
var (
	ErrWorkflowNotFound        = errors.New("workflow not found")
	ErrWorkflowVersionNotFound = errors.New("workflow version not found")
	ErrTemplateNotFound        = errors.New("template not found")
	ErrTemplateAlreadyExists   = errors.New("template already exists")
	ErrExecutionNotFound       = errors.New("execution not found")
	ErrExecutionAlreadyExists  = errors.New("execution already exists")
	// ErrExecutionTerminal is returned when updating an execution that already finished.
	ErrExecutionTerminal     = errors.New("execution is terminal")
	ErrLogSequenceConflict   = errors.New("log sequence is not greater than the last one")
	ErrAgentNotFound         = errors.New("agent not found")
	ErrOrchestrationNotFound = errors.New("orchestration not found")
	ErrInvalidID             = errors.New("invalid identifier")
)

// WorkflowError wraps workflow errors with the operation and workflow involved.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Version    int
	Err        error
}

func (e *WorkflowError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for workflow %s version %d: %v", e.Op, e.WorkflowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// ExecutionError wraps execution and log errors with the execution involved.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrWorkflowVersionNotFound)
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsExecutionTerminal(err error) bool {
	return errors.Is(err, ErrExecutionTerminal)
}

func IsAgentNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}

func IsOrchestrationNotFound(err error) bool {
	return errors.Is(err, ErrOrchestrationNotFound)
}

// IsNotFound reports any of the not-found errors.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsTemplateNotFound(err) || IsExecutionNotFound(err) ||
		IsAgentNotFound(err) || IsOrchestrationNotFound(err)
}

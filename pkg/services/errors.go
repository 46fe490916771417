// Package services provides the workflow and template operations used by the API and CLI.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/leadflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest        = errors.New("invalid request")
	ErrWorkflowNil           = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired  = errors.New("workflow name is required")
	ErrTenantRequired        = errors.New("tenant id is required")
	ErrInvalidGraph          = errors.New("workflow graph is invalid")
	ErrInvalidSchedule       = errors.New("invalid cron schedule")
	ErrTemplateNameRequired  = errors.New("template name and category are required")
	ErrTemplateNodesRequired = errors.New("template must have at least one node")

	// Business Logic Conflicts (409 Conflict).
	ErrTemplateExists  = errors.New("template already exists")
	ErrWorkflowDeleted = errors.New("workflow is deleted")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrTenantRequired) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrTemplateNameRequired) ||
		errors.Is(err, ErrTemplateNodesRequired)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrTemplateExists) ||
		errors.Is(err, ErrWorkflowDeleted) ||
		errors.Is(err, persistence.ErrExecutionTerminal)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsTemplateNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		errors.Is(err, persistence.ErrAgentNotFound) ||
		errors.Is(err, persistence.ErrOrchestrationNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

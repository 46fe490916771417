package protocol

import (
	"errors"
	"fmt"
	"time"
)

// StructuralError reports an invalid graph or node configuration. It is never retried.
type StructuralError struct {
	WorkflowID string
	NodeID     string
	Issues     []string
	Err        error
}

func (e *StructuralError) Error() string {
	target := "workflow " + e.WorkflowID
	if e.NodeID != "" {
		target = "node " + e.NodeID
	}

	if e.Err != nil {
		return fmt.Sprintf("structural error in %s: %v", target, e.Err)
	}

	return fmt.Sprintf("structural error in %s: %v", target, e.Issues)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// HandlerError reports that the operation behind a node failed.
type HandlerError struct {
	NodeID string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// DispatchError reports that no agent or integration could service a node.
type DispatchError struct {
	NodeID string
	Role   string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("cannot dispatch node %s to role %s: %v", e.NodeID, e.Role, e.Err)
	}

	return fmt.Sprintf("cannot dispatch node %s: %v", e.NodeID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a handler exceeded its bound.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Timeout)
}

func IsStructuralError(err error) bool {
	var target *StructuralError

	return errors.As(err, &target)
}

func IsHandlerError(err error) bool {
	var target *HandlerError

	return errors.As(err, &target)
}

func IsDispatchError(err error) bool {
	var target *DispatchError

	return errors.As(err, &target)
}

func IsTimeoutError(err error) bool {
	var target *TimeoutError

	return errors.As(err, &target)
}

// Classify wraps a raw handler error into the taxonomy. Errors already
// classified are returned unchanged.
func Classify(nodeID string, err error) error {
	if err == nil {
		return nil
	}

	if IsStructuralError(err) || IsDispatchError(err) || IsTimeoutError(err) || IsHandlerError(err) {
		return err
	}

	return &HandlerError{NodeID: nodeID, Err: err}
}

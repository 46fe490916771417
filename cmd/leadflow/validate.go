package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
)

var ErrInvalidWorkflow = errors.New("workflow is invalid")

// validateWorkflow decodes a workflow definition and reports its graph issues and execution order.
func validateWorkflow(r io.Reader, w io.Writer) error {
	var workflow models.Workflow

	err := json.NewDecoder(r).Decode(&workflow)
	if err != nil {
		return fmt.Errorf("failed to decode workflow: %w", err)
	}

	result := graph.Validate(&workflow)
	if !result.Valid {
		for _, issue := range result.Errors {
			fmt.Fprintln(w, issue.String())
		}

		return fmt.Errorf("%w: %d issue(s)", ErrInvalidWorkflow, len(result.Errors))
	}

	fmt.Fprintf(w, "%s is valid\n", workflow.Name)

	for i, nodeID := range graph.ExecutionOrder(&workflow) {
		fmt.Fprintf(w, "%d. %s\n", i+1, nodeID)
	}

	return nil
}

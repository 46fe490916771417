// Package graph validates workflow graphs and computes their execution order.
package graph

import (
	"fmt"

	"github.com/dukex/leadflow/pkg/models"
)

type IssueCode string

const (
	IssueDuplicateNode       IssueCode = "duplicate_node"
	IssueEmptyNodeID         IssueCode = "empty_node_id"
	IssueUnknownKind         IssueCode = "unknown_kind"
	IssueDuplicateConnection IssueCode = "duplicate_connection"
	IssueDanglingReference   IssueCode = "dangling_reference"
	IssueCycle               IssueCode = "cycle"
	IssueUnreachable         IssueCode = "unreachable"
)

type Issue struct {
	Code         IssueCode `json:"code"`
	NodeID       string    `json:"node_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Message      string    `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// ValidationResult is the outcome of Validate. Warnings never make a workflow invalid.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Validate checks node identity, connection endpoints and acyclicity.
func Validate(workflow *models.Workflow) ValidationResult {
	var result ValidationResult

	index := make(map[string]int, len(workflow.Nodes))

	for i, node := range workflow.Nodes {
		switch {
		case node.ID == "":
			result.Errors = append(result.Errors, Issue{
				Code:    IssueEmptyNodeID,
				Message: fmt.Sprintf("node at position %d has no id", i),
			})

			continue
		case index[node.ID] > 0:
			result.Errors = append(result.Errors, Issue{
				Code:    IssueDuplicateNode,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node id %q is used more than once", node.ID),
			})

			continue
		}

		index[node.ID] = i + 1

		if !node.Kind.IsValid() {
			result.Errors = append(result.Errors, Issue{
				Code:    IssueUnknownKind,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node %q has unknown kind %q", node.ID, node.Kind),
			})
		}
	}

	connections := make(map[string]bool, len(workflow.Connections))
	inbound := make(map[string]int, len(workflow.Nodes))

	for _, conn := range workflow.Connections {
		if connections[conn.ID] {
			result.Errors = append(result.Errors, Issue{
				Code:         IssueDuplicateConnection,
				ConnectionID: conn.ID,
				Message:      fmt.Sprintf("connection id %q is used more than once", conn.ID),
			})
		}

		connections[conn.ID] = true

		for _, endpoint := range []string{conn.Source, conn.Target} {
			if index[endpoint] == 0 {
				result.Errors = append(result.Errors, Issue{
					Code:         IssueDanglingReference,
					ConnectionID: conn.ID,
					NodeID:       endpoint,
					Message:      fmt.Sprintf("connection %q references missing node %q", conn.ID, endpoint),
				})
			}
		}

		inbound[conn.Target]++
	}

	_, cyclic := sort(workflow, nil)
	for _, nodeID := range cyclic {
		result.Errors = append(result.Errors, Issue{
			Code:    IssueCycle,
			NodeID:  nodeID,
			Message: fmt.Sprintf("node %q is part of a cycle", nodeID),
		})
	}

	for i, node := range workflow.Nodes {
		if node.ID == "" || index[node.ID] != i+1 || inbound[node.ID] > 0 || node.Kind.IsTrigger() {
			continue
		}

		result.Warnings = append(result.Warnings, Issue{
			Code:    IssueUnreachable,
			NodeID:  node.ID,
			Message: fmt.Sprintf("node %q has no inbound connection and is not a trigger", node.ID),
		})
	}

	result.Valid = len(result.Errors) == 0

	return result
}

// ExecutionOrder returns the enabled nodes reachable from enabled triggers in
// topological order. Ready nodes are taken in declaration order.
func ExecutionOrder(workflow *models.Workflow) []string {
	reachable := Reachable(workflow)

	order, _ := sort(workflow, func(node *models.Node) bool { return reachable[node.ID] })

	return order
}

// Reachable marks enabled nodes that can be reached from an enabled trigger
// through enabled nodes only.
func Reachable(workflow *models.Workflow) map[string]bool {
	enabled := make(map[string]bool, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		enabled[node.ID] = node.Enabled
	}

	outbound := make(map[string][]string, len(workflow.Nodes))
	for _, conn := range workflow.Connections {
		outbound[conn.Source] = append(outbound[conn.Source], conn.Target)
	}

	reachable := make(map[string]bool, len(workflow.Nodes))

	var queue []string

	for _, node := range workflow.Nodes {
		if node.Enabled && node.Kind.IsTrigger() && !reachable[node.ID] {
			reachable[node.ID] = true
			queue = append(queue, node.ID)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range outbound[current] {
			if enabled[next] && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return reachable
}

// Descendants returns every node reachable from nodeID, excluding nodeID.
func Descendants(workflow *models.Workflow, nodeID string) map[string]bool {
	outbound := make(map[string][]string, len(workflow.Nodes))
	for _, conn := range workflow.Connections {
		outbound[conn.Source] = append(outbound[conn.Source], conn.Target)
	}

	seen := make(map[string]bool)
	queue := []string{nodeID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range outbound[current] {
			if !seen[next] && next != nodeID {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	return seen
}

// sort runs Kahn's algorithm over the nodes accepted by include (all when nil).
// It returns the sorted ids and the ids left over because of a cycle.
func sort(workflow *models.Workflow, include func(*models.Node) bool) ([]string, []string) {
	position := make(map[string]int, len(workflow.Nodes))
	ids := make([]string, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if node.ID == "" {
			continue
		}

		if _, dup := position[node.ID]; dup {
			continue
		}

		if include != nil && !include(node) {
			continue
		}

		position[node.ID] = len(ids)
		ids = append(ids, node.ID)
	}

	inDegree := make([]int, len(ids))
	outbound := make([][]int, len(ids))

	for _, conn := range workflow.Connections {
		source, okSource := position[conn.Source]
		target, okTarget := position[conn.Target]

		if !okSource || !okTarget {
			continue
		}

		outbound[source] = append(outbound[source], target)
		inDegree[target]++
	}

	done := make([]bool, len(ids))
	order := make([]string, 0, len(ids))

	// Ready nodes are picked in declaration order.
	for {
		next := -1

		for i := range ids {
			if !done[i] && inDegree[i] == 0 {
				next = i

				break
			}
		}

		if next < 0 {
			break
		}

		done[next] = true
		order = append(order, ids[next])

		for _, target := range outbound[next] {
			inDegree[target]--
		}
	}

	var cyclic []string

	for i, id := range ids {
		if !done[i] {
			cyclic = append(cyclic, id)
		}
	}

	return order, cyclic
}

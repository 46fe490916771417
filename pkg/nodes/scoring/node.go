// Package scoring provides the lead-scoring node.
package scoring

import (
	"context"
	"fmt"
	"maps"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Node sums the weights of the rules that hold on the lead. The output is the lead plus
// score, qualified and matched_rules.
type Node struct{}

func New() *Node {
	return &Node{}
}

func (*Node) Handle(_ context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.LeadScoringConfig](req)
	if err != nil {
		return nil, err
	}

	lead := req.Inbound
	if lead == nil {
		lead = map[string]any{}
	}

	if len(config.Schema) > 0 {
		err := validateSchema(config.Schema, lead)
		if err != nil {
			return nil, &protocol.StructuralError{WorkflowID: req.WorkflowID, NodeID: req.Node.ID, Err: err}
		}
	}

	score := 0.0
	matched := []any{}

	for _, rule := range config.Rules {
		guard := models.Guard{Field: rule.Field, Operator: rule.Operator, Value: rule.Value}

		// A field whose value cannot be compared does not score.
		holds, err := guard.Evaluate(lead)
		if err != nil || !holds {
			continue
		}

		score += rule.Weight
		matched = append(matched, rule.Field)
	}

	output := make(map[string]any, len(lead)+3)
	maps.Copy(output, lead)
	output["score"] = score
	output["qualified"] = score >= config.Threshold
	output["matched_rules"] = matched

	return output, nil
}

type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("lead does not match schema: %v", e.Issues)
}

func validateSchema(schema map[string]any, lead map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(lead))
	if err != nil {
		return fmt.Errorf("invalid lead schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}

	return &SchemaError{Issues: issues}
}

package models

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// GuardOperator compares a source output field against a value.
type GuardOperator string

const (
	OpEqual          GuardOperator = "eq"
	OpNotEqual       GuardOperator = "ne"
	OpGreater        GuardOperator = "gt"
	OpGreaterOrEqual GuardOperator = "gte"
	OpLess           GuardOperator = "lt"
	OpLessOrEqual    GuardOperator = "lte"
	OpExists         GuardOperator = "exists"
	OpTruthy         GuardOperator = "truthy"
)

// Connection is a directed edge between two nodes of the same workflow.
type Connection struct {
	ID     string `json:"id"     validate:"required"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	// Mapping copies source output fields into target input fields.
	Mapping map[string]string `json:"mapping,omitempty"`
	Guard   *Guard            `json:"guard,omitempty"`
}

// Guard is a boolean condition evaluated on the source node output.
type Guard struct {
	Field    string        `json:"field"`
	Operator GuardOperator `json:"operator"`
	Value    any           `json:"value,omitempty"`
}

// Evaluate reports whether the guard holds on output. Field supports dotted paths.
func (g *Guard) Evaluate(output map[string]any) (bool, error) {
	actual, found := Lookup(output, g.Field)

	switch g.Operator {
	case OpExists:
		return found, nil
	case OpTruthy:
		if !found {
			return false, nil
		}

		return Truthy(actual)
	case OpEqual:
		return found && equal(actual, g.Value), nil
	case OpNotEqual:
		return !found || !equal(actual, g.Value), nil
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		if !found {
			return false, nil
		}

		return compare(g.Operator, actual, g.Value)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, g.Operator)
	}
}

// Lookup resolves a dotted path like "lead.budget" in nested maps.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func equal(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)

	if aok && bok {
		return fa == fb
	}

	return reflect.DeepEqual(a, b)
}

func compare(op GuardOperator, a, b any) (bool, error) {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)

	if !aok || !bok {
		return false, fmt.Errorf("%w: %v %s %v", ErrNotComparable, a, op, b)
	}

	switch op {
	case OpGreater:
		return fa > fb, nil
	case OpGreaterOrEqual:
		return fa >= fb, nil
	case OpLess:
		return fa < fb, nil
	default:
		return fa <= fb, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// Truthy converts a loosely typed value to a boolean.
func Truthy(v any) (bool, error) {
	switch value := v.(type) {
	case nil:
		return false, nil
	case bool:
		return value, nil
	case string:
		if value == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(value)
		if err != nil {
			return true, nil //nolint:nilerr // any other non-empty string is truthy
		}

		return result, nil
	case int:
		return value != 0, nil
	case int64:
		return value != 0, nil
	case float64:
		return value != 0, nil
	case []any:
		return len(value) > 0, nil
	case map[string]any:
		return len(value) > 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", v)
	}
}

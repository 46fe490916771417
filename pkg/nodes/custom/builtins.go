package custom

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// transform returns the rendered expression param as result.
func transform(_ context.Context, call Call) (map[string]any, error) {
	return map[string]any{"result": call.Params["expression"]}, nil
}

// switchCase maps the value param through cases to a route, falling back to default.
// Downstream guards branch on route.
func switchCase(_ context.Context, call Call) (map[string]any, error) {
	value := fmt.Sprintf("%v", call.Params["value"])

	cases, _ := call.Params["cases"].(map[string]any)
	if route, ok := cases[value]; ok {
		return map[string]any{"matched_value": value, "route": route}, nil
	}

	route := call.Params["default"]
	if route == nil {
		route = "default"
	}

	return map[string]any{"matched_value": value, "route": route, "no_match": true}, nil
}

// merge overlays the with param on the inbound data.
func merge(_ context.Context, call Call) (map[string]any, error) {
	merged := make(map[string]any, len(call.Request.Inbound))
	maps.Copy(merged, call.Request.Inbound)

	if with, ok := call.Params["with"].(map[string]any); ok {
		maps.Copy(merged, with)
	}

	return merged, nil
}

func (r *Registry) log(ctx context.Context, call Call) (map[string]any, error) {
	message := fmt.Sprintf("%v", call.Params["message"])

	level := slog.LevelInfo
	if name, ok := call.Params["level"].(string); ok {
		err := level.UnmarshalText([]byte(strings.ToUpper(name)))
		if err != nil {
			return nil, fmt.Errorf("unknown log level %q", name)
		}
	}

	r.logger.Log(ctx, level, message,
		"execution_id", call.Request.ExecutionID,
		"tenant_id", call.Request.TenantID,
		"node_id", call.Request.Node.ID,
	)

	return map[string]any{"message": message, "level": level.String(), "logged": true}, nil
}

// Package template renders node configuration strings against execution data.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Data builds the template root: .input holds the inbound data, .execution the identifiers.
func Data(executionID, workflowID, tenantID string, input map[string]any) map[string]any {
	if input == nil {
		input = map[string]any{}
	}

	return map[string]any{
		"input": input,
		"execution": map[string]any{
			"id":          executionID,
			"workflow_id": workflowID,
			"tenant_id":   tenantID,
		},
	}
}

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)

		return string(data), err
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
}

// RenderString executes templateStr and returns the text. Strings without actions are returned as is.
func RenderString(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.New("config").Option("missingkey=zero").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render executes templateStr and decodes the result as JSON, a number or a bool when it parses as one.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderMap renders every value of values with RenderString.
func RenderMap(values map[string]string, data any) (map[string]string, error) {
	rendered := make(map[string]string, len(values))

	for key, value := range values {
		out, err := RenderString(value, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

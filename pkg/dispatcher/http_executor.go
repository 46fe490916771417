package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

var ErrAgentHasNoEndpoint = errors.New("agent has no endpoint")

const maxResponseBytes = 1 << 20

// HTTPExecutor POSTs the task as JSON to the agent endpoint and expects a JSON object back.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &HTTPExecutor{client: client}
}

type agentRequest struct {
	AgentID string `json:"agent_id"`
	Task
}

func (e *HTTPExecutor) Execute(ctx context.Context, agent models.Agent, task Task) (map[string]any, error) {
	if agent.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s", ErrAgentHasNoEndpoint, agent.ID)
	}

	body, err := json.Marshal(agentRequest{AgentID: agent.ID, Task: task})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build agent request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent %s request failed: %w", agent.ID, err)
	}

	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read agent %s response: %w", agent.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent %s returned status %d: %s", agent.ID, resp.StatusCode, bytes.TrimSpace(payload))
	}

	result := map[string]any{}
	if len(bytes.TrimSpace(payload)) == 0 {
		return result, nil
	}

	err = json.Unmarshal(payload, &result)
	if err != nil {
		return nil, fmt.Errorf("agent %s returned invalid JSON: %w", agent.ID, err)
	}

	return result, nil
}

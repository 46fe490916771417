package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/coordinator"
	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/logstream"
	"github.com/dukex/leadflow/pkg/metrics"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/retry"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/dukex/leadflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-test"

type testApp struct {
	app      *fiber.App
	engine   *engine.Engine
	registry *registry.Registry
}

func setupTestApp(t *testing.T, limiter *web.TenantLimiter, overrides ...func(*web.Deps)) *testApp {
	t.Helper()

	logger := log.Discard()
	clock := clockwork.NewRealClock()
	p := file.NewPersistence(t.TempDir())
	stream := logstream.New(logger, p.LogRepository(), p.ExecutionRepository(), clock)
	scheduler := retry.NewScheduler(clock)
	reg := registry.NewRegistry(logger)
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	passthrough := protocol.HandlerFunc(func(_ context.Context, req protocol.Request) (map[string]any, error) {
		return req.Inbound, nil
	})

	for _, kind := range []models.NodeKind{models.KindWebhookTrigger, models.KindAgentTask, models.KindEmailSend} {
		reg.Register(kind, passthrough)
	}

	e := engine.New(engine.Deps{
		Logger:     logger,
		Workflows:  p.WorkflowRepository(),
		Executions: p.ExecutionRepository(),
		Handlers:   reg,
		Logs:       stream,
		Retries:    retry.NewManager(logger, stream, retry.DefaultConfig()),
		Scheduler:  scheduler,
		Metrics:    collector,
		Clock:      clock,
	}, engine.DefaultConfig())

	t.Cleanup(func() {
		scheduler.Stop()
		_ = e.Shutdown(context.Background())
	})

	fleet := dispatcher.New(logger, collector)
	executor := dispatcher.ExecutorFunc(func(context.Context, models.Agent, dispatcher.Task) (map[string]any, error) {
		return map[string]any{}, nil
	})

	deps := web.Deps{
		Logger:         logger,
		Workflows:      services.NewWorkflow(p),
		Templates:      services.NewTemplates(p),
		Agents:         services.NewAgents(p, fleet, executor),
		Engine:         e,
		Logs:           stream,
		Orchestrations: coordinator.New(logger, p.OrchestrationRepository(), clock),
		Registry:       reg,
		Metrics:        collector,
		WebhookLimiter: limiter,
	}

	for _, override := range overrides {
		override(&deps)
	}

	return &testApp{app: web.App(web.NewAPIHandlers(deps), promRegistry), engine: e, registry: reg}
}

func (a *testApp) do(t *testing.T, method, path string, body any, tenantID string) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tenantID != "" {
		req.Header.Set(web.TenantHeader, tenantID)
	}

	resp, err := a.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (a *testApp) createWorkflow(t *testing.T) *models.Workflow {
	t.Helper()

	nodes, connections := testutil.LeadIntakeNodes()

	status, body := a.do(t, http.MethodPost, "/workflows", web.WorkflowRequest{
		Name:        "Lead intake",
		CreatedBy:   "tester",
		Nodes:       nodes,
		Connections: connections,
	}, tenant)
	require.Equal(t, http.StatusCreated, status, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	return &workflow
}

func (a *testApp) runAndWait(t *testing.T, workflowID string) string {
	t.Helper()

	status, body := a.do(t, http.MethodPost, "/workflows/"+workflowID+"/run", web.RunRequest{Input: map[string]any{"email": "lead@example.com"}}, tenant)
	require.Equal(t, http.StatusAccepted, status, string(body))

	var started web.ExecutionStarted
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotEmpty(t, started.ExecutionID)

	require.Eventually(t, func() bool {
		execution, err := a.engine.Status(context.Background(), started.ExecutionID)

		return err == nil && execution.Status == models.ExecutionSuccess
	}, 3*time.Second, 5*time.Millisecond)

	return started.ExecutionID
}

func TestAPI_RootAndLiveness(t *testing.T) {
	a := setupTestApp(t, nil)

	status, body := a.do(t, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "leadflow API", string(body))

	status, _ = a.do(t, http.MethodGet, "/livez", nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, body = a.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"healthy"`)
}

func TestAPI_NodeKinds(t *testing.T) {
	a := setupTestApp(t, nil)

	status, body := a.do(t, http.MethodGet, "/node-kinds", nil, "")
	require.Equal(t, http.StatusOK, status)

	var got struct {
		Kinds []models.NodeKind `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Contains(t, got.Kinds, models.KindAgentTask)
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	a := setupTestApp(t, nil)
	workflow := a.createWorkflow(t)

	assert.Equal(t, 1, workflow.Version)
	assert.Equal(t, tenant, workflow.TenantID)

	status, _ := a.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, "other-tenant")
	assert.Equal(t, http.StatusNotFound, status)

	nodes, connections := testutil.LeadIntakeNodes()
	status, body := a.do(t, http.MethodPut, "/workflows/"+workflow.ID, web.WorkflowRequest{
		Name:        "Lead intake v2",
		Nodes:       nodes,
		Connections: connections,
	}, tenant)
	require.Equal(t, http.StatusOK, status, string(body))

	var updated models.Workflow
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 2, updated.Version)

	status, body = a.do(t, http.MethodGet, "/workflows", nil, tenant)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"total_count":1`)

	status, _ = a.do(t, http.MethodDelete, "/workflows/"+workflow.ID, nil, tenant)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = a.do(t, http.MethodGet, "/workflows/"+workflow.ID, nil, tenant)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_CreateWorkflowRejectsBadInput(t *testing.T) {
	a := setupTestApp(t, nil)
	nodes, connections := testutil.LeadIntakeNodes()

	tests := []struct {
		name     string
		body     web.WorkflowRequest
		tenantID string
	}{
		{"missing tenant", web.WorkflowRequest{Name: "Lead intake", Nodes: nodes, Connections: connections}, ""},
		{"short name", web.WorkflowRequest{Name: "ab", Nodes: nodes, Connections: connections}, tenant},
		{"no nodes", web.WorkflowRequest{Name: "Lead intake"}, tenant},
		{"cycle", web.WorkflowRequest{Name: "Lead intake", Nodes: nodes, Connections: append(append([]*models.Connection{}, connections...),
			&models.Connection{ID: "back", Source: "notify", Target: "qualify"})}, tenant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := a.do(t, http.MethodPost, "/workflows", tt.body, tt.tenantID)
			assert.Equal(t, http.StatusBadRequest, status, string(body))
			assert.Contains(t, string(body), "validation_error")
		})
	}
}

func TestAPI_RunAndObserveExecution(t *testing.T) {
	a := setupTestApp(t, nil)
	workflow := a.createWorkflow(t)
	executionID := a.runAndWait(t, workflow.ID)

	status, body := a.do(t, http.MethodGet, "/executions/"+executionID, nil, tenant)
	require.Equal(t, http.StatusOK, status)

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.TriggerUser, execution.TriggerSource)
	assert.Equal(t, "lead@example.com", execution.TriggerInput["email"])

	status, _ = a.do(t, http.MethodGet, "/executions/"+executionID, nil, "other-tenant")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodGet, "/executions/"+executionID+"/logs?level=success", nil, tenant)
	require.Equal(t, http.StatusOK, status)

	var logs struct {
		Logs []models.ExecutionLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs.Logs, 3)
	assert.Equal(t, "trigger", logs.Logs[0].NodeID)

	status, _ = a.do(t, http.MethodGet, "/executions/"+executionID+"/logs?level=loud", nil, tenant)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/executions", nil, tenant)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), executionID)
}

func TestAPI_StreamReplaysCompletedExecution(t *testing.T) {
	a := setupTestApp(t, nil)
	workflow := a.createWorkflow(t)
	executionID := a.runAndWait(t, workflow.ID)

	status, body := a.do(t, http.MethodGet, "/executions/"+executionID+"/logs/stream?level=success", nil, tenant)
	require.Equal(t, http.StatusOK, status)

	stream := string(body)
	assert.Equal(t, 3, strings.Count(stream, "event: log\n"))
	assert.Contains(t, stream, "event: end\n")
	assert.Contains(t, stream, executionID)
}

func TestAPI_StreamSendsHeartbeatsWhileIdle(t *testing.T) {
	a := setupTestApp(t, nil, func(deps *web.Deps) {
		deps.StreamHeartbeat = 10 * time.Millisecond
	})

	entered := make(chan struct{})
	release := make(chan struct{})

	a.registry.Register(models.KindAgentTask, protocol.HandlerFunc(func(context.Context, protocol.Request) (map[string]any, error) {
		close(entered)
		<-release

		return map[string]any{"qualified": true}, nil
	}))

	workflow := a.createWorkflow(t)

	status, body := a.do(t, http.MethodPost, "/workflows/"+workflow.ID+"/run", web.RunRequest{}, tenant)
	require.Equal(t, http.StatusAccepted, status, string(body))

	var started web.ExecutionStarted
	require.NoError(t, json.Unmarshal(body, &started))

	<-entered

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	status, body = a.do(t, http.MethodGet, "/executions/"+started.ExecutionID+"/logs/stream?level=success", nil, tenant)
	require.Equal(t, http.StatusOK, status)

	stream := string(body)
	assert.Contains(t, stream, ": heartbeat\n\n")
	assert.Equal(t, 3, strings.Count(stream, "event: log\n"))
	assert.True(t, strings.HasSuffix(stream, "event: end\ndata: {\"execution_id\":\""+started.ExecutionID+"\"}\n\n"))
}

func TestAPI_TerminalExecutionConflicts(t *testing.T) {
	a := setupTestApp(t, nil)
	workflow := a.createWorkflow(t)
	executionID := a.runAndWait(t, workflow.ID)

	status, body := a.do(t, http.MethodPost, "/executions/"+executionID+"/cancel", nil, tenant)
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, body = a.do(t, http.MethodPost, "/executions/"+executionID+"/retry", web.RetryRequest{NodeID: "qualify"}, tenant)
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, _ = a.do(t, http.MethodPost, "/executions/"+executionID+"/retry", web.RetryRequest{}, tenant)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_WebhookIsRateLimitedPerTenant(t *testing.T) {
	a := setupTestApp(t, web.NewTenantLimiter(0.001, 1))
	workflow := a.createWorkflow(t)

	path := "/hooks/" + tenant + "/" + workflow.ID + "?utm_source=ads"

	status, body := a.do(t, http.MethodPost, path, map[string]any{"email": "lead@example.com"}, "")
	require.Equal(t, http.StatusAccepted, status, string(body))

	var started web.ExecutionStarted
	require.NoError(t, json.Unmarshal(body, &started))

	require.Eventually(t, func() bool {
		execution, err := a.engine.Status(context.Background(), started.ExecutionID)

		return err == nil && execution.Status == models.ExecutionSuccess
	}, 3*time.Second, 5*time.Millisecond)

	execution, err := a.engine.Status(context.Background(), started.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerWebhook, execution.TriggerSource)
	assert.Equal(t, map[string]any{"utm_source": "ads"}, execution.TriggerInput["query"])

	status, body = a.do(t, http.MethodPost, path, map[string]any{"email": "again@example.com"}, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, string(body), "rate_limited")

	// Another tenant has its own bucket; its workflow lookup fails instead.
	status, _ = a.do(t, http.MethodPost, "/hooks/other-tenant/"+workflow.ID, map[string]any{}, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `leadflow_webhooks_throttled_total{tenant="tenant-test"} 1`)
}

func TestAPI_TemplatePublishAndDeploy(t *testing.T) {
	a := setupTestApp(t, nil)

	template := testutil.CreateTestTemplate(func(tpl *models.WorkflowTemplate) { tpl.ID = "lead-intake" })

	status, body := a.do(t, http.MethodPost, "/templates", template, "")
	require.Equal(t, http.StatusCreated, status, string(body))

	status, _ = a.do(t, http.MethodPost, "/templates", template, "")
	assert.Equal(t, http.StatusConflict, status)

	status, body = a.do(t, http.MethodPost, "/templates/lead-intake/deploy", web.DeployRequest{Name: "Acme intake"}, tenant)
	require.Equal(t, http.StatusCreated, status, string(body))

	var deployed models.Workflow
	require.NoError(t, json.Unmarshal(body, &deployed))
	assert.Equal(t, "Acme intake", deployed.Name)
	assert.Equal(t, tenant, deployed.TenantID)

	status, body = a.do(t, http.MethodPost, "/templates/lead-intake/outcomes", web.OutcomeRequest{Success: true, ROI: 2}, "")
	require.Equal(t, http.StatusOK, status, string(body))

	var stats models.TemplateStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, int(stats.TimesDeployed))

	status, body = a.do(t, http.MethodGet, "/templates?category=lead-intake", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"total_count":1`)

	status, _ = a.do(t, http.MethodGet, "/templates/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_AgentsAndOrchestration(t *testing.T) {
	a := setupTestApp(t, nil)

	status, body := a.do(t, http.MethodPost, "/agents", models.Agent{Name: "Closer", Role: models.RoleSpecialist, MaxConcurrency: 1}, tenant)
	require.Equal(t, http.StatusCreated, status, string(body))

	var agent models.Agent
	require.NoError(t, json.Unmarshal(body, &agent))
	assert.Equal(t, models.AgentActive, agent.Status)

	status, _ = a.do(t, http.MethodPatch, "/agents/"+agent.ID, web.AgentStatusRequest{Status: "asleep"}, tenant)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodPatch, "/agents/"+agent.ID, web.AgentStatusRequest{Status: models.AgentPaused}, tenant)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"paused"`)

	status, body = a.do(t, http.MethodGet, "/agents", nil, tenant)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), agent.ID)

	status, body = a.do(t, http.MethodPut, "/orchestrations/"+tenant, web.BindRequest{WorkflowIDs: []string{"wf-1"}, AgentIDs: []string{agent.ID}}, "")
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = a.do(t, http.MethodGet, "/orchestrations/"+tenant, nil, "")
	require.Equal(t, http.StatusOK, status)

	var got coordinator.Status
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []string{"wf-1"}, got.WorkflowIDs)
	assert.Equal(t, 0, got.RunningCount)

	status, _ = a.do(t, http.MethodDelete, "/agents/"+agent.ID, nil, tenant)
	assert.Equal(t, http.StatusNoContent, status)
}

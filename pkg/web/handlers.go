package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/coordinator"
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/logstream"
	"github.com/dukex/leadflow/pkg/metrics"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// TenantHeader carries the calling tenant. The tenant_id query parameter is accepted as a fallback.
const TenantHeader = "X-Tenant-ID"

type Engine interface {
	Run(ctx context.Context, workflowID string, req engine.RunRequest) (string, error)
	Retry(ctx context.Context, executionID, nodeID string) (string, error)
	Cancel(ctx context.Context, executionID string) error
	Status(ctx context.Context, executionID string) (*models.WorkflowExecution, error)
}

type LogReader interface {
	Query(ctx context.Context, executionID string, filter logstream.Filter) ([]models.ExecutionLog, error)
	Subscribe(ctx context.Context, executionID string) (<-chan models.ExecutionLog, error)
}

type Orchestrations interface {
	Status(ctx context.Context, tenantID string) (coordinator.Status, error)
	Bind(ctx context.Context, tenantID string, workflowIDs, agentIDs []string) (*models.AgentOrchestration, error)
}

type Deps struct {
	Logger         *slog.Logger
	Workflows      *services.Workflow
	Templates      *services.Templates
	Agents         *services.Agents
	Engine         Engine
	Logs           LogReader
	Orchestrations Orchestrations
	Registry       *registry.Registry
	// Metrics and WebhookLimiter are optional.
	Metrics        *metrics.Collector
	WebhookLimiter *TenantLimiter

	// StreamHeartbeat is how often an idle log stream writes a keep-alive comment.
	StreamHeartbeat time.Duration
}

type APIHandlers struct {
	logger         *slog.Logger
	workflows      *services.Workflow
	templates      *services.Templates
	agents         *services.Agents
	engine         Engine
	logs           LogReader
	orchestrations Orchestrations
	registry       *registry.Registry
	metrics        *metrics.Collector
	limiter        *TenantLimiter
	heartbeat      time.Duration
	validator      *validator.Validate
}

const defaultStreamHeartbeat = 15 * time.Second

func NewAPIHandlers(deps Deps) *APIHandlers {
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}

	return &APIHandlers{
		logger:         deps.Logger.With("module", "api"),
		workflows:      deps.Workflows,
		templates:      deps.Templates,
		agents:         deps.Agents,
		engine:         deps.Engine,
		logs:           deps.Logs,
		orchestrations: deps.Orchestrations,
		registry:       deps.Registry,
		metrics:        deps.Metrics,
		limiter:        deps.WebhookLimiter,
		heartbeat:      heartbeat,
		validator:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func tenantOf(c fiber.Ctx) (string, error) {
	tenant := strings.TrimSpace(c.Get(TenantHeader))
	if tenant == "" {
		tenant = strings.TrimSpace(c.Query("tenant_id"))
	}

	if tenant == "" {
		return "", services.ErrTenantRequired
	}

	return tenant, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"node_kinds": len(h.registry.Kinds()),
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetNodeKinds(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"kinds": h.registry.Kinds()})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	workflows, err := h.workflows.ListWorkflows(c.Context(), services.ListWorkflowsRequest{
		TenantID:       tenant,
		Tag:            c.Query("tag"),
		IncludeDeleted: c.Query("include_deleted") == "true",
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	workflow, err := h.workflows.FetchByID(c.Context(), tenant, c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflows.Create(c.Context(), req.workflow(tenant))
	if err != nil {
		return handleError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Workflow created", "workflow_id", created.ID, "tenant_id", tenant)

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces the definition, storing it as the next version.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflows.Update(c.Context(), c.Params("id"), req.workflow(tenant))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	tombstoned, err := h.workflows.Delete(c.Context(), tenant, c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if tombstoned {
		h.logger.InfoContext(c.Context(), "Workflow tombstoned", "workflow_id", c.Params("id"), "tenant_id", tenant)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	executions, err := h.workflows.ListExecutions(c.Context(), tenant, c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

// RunWorkflow starts a user-triggered execution and answers before it finishes.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	var req RunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	return h.start(c, c.Params("id"), engine.RunRequest{
		TenantID: tenant,
		Source:   models.TriggerUser,
		Input:    req.Input,
	})
}

func (h *APIHandlers) start(c fiber.Ctx, workflowID string, req engine.RunRequest) error {
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	executionID, err := h.engine.Run(c.Context(), workflowID, req)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionStarted{ExecutionID: executionID})
}

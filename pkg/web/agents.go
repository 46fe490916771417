package web

import (
	"github.com/dukex/leadflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) GetAgents(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	agents, err := h.agents.List(c.Context(), tenant)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"agents": agents, "total_count": len(agents)})
}

func (h *APIHandlers) RegisterAgent(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	var agent models.Agent
	if err := c.Bind().JSON(&agent); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	agent.TenantID = tenant

	registered, err := h.agents.Register(c.Context(), &agent)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(registered)
}

func (h *APIHandlers) UpdateAgentStatus(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	var req AgentStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.agents.SetStatus(c.Context(), tenant, c.Params("id"), req.Status)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(agent)
}

func (h *APIHandlers) DeleteAgent(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	err = h.agents.Delete(c.Context(), tenant, c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetOrchestration(c fiber.Ctx) error {
	status, err := h.orchestrations.Status(c.Context(), c.Params("tenant"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(status)
}

// BindOrchestration replaces the workflows and agents bound to the tenant, keeping its counters.
func (h *APIHandlers) BindOrchestration(c fiber.Ctx) error {
	var req BindRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	orchestration, err := h.orchestrations.Bind(c.Context(), c.Params("tenant"), req.WorkflowIDs, req.AgentIDs)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(orchestration)
}

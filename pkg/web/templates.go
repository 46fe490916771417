package web

import (
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templates.List(c.Context(), c.Query("category"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"templates": templates, "total_count": len(templates)})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) PublishTemplate(c fiber.Ctx) error {
	var template models.WorkflowTemplate
	if err := c.Bind().JSON(&template); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	published, err := h.templates.Publish(c.Context(), &template)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(published)
}

// DeployTemplate copies the template into a new workflow of the calling tenant.
func (h *APIHandlers) DeployTemplate(c fiber.Ctx) error {
	tenant, err := tenantOf(c)
	if err != nil {
		return handleError(c, err)
	}

	var req DeployRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format: "+err.Error())
		}
	}

	workflow, err := h.templates.Deploy(c.Context(), c.Params("id"), services.DeployRequest{
		TenantID:  tenant,
		CreatedBy: req.CreatedBy,
		Name:      req.Name,
	})
	if err != nil {
		return handleError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Template deployed", "template_id", c.Params("id"), "workflow_id", workflow.ID, "tenant_id", tenant)

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) RecordTemplateOutcome(c fiber.Ctx) error {
	var req OutcomeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	template, err := h.templates.RecordOutcome(c.Context(), c.Params("id"), req.Success, req.ROI)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(template.Stats)
}

package web

import (
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// ReceiveWebhook starts a webhook execution. The JSON body becomes the trigger input, and any
// query parameters are kept under "query".
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	tenant := c.Params("tenant")

	if !h.limiter.Allow(tenant) {
		h.metrics.WebhookThrottled(tenant)
		h.logger.WarnContext(c.Context(), "Webhook throttled", "tenant_id", tenant, "workflow_id", c.Params("id"))

		return problem(c, fiber.StatusTooManyRequests, "rate_limited", "webhook rate limit exceeded for tenant "+tenant)
	}

	input := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&input); err != nil {
			return badRequest(c, "Webhook body must be a JSON object: "+err.Error())
		}
	}

	if queries := c.Queries(); len(queries) > 0 {
		query := make(map[string]any, len(queries))
		for k, v := range queries {
			query[k] = v
		}

		input["query"] = query
	}

	return h.start(c, c.Params("id"), engine.RunRequest{
		TenantID: tenant,
		Source:   models.TriggerWebhook,
		Input:    input,
	})
}

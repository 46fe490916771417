package web

import (
	"errors"

	"github.com/dukex/leadflow/pkg/coordinator"
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func internalError(c fiber.Ctx, err error) error {
	body := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

// handleError maps service, engine and persistence errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err),
		errors.Is(err, coordinator.ErrMissingTenant),
		errors.Is(err, engine.ErrInvalidTrigger),
		errors.Is(err, engine.ErrNodeNotInWorkflow):
		return badRequest(c, err.Error())

	case services.IsNotFoundError(err):
		return notFound(c, err.Error())

	case services.IsConflictError(err),
		errors.Is(err, engine.ErrExecutionNotFailed),
		errors.Is(err, engine.ErrInvalidTransition):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case errors.Is(err, engine.ErrTenantConcurrencyLimit):
		return problem(c, fiber.StatusTooManyRequests, "tenant_concurrency_limit", err.Error())

	case errors.Is(err, engine.ErrShuttingDown):
		return problem(c, fiber.StatusServiceUnavailable, "shutting_down", err.Error())

	default:
		return internalError(c, err)
	}
}

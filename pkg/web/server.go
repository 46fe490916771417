package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App builds the fiber application. A nil gatherer leaves /metrics unrouted.
func App(handlers *APIHandlers, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "leadflow"})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/livez", healthcheck.New())
	app.Get("/readyz", healthcheck.New())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("leadflow API")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/node-kinds", handlers.GetNodeKinds)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	app.Post("/hooks/:tenant/:id", handlers.ReceiveWebhook)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/retry", handlers.RetryExecution)
	e.Get("/:id/logs", handlers.GetExecutionLogs)
	e.Get("/:id/logs/stream", handlers.StreamExecutionLogs)

	t := app.Group("/templates")
	t.Get("/", handlers.GetTemplates)
	t.Post("/", handlers.PublishTemplate)
	t.Get("/:id", handlers.GetTemplate)
	t.Post("/:id/deploy", handlers.DeployTemplate)
	t.Post("/:id/outcomes", handlers.RecordTemplateOutcome)

	a := app.Group("/agents")
	a.Get("/", handlers.GetAgents)
	a.Post("/", handlers.RegisterAgent)
	a.Patch("/:id", handlers.UpdateAgentStatus)
	a.Delete("/:id", handlers.DeleteAgent)

	o := app.Group("/orchestrations")
	o.Get("/:tenant", handlers.GetOrchestration)
	o.Put("/:tenant", handlers.BindOrchestration)

	return app
}

// Package main provides the automato API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/ciroautuori/automato/pkg/eventbus"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/registry"
	"github.com/ciroautuori/automato/pkg/services"
	"github.com/ciroautuori/automato/pkg/trigger"
	"github.com/ciroautuori/automato/pkg/web"
	"github.com/ciroautuori/automato/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	definitionService := services.NewDefinition(a.persistence, a.registry, a.logger)
	engine := workflow.NewEngine(a.persistence, a.registry, a.eventBus, nil, a.logger, "api")
	dispatcher := trigger.NewDispatcher(a.persistence, engine, a.logger)

	handlers := web.NewAPIHandlers(definitionService, dispatcher, engine, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Automato API")
	})

	d := app.Group("/definitions")
	d.Get("/", handlers.ListDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Get("/:id", handlers.GetDefinition)
	d.Patch("/:id", handlers.UpdateDefinition)
	d.Post("/:id/activate", handlers.ActivateDefinition)
	d.Post("/:id/pause", handlers.PauseDefinition)
	d.Post("/:id/archive", handlers.ArchiveDefinition)
	d.Post("/:id/schedules", handlers.CreateSchedule)
	d.Get("/:id/schedules", handlers.ListSchedules)
	d.Post("/:id/runs", handlers.CreateRun)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Post("/webhooks/:definition_id", handlers.HandleWebhook)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

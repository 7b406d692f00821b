// Package main provides the crewplane API server implementation.
package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/eventbus"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/crewplane/crewplane/pkg/services"
	"github.com/crewplane/crewplane/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	diagnostics *diagnostics.Collector
	validate    *validator.Validate
}

// NewAPI builds the API. collector is nil unless a worker runs in the same process.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventPublisher,
	collector *diagnostics.Collector,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		diagnostics: collector,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() (*fiber.App, error) {
	executionService, err := services.NewExecution(a.persistence, a.eventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution service: %w", err)
	}

	handlers := web.NewAPIHandlers(executionService, a.validate, a.diagnostics)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("crewplane API")
	})

	handlers.Register(app)

	return app, nil
}

func (a *API) Start(port int) error {
	app, err := a.App()
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}

// Package web provides HTTP handlers and REST API endpoints for execution submission and tracking.
package web

import (
	"net/http"
	"time"

	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	executionService *services.Execution
	validator        *validator.Validate
	diagnostics      *diagnostics.Collector
}

// NewAPIHandlers wires the handlers. collector may be nil when this process
// runs no worker; the running and registry endpoints then report empty state.
func NewAPIHandlers(
	executionService *services.Execution,
	validator *validator.Validate,
	collector *diagnostics.Collector,
) *APIHandlers {
	return &APIHandlers{
		executionService: executionService,
		validator:        validator,
		diagnostics:      collector,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.executionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "crewplane API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "crewplane API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) SubmitExecution(c fiber.Ctx) error {
	var req SubmitExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := h.executionService.Submit(c.Context(), services.SubmitRequest{
		ExecutionID: req.ExecutionID,
		Config:      *req.Config,
		Group:       req.Group,
		UserToken:   req.UserToken,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Location("/executions/" + record.JobID)

	return c.Status(fiber.StatusAccepted).JSON(record)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	record, err := h.executionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetExecutionTraces(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	traces, err := h.executionService.Traces(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if traces == nil {
		traces = []*models.ExecutionTrace{}
	}

	return c.JSON(TracesResponse{ExecutionID: id, Traces: traces, Count: len(traces)})
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	lines, err := h.executionService.Logs(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if lines == nil {
		lines = []models.ExecutionLogLine{}
	}

	return c.JSON(LogsResponse{ExecutionID: id, Logs: lines, Count: len(lines)})
}

func (h *APIHandlers) GetRunningExecutions(c fiber.Ctx) error {
	report := h.diagnostics.Collect()

	return c.JSON(RunningResponse{
		Running: report.Running,
		Count:   len(report.Running),
		Traces:  report.Traces,
	})
}

func (h *APIHandlers) GetRegistryDiagnostics(c fiber.Ctx) error {
	return c.JSON(h.diagnostics.Collect())
}

// Register mounts the execution routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	e := router.Group("/executions")
	e.Post("/", h.SubmitExecution)
	e.Get("/running", h.GetRunningExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/traces", h.GetExecutionTraces)
	e.Get("/:id/logs", h.GetExecutionLogs)

	router.Get("/diagnostics/registry", h.GetRegistryDiagnostics)
	router.Get("/health", h.HealthCheck)
}

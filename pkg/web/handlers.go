package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/ciroautuori/automato/pkg/models"
	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/services"
	"github.com/ciroautuori/automato/pkg/trigger"
	"github.com/ciroautuori/automato/pkg/workflow"
)

type APIHandlers struct {
	definitionService *services.Definition
	dispatcher        *trigger.Dispatcher
	engine            *workflow.Engine
	persistence       persistence.Persistence
	validator         *validator.Validate
}

func NewAPIHandlers(
	definitionService *services.Definition,
	dispatcher *trigger.Dispatcher,
	engine *workflow.Engine,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		dispatcher:        dispatcher,
		engine:            engine,
		persistence:       persistence,
		validator:         validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.definitionService.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if !ok {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListDefinitions(c fiber.Ctx) error {
	definitions, err := h.definitionService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "definition id is required")
	}

	definition, err := h.definitionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.definitionService.Create(c.Context(), services.CreateRequest{
		Name:          req.Name,
		Description:   req.Description,
		TriggerType:   models.TriggerType(req.TriggerType),
		TriggerConfig: req.TriggerConfig,
		Steps:         req.Steps,
		Settings:      req.Settings.toModel(),
		AccountID:     req.AccountID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "definition id is required")
	}

	var req UpdateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	update := services.UpdateRequest{
		Name:          req.Name,
		Description:   req.Description,
		TriggerConfig: req.TriggerConfig,
		Steps:         req.Steps,
		Settings:      req.Settings.toModel(),
	}

	if req.TriggerType != nil {
		triggerType := models.TriggerType(*req.TriggerType)
		update.TriggerType = &triggerType
	}

	definition, err := h.definitionService.Update(c.Context(), id, update)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) ActivateDefinition(c fiber.Ctx) error {
	return h.transition(c, h.definitionService.Activate)
}

func (h *APIHandlers) PauseDefinition(c fiber.Ctx) error {
	return h.transition(c, h.definitionService.Pause)
}

func (h *APIHandlers) ArchiveDefinition(c fiber.Ctx) error {
	return h.transition(c, h.definitionService.Archive)
}

func (h *APIHandlers) transition(c fiber.Ctx, op func(ctx context.Context, id string) (*models.WorkflowDefinition, error)) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "definition id is required")
	}

	definition, err := op(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "definition id is required")
	}

	var req CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule, err := h.definitionService.CreateSchedule(c.Context(), id, req.CronExpression, req.Timezone)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) ListSchedules(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "definition id is required")
	}

	schedules, err := h.definitionService.ListSchedules(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"schedules": schedules})
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "definition id is required")
	}

	var req CreateRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	triggerType := models.TriggerTypeAPI
	if req.TriggerType != "" {
		triggerType = models.TriggerType(req.TriggerType)
	}

	execution, err := h.dispatcher.Dispatch(c.Context(), trigger.RunRequest{
		DefinitionID: id,
		TriggerType:  triggerType,
		InputData:    req.InputData,
		TriggeredBy:  req.TriggeredBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "execution id is required")
	}

	execution, err := h.persistence.Executions().GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	stepLogs, err := h.persistence.StepLogs().ListByExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: execution, StepLogs: stepLogs})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "execution id is required")
	}

	var req CancelExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	execution, err := h.engine.Cancel(c.Context(), id, req.CancelledBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// HandleWebhook ingests a webhook delivery. Rejections, including unknown
// definitions, answer 204 so external producers learn nothing about which
// endpoints exist or which signatures are valid.
func (h *APIHandlers) HandleWebhook(c fiber.Ctx) error {
	definitionID := c.Params("definition_id")
	if definitionID == "" {
		return c.SendStatus(fiber.StatusNoContent)
	}

	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	var inputData map[string]any
	if err := json.Unmarshal(body, &inputData); err != nil {
		inputData = map[string]any{"raw": string(body)}
	}

	execution, err := h.dispatcher.Dispatch(c.Context(), trigger.RunRequest{
		DefinitionID: definitionID,
		TriggerType:  models.TriggerTypeWebhook,
		InputData:    inputData,
		TriggeredBy:  "webhook",
		Signature:    c.Get(SignatureHeader),
		RawBody:      body,
	})
	if err != nil {
		if trigger.IsTriggerRejected(err) || persistence.IsDefinitionNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": execution.ID,
		"status":       execution.Status,
	})
}

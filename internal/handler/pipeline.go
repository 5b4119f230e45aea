package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/service"
	"github.com/orafaelscosta/music/internal/store"
	"github.com/orafaelscosta/music/pkg/response"
)

type PipelineHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		validator: v,
	}
}

// QuickStart handles POST /api/pipeline/quick-start
func (h *PipelineHandler) QuickStart(c *fiber.Ctx) error {
	var req model.QuickStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	project, err := h.service.QuickStart(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, project)
}

// Start handles POST /api/pipeline/:projectId/start
func (h *PipelineHandler) Start(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	if err := h.service.EnqueueFullPipeline(c.Context(), projectID); err != nil {
		var prereq *service.ErrStepPrerequisite
		switch {
		case errors.Is(err, store.ErrProjectNotFound):
			return response.NotFound(c, "Project not found")
		case errors.Is(err, service.ErrPipelineRunning):
			return response.Conflict(c, "Pipeline already running for this project")
		case errors.As(err, &prereq):
			return response.ValidationError(c, prereq.Error(), nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, model.PipelineStartResponse{
		ProjectID: projectID,
		Status:    model.StatusAnalyzing,
		Queued:    true,
	})
}

// Step handles POST /api/pipeline/:projectId/step/:step
func (h *PipelineHandler) Step(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	step, ok := model.ParseStep(c.Params("step"))
	if !ok {
		return response.ValidationError(c, "Unknown pipeline step", nil)
	}

	if err := h.service.EnqueueStep(c.Context(), projectID, step); err != nil {
		var prereq *service.ErrStepPrerequisite
		switch {
		case errors.Is(err, store.ErrProjectNotFound):
			return response.NotFound(c, "Project not found")
		case errors.Is(err, service.ErrPipelineRunning):
			return response.Conflict(c, "Pipeline already running for this project")
		case errors.As(err, &prereq):
			return response.ValidationError(c, prereq.Error(), nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, model.PipelineStartResponse{
		ProjectID: projectID,
		Step:      step,
		Queued:    true,
	})
}

// Status handles GET /api/pipeline/:projectId/status
func (h *PipelineHandler) Status(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			return response.NotFound(c, "Project not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

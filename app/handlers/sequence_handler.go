package handlers

import (
	"context"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/leadpulse/sequence-engine/app/dto"
	businessflow "github.com/leadpulse/sequence-engine/business_flow"
)

// SequenceHandlerInterface defines the contract for sequence handlers
type SequenceHandlerInterface interface {
	CreateSequence(c fiber.Ctx) error
	GetSequence(c fiber.Ctx) error
	ListSequences(c fiber.Ctx) error
	UpdateSequenceSteps(c fiber.Ctx) error
	ActivateSequence(c fiber.Ctx) error
	PauseSequence(c fiber.Ctx) error
	ArchiveSequence(c fiber.Ctx) error
}

// SequenceHandler handles sequence-related HTTP requests
type SequenceHandler struct {
	sequenceFlow businessflow.SequenceFlow
	validator    *validator.Validate
}

// NewSequenceHandler creates a new sequence handler
func NewSequenceHandler(sequenceFlow businessflow.SequenceFlow) *SequenceHandler {
	return &SequenceHandler{
		sequenceFlow: sequenceFlow,
		validator:    validator.New(),
	}
}

func (h *SequenceHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *SequenceHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateSequence handles the sequence creation process
// @Summary Create Sequence
// @Description Create a new draft sequence, optionally with its initial steps
// @Tags Sequences
// @Accept json
// @Produce json
// @Param request body dto.CreateSequenceRequest true "Sequence creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateSequenceResponse} "Sequence created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/sequences [post]
func (h *SequenceHandler) CreateSequence(c fiber.Ctx) error {
	var req dto.CreateSequenceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors(err))
	}

	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}
	req.OrganizationID = orgID

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.sequenceFlow.CreateSequence(createRequestContext(c, "/api/v1/sequences"), &req, metadata)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "SEQUENCE_VALIDATION_FAILED" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, be.Error())
		}
		log.Println("Sequence creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Sequence creation failed", "SEQUENCE_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Sequence created successfully", result)
}

// GetSequence handles fetching a single sequence with its steps
// @Summary Get Sequence
// @Description Get a sequence with its steps and conditions
// @Tags Sequences
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Success 200 {object} dto.APIResponse{data=dto.GetSequenceResponse} "Sequence retrieved successfully"
// @Failure 404 {object} dto.APIResponse "Sequence not found"
// @Router /api/v1/sequences/{uuid} [get]
func (h *SequenceHandler) GetSequence(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := dto.GetSequenceRequest{
		UUID:           c.Params("uuid"),
		OrganizationID: orgID,
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.sequenceFlow.GetSequence(createRequestContext(c, "/api/v1/sequences/:uuid"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		log.Println("Sequence fetch failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Sequence fetch failed", "SEQUENCE_FETCH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Sequence retrieved successfully", result)
}

// ListSequences handles listing the organization's sequences
// @Summary List Sequences
// @Description List sequences of the authenticated organization
// @Tags Sequences
// @Produce json
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Param status query string false "Filter by status"
// @Success 200 {object} dto.APIResponse{data=dto.ListSequencesResponse} "Sequences retrieved successfully"
// @Router /api/v1/sequences [get]
func (h *SequenceHandler) ListSequences(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	req := dto.ListSequencesRequest{
		OrganizationID: orgID,
		Page:           page,
		Limit:          limit,
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.sequenceFlow.ListSequences(createRequestContext(c, "/api/v1/sequences"), &req, metadata)
	if err != nil {
		log.Println("Sequence listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Sequence listing failed", "SEQUENCE_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Sequences retrieved successfully", result)
}

// UpdateSequenceSteps handles replacing the step list of an editable sequence
// @Summary Update Sequence Steps
// @Description Replace the full step list of a draft or paused sequence
// @Tags Sequences
// @Accept json
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Param request body dto.UpdateSequenceStepsRequest true "New step list"
// @Success 200 {object} dto.APIResponse{data=dto.UpdateSequenceStepsResponse} "Steps updated successfully"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Sequence not found"
// @Failure 409 {object} dto.APIResponse "Sequence not editable"
// @Router /api/v1/sequences/{uuid}/steps [put]
func (h *SequenceHandler) UpdateSequenceSteps(c fiber.Ctx) error {
	var req dto.UpdateSequenceStepsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors(err))
	}

	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}
	req.UUID = c.Params("uuid")
	req.OrganizationID = orgID

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.sequenceFlow.UpdateSequenceSteps(createRequestContext(c, "/api/v1/sequences/:uuid/steps"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		if be, ok := err.(*businessflow.BusinessError); ok {
			switch be.Code {
			case "SEQUENCE_NOT_EDITABLE":
				return h.ErrorResponse(c, fiber.StatusConflict, be.Message, be.Code, nil)
			case "SEQUENCE_VALIDATION_FAILED":
				return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, be.Error())
			}
		}
		log.Println("Sequence step update failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Sequence step update failed", "SEQUENCE_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Sequence steps updated successfully", result)
}

// ActivateSequence handles transitioning a sequence to active
// @Summary Activate Sequence
// @Tags Sequences
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Success 200 {object} dto.APIResponse{data=dto.TransitionSequenceResponse} "Sequence activated"
// @Router /api/v1/sequences/{uuid}/activate [post]
func (h *SequenceHandler) ActivateSequence(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/sequences/:uuid/activate", h.sequenceFlow.ActivateSequence)
}

// PauseSequence handles transitioning a sequence to paused
// @Summary Pause Sequence
// @Tags Sequences
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Success 200 {object} dto.APIResponse{data=dto.TransitionSequenceResponse} "Sequence paused"
// @Router /api/v1/sequences/{uuid}/pause [post]
func (h *SequenceHandler) PauseSequence(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/sequences/:uuid/pause", h.sequenceFlow.PauseSequence)
}

// ArchiveSequence handles transitioning a sequence to archived
// @Summary Archive Sequence
// @Tags Sequences
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Success 200 {object} dto.APIResponse{data=dto.TransitionSequenceResponse} "Sequence archived"
// @Router /api/v1/sequences/{uuid}/archive [post]
func (h *SequenceHandler) ArchiveSequence(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/sequences/:uuid/archive", h.sequenceFlow.ArchiveSequence)
}

type transitionFunc func(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *businessflow.ClientMetadata) (*dto.TransitionSequenceResponse, error)

func (h *SequenceHandler) transition(c fiber.Ctx, endpoint string, fn transitionFunc) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := dto.TransitionSequenceRequest{
		UUID:           c.Params("uuid"),
		OrganizationID: orgID,
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := fn(createRequestContext(c, endpoint), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		if businessflow.IsInvalidStatusTransition(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Invalid status transition", "INVALID_STATUS_TRANSITION", err.Error())
		}
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "SEQUENCE_VALIDATION_FAILED" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, be.Error())
		}
		log.Println("Sequence transition failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Sequence transition failed", "SEQUENCE_TRANSITION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

package handlers

import (
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/leadpulse/sequence-engine/app/dto"
	businessflow "github.com/leadpulse/sequence-engine/business_flow"
)

// EnrollmentHandlerInterface defines the contract for enrollment handlers
type EnrollmentHandlerInterface interface {
	EnrollLead(c fiber.Ctx) error
	StopEnrollment(c fiber.Ctx) error
	ListEnrollments(c fiber.Ctx) error
}

// EnrollmentHandler handles enrollment-related HTTP requests
type EnrollmentHandler struct {
	enrollmentFlow businessflow.EnrollmentFlow
	validator      *validator.Validate
}

// NewEnrollmentHandler creates a new enrollment handler
func NewEnrollmentHandler(enrollmentFlow businessflow.EnrollmentFlow) *EnrollmentHandler {
	return &EnrollmentHandler{
		enrollmentFlow: enrollmentFlow,
		validator:      validator.New(),
	}
}

func (h *EnrollmentHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *EnrollmentHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// EnrollLead handles enrolling a lead into a sequence
// @Summary Enroll Lead
// @Description Enroll a lead into an active sequence. Enrolling the same lead twice returns the existing enrollment.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Param request body dto.EnrollLeadRequest true "Lead to enroll"
// @Success 201 {object} dto.APIResponse{data=dto.EnrollLeadResponse} "Lead enrolled successfully"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Sequence not found"
// @Failure 409 {object} dto.APIResponse "Sequence not accepting enrollments"
// @Router /api/v1/sequences/{uuid}/enrollments [post]
func (h *EnrollmentHandler) EnrollLead(c fiber.Ctx) error {
	var req dto.EnrollLeadRequest
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
	req.SequenceUUID = c.Params("uuid")

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.enrollmentFlow.EnrollLead(createRequestContext(c, "/api/v1/sequences/:uuid/enrollments"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		if be, ok := err.(*businessflow.BusinessError); ok {
			switch be.Code {
			case "SEQUENCE_NOT_ACCEPTING_ENROLLMENTS", "SEQUENCE_HAS_NO_STEPS":
				return h.ErrorResponse(c, fiber.StatusConflict, be.Message, be.Code, nil)
			}
		}
		log.Println("Lead enrollment failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Lead enrollment failed", "ENROLLMENT_CREATION_FAILED", nil)
	}

	status := fiber.StatusCreated
	if result.AlreadyEnrolled {
		status = fiber.StatusOK
	}
	return h.SuccessResponse(c, status, result.Message, result)
}

// StopEnrollment handles permanently stopping an enrollment
// @Summary Stop Enrollment
// @Description Stop an enrollment so no further steps run for the lead
// @Tags Enrollments
// @Produce json
// @Param uuid path string true "Enrollment UUID"
// @Success 200 {object} dto.APIResponse{data=dto.StopEnrollmentResponse} "Enrollment stopped"
// @Failure 404 {object} dto.APIResponse "Enrollment not found"
// @Failure 409 {object} dto.APIResponse "Enrollment already finished"
// @Router /api/v1/enrollments/{uuid}/stop [post]
func (h *EnrollmentHandler) StopEnrollment(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := dto.StopEnrollmentRequest{
		OrganizationID: orgID,
		UUID:           c.Params("uuid"),
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.enrollmentFlow.StopEnrollment(createRequestContext(c, "/api/v1/enrollments/:uuid/stop"), &req, metadata)
	if err != nil {
		if businessflow.IsEnrollmentNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", "ENROLLMENT_NOT_FOUND", nil)
		}
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "ENROLLMENT_NOT_STOPPABLE" {
			return h.ErrorResponse(c, fiber.StatusConflict, be.Message, be.Code, nil)
		}
		log.Println("Enrollment stop failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Enrollment stop failed", "ENROLLMENT_STOP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ListEnrollments handles listing the enrollments of a sequence
// @Summary List Enrollments
// @Description List enrollments of a sequence, optionally filtered by status
// @Tags Enrollments
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Param status query string false "Filter by status"
// @Success 200 {object} dto.APIResponse{data=dto.ListEnrollmentsResponse} "Enrollments retrieved successfully"
// @Router /api/v1/sequences/{uuid}/enrollments [get]
func (h *EnrollmentHandler) ListEnrollments(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	req := dto.ListEnrollmentsRequest{
		OrganizationID: orgID,
		SequenceUUID:   c.Params("uuid"),
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
	result, err := h.enrollmentFlow.ListEnrollments(createRequestContext(c, "/api/v1/sequences/:uuid/enrollments"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		log.Println("Enrollment listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Enrollment listing failed", "ENROLLMENT_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Enrollments retrieved successfully", result)
}

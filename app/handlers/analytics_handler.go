package handlers

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/leadpulse/sequence-engine/app/dto"
	businessflow "github.com/leadpulse/sequence-engine/business_flow"
)

// AnalyticsHandlerInterface defines the contract for analytics handlers
type AnalyticsHandlerInterface interface {
	GetSequenceAnalytics(c fiber.Ctx) error
	ExportSequenceAnalytics(c fiber.Ctx) error
}

// AnalyticsHandler handles analytics-related HTTP requests
type AnalyticsHandler struct {
	analyticsFlow businessflow.AnalyticsFlow
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analyticsFlow businessflow.AnalyticsFlow) *AnalyticsHandler {
	return &AnalyticsHandler{
		analyticsFlow: analyticsFlow,
	}
}

func (h *AnalyticsHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *AnalyticsHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// GetSequenceAnalytics handles reading per-step counters of a sequence
// @Summary Get Sequence Analytics
// @Description Read per-step sent/delivered/opened/clicked/replied counters of a sequence
// @Tags Analytics
// @Produce json
// @Param uuid path string true "Sequence UUID"
// @Success 200 {object} dto.APIResponse{data=dto.GetSequenceAnalyticsResponse} "Analytics retrieved successfully"
// @Failure 404 {object} dto.APIResponse "Sequence not found"
// @Router /api/v1/sequences/{uuid}/analytics [get]
func (h *AnalyticsHandler) GetSequenceAnalytics(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := dto.GetSequenceAnalyticsRequest{
		UUID:           c.Params("uuid"),
		OrganizationID: orgID,
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.analyticsFlow.GetSequenceAnalytics(createRequestContext(c, "/api/v1/sequences/:uuid/analytics"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		log.Println("Analytics fetch failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Analytics fetch failed", "ANALYTICS_FETCH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ExportSequenceAnalytics handles downloading the counters as an Excel workbook
// @Summary Export Sequence Analytics
// @Description Download per-step counters of a sequence as an XLSX file
// @Tags Analytics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Sequence UUID"
// @Success 200 {file} binary "XLSX workbook"
// @Failure 404 {object} dto.APIResponse "Sequence not found"
// @Router /api/v1/sequences/{uuid}/analytics/export [get]
func (h *AnalyticsHandler) ExportSequenceAnalytics(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization ID not found in context", "MISSING_ORGANIZATION_ID", nil)
	}

	req := dto.GetSequenceAnalyticsRequest{
		UUID:           c.Params("uuid"),
		OrganizationID: orgID,
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	filename, content, err := h.analyticsFlow.ExportSequenceAnalytics(createRequestContext(c, "/api/v1/sequences/:uuid/analytics/export"), &req, metadata)
	if err != nil {
		if businessflow.IsSequenceNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
		}
		log.Println("Analytics export failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Analytics export failed", "ANALYTICS_EXPORT_FAILED", nil)
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(content)
}

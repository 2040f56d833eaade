package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/leadpulse/sequence-engine/app/dto"
	businessflow "github.com/leadpulse/sequence-engine/business_flow"
)

// WebhookHandlerInterface defines the contract for webhook handlers
type WebhookHandlerInterface interface {
	IngestChannelEvent(c fiber.Ctx) error
}

// WebhookHandler handles channel provider webhooks
type WebhookHandler struct {
	webhookFlow businessflow.WebhookFlow
	validator   *validator.Validate
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(webhookFlow businessflow.WebhookFlow) *WebhookHandler {
	return &WebhookHandler{
		webhookFlow: webhookFlow,
		validator:   validator.New(),
	}
}

func (h *WebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *WebhookHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// IngestChannelEvent handles a provider webhook reporting a message event
// @Summary Ingest Channel Event
// @Description Record a delivery, open, click, reply, bounce or failure a channel provider reports for a sent message
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body dto.ChannelEventRequest true "Channel event"
// @Success 200 {object} dto.APIResponse{data=dto.ChannelEventResponse} "Event ingested"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid webhook token"
// @Router /api/v1/webhooks/channel-events [post]
func (h *WebhookHandler) IngestChannelEvent(c fiber.Ctx) error {
	var req dto.ChannelEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	result, err := h.webhookFlow.IngestChannelEvent(createRequestContext(c, "/api/v1/webhooks/channel-events"), &req, metadata)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "EVENT_VALIDATION_FAILED" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
		}
		log.Println("Channel event ingestion failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Channel event ingestion failed", "EVENT_INGEST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

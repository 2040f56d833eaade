package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/app/scheduler"
	"github.com/leadpulse/sequence-engine/utils"
)

// DueWorkRunner runs one scheduler batch for a single tenant
type DueWorkRunner interface {
	RunDueWorkForOrganization(ctx context.Context, organizationID uint, now time.Time) (scheduler.Outcome, error)
}

// SchedulerHandlerInterface defines the contract for scheduler handlers
type SchedulerHandlerInterface interface {
	TriggerRun(c fiber.Ctx) error
}

// SchedulerHandler exposes the scheduler's batch run to external job runners
type SchedulerHandler struct {
	runner DueWorkRunner
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(runner DueWorkRunner) *SchedulerHandler {
	return &SchedulerHandler{runner: runner}
}

func (h *SchedulerHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *SchedulerHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// TriggerRun runs one scheduler batch for the caller's organization
// @Summary Trigger Scheduler Run
// @Description Claim and process every due enrollment of the caller's organization. Safe to invoke while the periodic loop is running.
// @Tags Scheduler
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=dto.RunDueWorkResponse} "Batch run finished"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/v1/scheduler/run [post]
func (h *SchedulerHandler) TriggerRun(c fiber.Ctx) error {
	orgID, ok := organizationID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization not resolved from token", "MISSING_ORGANIZATION", nil)
	}

	outcome, err := h.runner.RunDueWorkForOrganization(createRequestContext(c, "/api/v1/scheduler/run"), orgID, utils.UTCNow())
	if err != nil {
		log.Println("Triggered scheduler run failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Scheduler run failed", "SCHEDULER_RUN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Scheduler run finished", dto.RunDueWorkResponse{
		Message:   "Scheduler run finished",
		Processed: outcome.Processed,
		Skipped:   outcome.Skipped,
		Failed:    outcome.Failed,
	})
}

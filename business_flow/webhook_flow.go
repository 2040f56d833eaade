package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/app/scheduler"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/leadpulse/sequence-engine/utils"
)

// WebhookFlow handles provider-reported channel events
type WebhookFlow interface {
	IngestChannelEvent(ctx context.Context, req *dto.ChannelEventRequest, metadata *ClientMetadata) (*dto.ChannelEventResponse, error)
}

// WebhookFlowImpl implements the webhook business flow
type WebhookFlowImpl struct {
	eventRepo     repository.ChannelEventRepository
	executionRepo repository.StepExecutionRepository
	analyticsRepo repository.StepAnalyticsRepository
	outcomes      *scheduler.OutcomeCache
	txMgr         repository.TxManager
	logger        *log.Logger
}

// NewWebhookFlow creates a new webhook flow instance
func NewWebhookFlow(
	eventRepo repository.ChannelEventRepository,
	executionRepo repository.StepExecutionRepository,
	analyticsRepo repository.StepAnalyticsRepository,
	outcomes *scheduler.OutcomeCache,
	txMgr repository.TxManager,
	logger *log.Logger,
) WebhookFlow {
	return &WebhookFlowImpl{
		eventRepo:     eventRepo,
		executionRepo: executionRepo,
		analyticsRepo: analyticsRepo,
		outcomes:      outcomes,
		txMgr:         txMgr,
		logger:        logger,
	}
}

// IngestChannelEvent records what a provider reported about a sent message.
// Matched events update per-step counters and the outcome cache the condition
// evaluator reads. Events for unknown message IDs are acknowledged but dropped,
// providers retry on non-2xx and the ID will never become known.
func (s *WebhookFlowImpl) IngestChannelEvent(ctx context.Context, req *dto.ChannelEventRequest, metadata *ClientMetadata) (*dto.ChannelEventResponse, error) {
	eventType := models.ChannelEventType(req.Type)
	if !eventType.Valid() {
		return nil, NewBusinessErrorf("EVENT_VALIDATION_FAILED", "Unknown channel event type %q", ErrEventTypeInvalid, req.Type)
	}

	execution, err := s.executionRepo.ByChannelMessageID(ctx, req.ChannelMessageID)
	if err != nil {
		return nil, NewBusinessError("EXECUTION_LOOKUP_FAILED", "Failed to lookup step execution", err)
	}
	if execution == nil {
		s.logger.Printf("channel event %s for unknown message %s dropped", eventType, req.ChannelMessageID)
		return &dto.ChannelEventResponse{
			Message: "Event acknowledged, no matching message",
			Matched: false,
		}, nil
	}

	occurredAt := utils.UTCNow()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	event := &models.ChannelEvent{
		OrganizationID:   execution.OrganizationID,
		ChannelMessageID: req.ChannelMessageID,
		Type:             eventType,
		OccurredAt:       occurredAt,
		Payload:          req.Payload,
	}

	deltas := eventDeltas(eventType)
	err = s.txMgr.Do(ctx, func(txCtx context.Context) error {
		if err := s.eventRepo.Save(txCtx, event); err != nil {
			return fmt.Errorf("failed to save channel event: %w", err)
		}
		if deltas.IsZero() {
			return nil
		}
		return s.analyticsRepo.Increment(txCtx, execution.OrganizationID, execution.SequenceID, execution.StepID, deltas)
	})
	if err != nil {
		return nil, NewBusinessError("EVENT_INGEST_FAILED", "Failed to ingest channel event", err)
	}

	// Best effort; the evaluator falls back to the database on a cache miss.
	s.outcomes.Add(ctx, req.ChannelMessageID, eventType)

	return &dto.ChannelEventResponse{
		Message: "Event ingested successfully",
		Matched: true,
	}, nil
}

// eventDeltas maps a provider event to analytics counter increments. Bounces
// and failures do not increment counters, they only drive step conditions.
func eventDeltas(t models.ChannelEventType) models.CounterDeltas {
	switch t {
	case models.ChannelEventDelivered:
		return models.CounterDeltas{Delivered: 1}
	case models.ChannelEventOpened:
		return models.CounterDeltas{Opened: 1}
	case models.ChannelEventClicked:
		return models.CounterDeltas{Clicked: 1}
	case models.ChannelEventReplied:
		return models.CounterDeltas{Replied: 1}
	default:
		return models.CounterDeltas{}
	}
}

package dto

import (
	"encoding/json"
	"time"
)

// ChannelEventRequest represents a provider webhook reporting what happened
// to a previously sent message
type ChannelEventRequest struct {
	ChannelMessageID string          `json:"channel_message_id" validate:"required,min=1,max=512"`
	Type             string          `json:"type" validate:"required,oneof=delivered bounced opened clicked replied failed"`
	OccurredAt       *time.Time      `json:"occurred_at,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// ChannelEventResponse represents the response to a provider webhook.
// Matched reports whether the message ID belonged to a known step execution.
type ChannelEventResponse struct {
	Message string `json:"message"`
	Matched bool   `json:"matched"`
}

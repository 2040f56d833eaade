package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/leadpulse/sequence-engine/utils"
)

// ChannelEventType names a provider-reported delivery or engagement event
type ChannelEventType string

const (
	ChannelEventDelivered ChannelEventType = "delivered"
	ChannelEventBounced   ChannelEventType = "bounced"
	ChannelEventOpened    ChannelEventType = "opened"
	ChannelEventClicked   ChannelEventType = "clicked"
	ChannelEventReplied   ChannelEventType = "replied"
	ChannelEventFailed    ChannelEventType = "failed"
)

// String returns the string representation of the event type
func (t ChannelEventType) String() string {
	return string(t)
}

// Valid checks if the event type is valid
func (t ChannelEventType) Valid() bool {
	switch t {
	case ChannelEventDelivered, ChannelEventBounced, ChannelEventOpened,
		ChannelEventClicked, ChannelEventReplied, ChannelEventFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ChannelEventType
func (t *ChannelEventType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = ChannelEventType(v)
	case []byte:
		*t = ChannelEventType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ChannelEventType", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ChannelEventType
func (t ChannelEventType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid ChannelEventType: %s", t)
	}
	return string(t), nil
}

// ChannelEvent is a provider callback (delivery receipt, open, click,
// reply) correlated to a step execution via the channel message id.
type ChannelEvent struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	OrganizationID   uint             `gorm:"not null;index:idx_channel_events_organization_id" json:"organization_id"`
	ChannelMessageID string           `gorm:"type:varchar(255);not null;index:idx_channel_events_channel_message_id" json:"channel_message_id"`
	Type             ChannelEventType `gorm:"type:channel_event_type;not null" json:"type"`
	OccurredAt       time.Time        `gorm:"not null;index:idx_channel_events_occurred_at" json:"occurred_at"`
	Payload          json.RawMessage  `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt        time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (ChannelEvent) TableName() string {
	return "channel_events"
}

// BeforeCreate is called before creating a new record
func (e *ChannelEvent) BeforeCreate(tx *gorm.DB) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = utils.UTCNow()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	return nil
}

// ChannelEventFilter represents filter criteria for channel events
type ChannelEventFilter struct {
	ID               *uint             `json:"id,omitempty"`
	OrganizationID   *uint             `json:"organization_id,omitempty"`
	ChannelMessageID *string           `json:"channel_message_id,omitempty"`
	Type             *ChannelEventType `json:"type,omitempty"`
	OccurredAfter    *time.Time        `json:"occurred_after,omitempty"`
	OccurredBefore   *time.Time        `json:"occurred_before,omitempty"`
}

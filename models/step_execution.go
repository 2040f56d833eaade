package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadpulse/sequence-engine/utils"
)

// ExecutionStatus represents the outcome of a step execution
type ExecutionStatus string

const (
	ExecutionStatusSent      ExecutionStatus = "sent"
	ExecutionStatusDelivered ExecutionStatus = "delivered"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
)

// String returns the string representation of the status
func (s ExecutionStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusSent, ExecutionStatusDelivered,
		ExecutionStatusFailed, ExecutionStatusSkipped:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ExecutionStatus
func (s *ExecutionStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ExecutionStatus(v)
	case []byte:
		*s = ExecutionStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ExecutionStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ExecutionStatus
func (s ExecutionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ExecutionStatus: %s", s)
	}
	return string(s), nil
}

// StepExecution is the append-only record of one step executed for one
// enrollment. At most one row exists per (enrollment, step); its presence
// is what makes step execution at-most-once.
type StepExecution struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_step_executions_uuid" json:"uuid"`
	OrganizationID uint            `gorm:"not null;index:idx_step_executions_organization_id" json:"organization_id"`
	EnrollmentID   uint            `gorm:"not null;uniqueIndex:uk_step_executions_enrollment_step" json:"enrollment_id"`
	SequenceID     uint            `gorm:"not null;index:idx_step_executions_sequence_id" json:"sequence_id"`
	StepID         uint            `gorm:"not null;uniqueIndex:uk_step_executions_enrollment_step" json:"step_id"`
	Channel        ChannelType     `gorm:"type:channel_type;not null" json:"channel"`
	Status         ExecutionStatus `gorm:"type:execution_status;not null" json:"status"`

	// ChannelMessageID is the provider's message id, used to correlate
	// webhook events back to this execution.
	ChannelMessageID *string `gorm:"type:varchar(255);index:idx_step_executions_channel_message_id" json:"channel_message_id,omitempty"`
	ErrorMessage     *string `gorm:"type:text" json:"error_message,omitempty"`

	ExecutedAt time.Time `gorm:"not null;index:idx_step_executions_executed_at" json:"executed_at"`
	CreatedAt  time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (StepExecution) TableName() string {
	return "step_executions"
}

// BeforeCreate is called before creating a new record
func (e *StepExecution) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = utils.UTCNow()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	return nil
}

// StepExecutionFilter represents filter criteria for step executions
type StepExecutionFilter struct {
	ID               *uint            `json:"id,omitempty"`
	OrganizationID   *uint            `json:"organization_id,omitempty"`
	EnrollmentID     *uint            `json:"enrollment_id,omitempty"`
	StepID           *uint            `json:"step_id,omitempty"`
	Status           *ExecutionStatus `json:"status,omitempty"`
	ChannelMessageID *string          `json:"channel_message_id,omitempty"`
}

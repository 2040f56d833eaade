package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadpulse/sequence-engine/utils"
)

// EnrollmentStatus represents the lifecycle status of an enrollment
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusStopped   EnrollmentStatus = "stopped"
	EnrollmentStatusError     EnrollmentStatus = "error"
)

// String returns the string representation of the status
func (s EnrollmentStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusCompleted,
		EnrollmentStatusStopped, EnrollmentStatusError:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for EnrollmentStatus
func (s *EnrollmentStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = EnrollmentStatus(v)
	case []byte:
		*s = EnrollmentStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into EnrollmentStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for EnrollmentStatus
func (s EnrollmentStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid EnrollmentStatus: %s", s)
	}
	return string(s), nil
}

// RunKind distinguishes what the scheduler should do when the enrollment
// comes due: execute the step at the cursor, or re-check a deferred
// condition without sending anything.
type RunKind string

const (
	RunKindExecuteStep       RunKind = "execute_step"
	RunKindEvaluateCondition RunKind = "evaluate_condition"
)

// String returns the string representation of the run kind
func (k RunKind) String() string {
	return string(k)
}

// Valid checks if the run kind is valid
func (k RunKind) Valid() bool {
	switch k {
	case RunKindExecuteStep, RunKindEvaluateCondition:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for RunKind
func (k *RunKind) Scan(value any) error {
	if value == nil {
		*k = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*k = RunKind(v)
	case []byte:
		*k = RunKind(string(v))
	default:
		return fmt.Errorf("cannot scan %T into RunKind", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for RunKind
func (k RunKind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid RunKind: %s", k)
	}
	return string(k), nil
}

// Enrollment tracks one lead's progress through one sequence. The cursor
// fields (current_step_index, next_run_at, next_run_kind,
// pending_fallback_step_id) together with the claim fields are the whole
// scheduling state; workers never keep progress in memory.
type Enrollment struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uk_enrollments_uuid" json:"uuid"`
	OrganizationID uint             `gorm:"not null;index:idx_enrollments_organization_id" json:"organization_id"`
	SequenceID     uint             `gorm:"not null;uniqueIndex:uk_enrollments_sequence_lead" json:"sequence_id"`
	LeadID         string           `gorm:"type:varchar(255);not null;uniqueIndex:uk_enrollments_sequence_lead" json:"lead_id"`
	Status         EnrollmentStatus `gorm:"type:enrollment_status;not null;default:'active';index:idx_enrollments_status" json:"status"`

	CurrentStepIndex      int        `gorm:"not null;default:0" json:"current_step_index"`
	NextRunAt             *time.Time `gorm:"index:idx_enrollments_next_run_at" json:"next_run_at,omitempty"`
	NextRunKind           RunKind    `gorm:"type:run_kind;not null;default:'execute_step'" json:"next_run_kind"`
	PendingFallbackStepID *uint      `json:"pending_fallback_step_id,omitempty"`

	ClaimedBy      *string    `gorm:"type:varchar(255)" json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`

	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	LastError *string    `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_enrollments_created_at" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Enrollment) TableName() string {
	return "enrollments"
}

// BeforeCreate is called before creating a new record
func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EnrollmentStatusActive
	}
	if e.NextRunKind == "" {
		e.NextRunKind = RunKindExecuteStep
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (e *Enrollment) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	e.UpdatedAt = &now
	return nil
}

// IsDue reports whether the enrollment has work scheduled at or before now
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.Status == EnrollmentStatusActive &&
		e.NextRunAt != nil && !e.NextRunAt.After(now)
}

// IsClaimed reports whether another worker holds an unexpired lease
func (e *Enrollment) IsClaimed(now time.Time) bool {
	return e.ClaimedBy != nil &&
		e.ClaimExpiresAt != nil && e.ClaimExpiresAt.After(now)
}

// EnrollmentFilter represents filter criteria for enrollments
type EnrollmentFilter struct {
	ID             *uint             `json:"id,omitempty"`
	UUID           *uuid.UUID        `json:"uuid,omitempty"`
	OrganizationID *uint             `json:"organization_id,omitempty"`
	SequenceID     *uint             `json:"sequence_id,omitempty"`
	LeadID         *string           `json:"lead_id,omitempty"`
	Status         *EnrollmentStatus `json:"status,omitempty"`
	DueBefore      *time.Time        `json:"due_before,omitempty"`
	CreatedAfter   *time.Time        `json:"created_after,omitempty"`
	CreatedBefore  *time.Time        `json:"created_before,omitempty"`
}

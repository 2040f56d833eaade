package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadpulse/sequence-engine/utils"
)

// SequenceStatus represents the lifecycle status of a sequence
type SequenceStatus string

const (
	SequenceStatusDraft    SequenceStatus = "draft"
	SequenceStatusActive   SequenceStatus = "active"
	SequenceStatusPaused   SequenceStatus = "paused"
	SequenceStatusArchived SequenceStatus = "archived"
)

// String returns the string representation of the status
func (s SequenceStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s SequenceStatus) Valid() bool {
	switch s {
	case SequenceStatusDraft, SequenceStatusActive, SequenceStatusPaused, SequenceStatusArchived:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for SequenceStatus
func (s *SequenceStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = SequenceStatus(v)
	case []byte:
		*s = SequenceStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SequenceStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for SequenceStatus
func (s SequenceStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SequenceStatus: %s", s)
	}
	return string(s), nil
}

// Sequence represents an outreach sequence in the database
type Sequence struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_sequences_uuid" json:"uuid"`
	OrganizationID uint           `gorm:"not null;index:idx_sequences_organization_id" json:"organization_id"`
	Name           string         `gorm:"type:varchar(255);not null" json:"name"`
	Description    *string        `gorm:"type:text" json:"description,omitempty"`
	Status         SequenceStatus `gorm:"type:sequence_status;not null;default:'draft';index:idx_sequences_status" json:"status"`
	CreatedAt      time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_sequences_created_at" json:"created_at"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// TableName returns the table name for the model
func (Sequence) TableName() string {
	return "sequences"
}

// BeforeCreate is called before creating a new record
func (s *Sequence) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SequenceStatusDraft
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *Sequence) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// IsEditable checks if the sequence's steps may be modified.
// Active and archived sequences are frozen.
func (s *Sequence) IsEditable() bool {
	return s.Status == SequenceStatusDraft || s.Status == SequenceStatusPaused
}

// AcceptsEnrollments checks if new leads may be enrolled
func (s *Sequence) AcceptsEnrollments() bool {
	return s.Status == SequenceStatusActive
}

// CanTransitionTo checks if the sequence can transition to the given status
func (s *Sequence) CanTransitionTo(newStatus SequenceStatus) bool {
	switch s.Status {
	case SequenceStatusDraft:
		return newStatus == SequenceStatusActive || newStatus == SequenceStatusArchived
	case SequenceStatusActive:
		return newStatus == SequenceStatusPaused || newStatus == SequenceStatusArchived
	case SequenceStatusPaused:
		return newStatus == SequenceStatusActive || newStatus == SequenceStatusArchived
	default:
		return false
	}
}

// MainSteps returns the main-path steps ordered by step index. Fallback
// steps are excluded; they are reached only through conditions.
func (s *Sequence) MainSteps() []SequenceStep {
	var main []SequenceStep
	for _, step := range s.Steps {
		if step.Kind == StepKindMain {
			main = append(main, step)
		}
	}
	// Step lists are small; insertion sort keeps this dependency-free.
	for i := 1; i < len(main); i++ {
		for j := i; j > 0 && main[j-1].StepIndex > main[j].StepIndex; j-- {
			main[j-1], main[j] = main[j], main[j-1]
		}
	}
	return main
}

// MainStepAt returns the main step with the given index, or nil
func (s *Sequence) MainStepAt(index int) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].Kind == StepKindMain && s.Steps[i].StepIndex == index {
			return &s.Steps[i]
		}
	}
	return nil
}

// StepByID returns the step with the given id, or nil
func (s *Sequence) StepByID(id uint) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// LastMainIndex returns the highest main step index, or -1 when the
// sequence has no main steps.
func (s *Sequence) LastMainIndex() int {
	last := -1
	for _, step := range s.Steps {
		if step.Kind == StepKindMain && step.StepIndex > last {
			last = step.StepIndex
		}
	}
	return last
}

// SequenceFilter represents filter criteria for sequences
type SequenceFilter struct {
	ID             *uint           `json:"id,omitempty"`
	UUID           *uuid.UUID      `json:"uuid,omitempty"`
	OrganizationID *uint           `json:"organization_id,omitempty"`
	Status         *SequenceStatus `json:"status,omitempty"`
	Name           *string         `json:"name,omitempty"`
	CreatedAfter   *time.Time      `json:"created_after,omitempty"`
	CreatedBefore  *time.Time      `json:"created_before,omitempty"`
}

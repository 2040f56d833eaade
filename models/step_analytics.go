package models

import (
	"time"
)

// StepAnalytics holds per-step engagement counters. One row exists per
// (sequence, step); counters only grow and are incremented atomically in
// the database.
type StepAnalytics struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	OrganizationID uint `gorm:"not null;index:idx_step_analytics_organization_id" json:"organization_id"`
	SequenceID     uint `gorm:"not null;uniqueIndex:uk_step_analytics_sequence_step" json:"sequence_id"`
	StepID         uint `gorm:"not null;uniqueIndex:uk_step_analytics_sequence_step" json:"step_id"`

	Sent      int64 `gorm:"not null;default:0" json:"sent"`
	Delivered int64 `gorm:"not null;default:0" json:"delivered"`
	Opened    int64 `gorm:"not null;default:0" json:"opened"`
	Clicked   int64 `gorm:"not null;default:0" json:"clicked"`
	Replied   int64 `gorm:"not null;default:0" json:"replied"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for the model
func (StepAnalytics) TableName() string {
	return "step_analytics"
}

// CounterDeltas carries the increments for one analytics update
type CounterDeltas struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Opened    int64 `json:"opened"`
	Clicked   int64 `json:"clicked"`
	Replied   int64 `json:"replied"`
}

// IsZero reports whether the update would change nothing
func (d CounterDeltas) IsZero() bool {
	return d == CounterDeltas{}
}

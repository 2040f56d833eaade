package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/leadpulse/sequence-engine/utils"
)

// StepKind distinguishes main-path steps from fallback steps
type StepKind string

const (
	StepKindMain     StepKind = "main"
	StepKindFallback StepKind = "fallback"
)

// String returns the string representation of the kind
func (k StepKind) String() string {
	return string(k)
}

// Valid checks if the kind is valid
func (k StepKind) Valid() bool {
	switch k {
	case StepKindMain, StepKindFallback:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for StepKind
func (k *StepKind) Scan(value any) error {
	if value == nil {
		*k = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*k = StepKind(v)
	case []byte:
		*k = StepKind(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StepKind", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for StepKind
func (k StepKind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid StepKind: %s", k)
	}
	return string(k), nil
}

// StepData holds channel-specific step parameters (agent id for voice,
// message kind for social, reply-to for email) as a JSONB column
type StepData map[string]string

// Value implements the driver.Valuer interface for StepData
func (d StepData) Value() (driver.Value, error) {
	if d == nil {
		return json.Marshal(map[string]string{})
	}
	return json.Marshal(d)
}

// Scan implements the sql.Scanner interface for StepData
func (d *StepData) Scan(value any) error {
	if value == nil {
		*d = StepData{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StepData", value)
	}

	return json.Unmarshal(bytes, d)
}

// SequenceStep represents one step of a sequence. Main steps carry a
// StepIndex and form the ordered path; fallback steps carry a ParentIndex
// pointing at the main step whose conditions reference them.
type SequenceStep struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	SequenceID  uint        `gorm:"not null;index:idx_sequence_steps_sequence_id" json:"sequence_id"`
	Kind        StepKind    `gorm:"type:step_kind;not null;default:'main'" json:"kind"`
	StepIndex   int         `gorm:"not null;default:0" json:"step_index"`
	ParentIndex *int        `json:"parent_index,omitempty"`
	Channel     ChannelType `gorm:"type:channel_type;not null" json:"channel"`
	TemplateID  *string     `gorm:"type:varchar(255)" json:"template_id,omitempty"`
	DelayHours  int         `gorm:"not null;default:0" json:"delay_hours"`
	Data        StepData    `gorm:"type:jsonb;not null;default:'{}'" json:"data"`
	CreatedAt   time.Time   `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	// Relations
	Conditions []StepCondition `gorm:"foreignKey:StepID" json:"conditions,omitempty"`
}

// TableName returns the table name for the model
func (SequenceStep) TableName() string {
	return "sequence_steps"
}

// BeforeCreate is called before creating a new record
func (s *SequenceStep) BeforeCreate(tx *gorm.DB) error {
	if s.Kind == "" {
		s.Kind = StepKindMain
	}
	if s.Data == nil {
		s.Data = StepData{}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// Delay returns the step's configured wait as a duration
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayHours) * time.Hour
}

// ConditionType names the outcome a step condition matches against
type ConditionType string

const (
	ConditionTypeBounced ConditionType = "bounced"
	ConditionTypeFailed  ConditionType = "failed"
	ConditionTypeNoReply ConditionType = "no_reply"
	ConditionTypeOpened  ConditionType = "opened"
	ConditionTypeClicked ConditionType = "clicked"
	ConditionTypeReplied ConditionType = "replied"
)

// String returns the string representation of the condition type
func (t ConditionType) String() string {
	return string(t)
}

// Valid checks if the condition type is valid
func (t ConditionType) Valid() bool {
	switch t {
	case ConditionTypeBounced, ConditionTypeFailed, ConditionTypeNoReply,
		ConditionTypeOpened, ConditionTypeClicked, ConditionTypeReplied:
		return true
	default:
		return false
	}
}

// Deferred reports whether the condition cannot be decided at send time
// and needs a later evaluation pass
func (t ConditionType) Deferred() bool {
	return t == ConditionTypeNoReply
}

// StepCondition attaches a fallback branch to a step. Conditions are
// checked in Position order; the first match wins.
type StepCondition struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	StepID         uint          `gorm:"not null;index:idx_step_conditions_step_id" json:"step_id"`
	Position       int           `gorm:"not null;default:0" json:"position"`
	Type           ConditionType `gorm:"type:condition_type;not null" json:"type"`
	FallbackStepID uint          `gorm:"not null" json:"fallback_step_id"`
	WaitHours      int           `gorm:"not null;default:0" json:"wait_hours"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (StepCondition) TableName() string {
	return "step_conditions"
}

// Wait returns the condition's observation window as a duration
func (c *StepCondition) Wait() time.Duration {
	return time.Duration(c.WaitHours) * time.Hour
}

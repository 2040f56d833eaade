package dto

import (
	"time"
)

// StepConditionRequest describes one condition attached to a step.
// FallbackStep is the zero-based index of the fallback step inside the
// request's steps array; it is resolved to a database ID on save.
type StepConditionRequest struct {
	Type         string `json:"type" validate:"required,oneof=bounced failed no_reply opened clicked replied"`
	FallbackStep int    `json:"fallback_step" validate:"gte=0"`
	WaitHours    int    `json:"wait_hours,omitempty" validate:"omitempty,gte=1,lte=720"`
}

// SequenceStepRequest describes one step of a sequence being created or updated
type SequenceStepRequest struct {
	Kind        string                 `json:"kind" validate:"required,oneof=main fallback"`
	StepIndex   int                    `json:"step_index" validate:"gte=0"`
	ParentIndex *int                   `json:"parent_index,omitempty" validate:"omitempty,gte=0"`
	Channel     string                 `json:"channel" validate:"required,oneof=email sms social voice"`
	TemplateID  *string                `json:"template_id,omitempty" validate:"omitempty,min=1,max=255"`
	DelayHours  int                    `json:"delay_hours" validate:"gte=0,lte=8760"`
	Data        map[string]string      `json:"data,omitempty"`
	Conditions  []StepConditionRequest `json:"conditions,omitempty" validate:"omitempty,max=16,dive"`
}

// CreateSequenceRequest represents the request to create a new sequence
type CreateSequenceRequest struct {
	OrganizationID uint                  `json:"-"`
	Name           string                `json:"name" validate:"required,min=1,max=255"`
	Description    *string               `json:"description,omitempty" validate:"omitempty,max=2000"`
	Steps          []SequenceStepRequest `json:"steps,omitempty" validate:"omitempty,max=64,dive"`
}

// CreateSequenceResponse represents the response to create a new sequence
type CreateSequenceResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// GetSequenceRequest represents the request to get an existing sequence
type GetSequenceRequest struct {
	UUID           string `json:"-"`
	OrganizationID uint   `json:"-"`
}

// StepConditionResponse represents a stored step condition in responses
type StepConditionResponse struct {
	Position       int    `json:"position"`
	Type           string `json:"type"`
	FallbackStepID uint   `json:"fallback_step_id"`
	WaitHours      int    `json:"wait_hours,omitempty"`
}

// SequenceStepResponse represents a stored step in responses
type SequenceStepResponse struct {
	ID          uint                    `json:"id"`
	Kind        string                  `json:"kind"`
	StepIndex   int                     `json:"step_index"`
	ParentIndex *int                    `json:"parent_index,omitempty"`
	Channel     string                  `json:"channel"`
	TemplateID  *string                 `json:"template_id,omitempty"`
	DelayHours  int                     `json:"delay_hours"`
	Data        map[string]string       `json:"data,omitempty"`
	Conditions  []StepConditionResponse `json:"conditions,omitempty"`
}

// GetSequenceResponse represents the sequence specification in responses
type GetSequenceResponse struct {
	UUID        string                 `json:"uuid"`
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	Status      string                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   *time.Time             `json:"updated_at,omitempty"`
	Steps       []SequenceStepResponse `json:"steps"`
}

// ListSequencesRequest represents the request to list sequences of an organization
type ListSequencesRequest struct {
	OrganizationID uint    `json:"-"`
	Status         *string `json:"status,omitempty" validate:"omitempty,oneof=draft active paused archived"`
	Page           int     `json:"page" validate:"omitempty,gte=1"`
	Limit          int     `json:"limit" validate:"omitempty,gte=1,lte=200"`
}

// SequenceSummary represents one row of a sequence listing
type SequenceSummary struct {
	UUID      string     `json:"uuid"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StepCount int        `json:"step_count"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ListSequencesResponse represents the response to list sequences
type ListSequencesResponse struct {
	Message string            `json:"message"`
	Items   []SequenceSummary `json:"items"`
	Total   int64             `json:"total"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
}

// UpdateSequenceStepsRequest represents the request to replace the step list
// of a draft or paused sequence
type UpdateSequenceStepsRequest struct {
	UUID           string                `json:"-"`
	OrganizationID uint                  `json:"-"`
	Steps          []SequenceStepRequest `json:"steps" validate:"required,min=1,max=64,dive"`
}

// UpdateSequenceStepsResponse represents the response to replace the step list
type UpdateSequenceStepsResponse struct {
	Message string `json:"message"`
}

// TransitionSequenceRequest represents the request to change a sequence status
type TransitionSequenceRequest struct {
	UUID           string `json:"-"`
	OrganizationID uint   `json:"-"`
}

// TransitionSequenceResponse represents the response to change a sequence status
type TransitionSequenceResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

package dto

import (
	"time"
)

// EnrollLeadRequest represents the request to enroll a lead into a sequence
type EnrollLeadRequest struct {
	OrganizationID uint   `json:"-"`
	SequenceUUID   string `json:"-"`
	LeadID         string `json:"lead_id" validate:"required,min=1,max=255"`
}

// EnrollLeadResponse represents the response to enroll a lead
type EnrollLeadResponse struct {
	Message          string     `json:"message"`
	UUID             string     `json:"uuid"`
	Status           string     `json:"status"`
	CurrentStepIndex int        `json:"current_step_index"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
	AlreadyEnrolled  bool       `json:"already_enrolled"`
}

// StopEnrollmentRequest represents the request to stop an active enrollment
type StopEnrollmentRequest struct {
	OrganizationID uint   `json:"-"`
	UUID           string `json:"-"`
}

// StopEnrollmentResponse represents the response to stop an enrollment
type StopEnrollmentResponse struct {
	Message   string     `json:"message"`
	Status    string     `json:"status"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// ListEnrollmentsRequest represents the request to list enrollments of a sequence
type ListEnrollmentsRequest struct {
	OrganizationID uint    `json:"-"`
	SequenceUUID   string  `json:"-"`
	Status         *string `json:"status,omitempty" validate:"omitempty,oneof=active completed stopped error"`
	Page           int     `json:"page" validate:"omitempty,gte=1"`
	Limit          int     `json:"limit" validate:"omitempty,gte=1,lte=200"`
}

// EnrollmentSummary represents one row of an enrollment listing
type EnrollmentSummary struct {
	UUID             string     `json:"uuid"`
	LeadID           string     `json:"lead_id"`
	Status           string     `json:"status"`
	CurrentStepIndex int        `json:"current_step_index"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
	NextRunKind      string     `json:"next_run_kind"`
	LastError        *string    `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ListEnrollmentsResponse represents the response to list enrollments
type ListEnrollmentsResponse struct {
	Message string              `json:"message"`
	Items   []EnrollmentSummary `json:"items"`
	Total   int64               `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
}

// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds client-related information for audit logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// getSequence loads a sequence by its UUID and enforces organization ownership.
// A sequence belonging to another organization is reported as not found.
func getSequence(ctx context.Context, repo repository.SequenceRepository, rawUUID string, organizationID uint) (*models.Sequence, error) {
	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, ErrSequenceNotFound
	}
	seq, err := repo.ByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if seq == nil || seq.OrganizationID != organizationID {
		return nil, ErrSequenceNotFound
	}
	return seq, nil
}

// getEnrollment loads an enrollment by its UUID and enforces organization ownership
func getEnrollment(ctx context.Context, repo repository.EnrollmentRepository, rawUUID string, organizationID uint) (*models.Enrollment, error) {
	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, ErrEnrollmentNotFound
	}
	e, err := repo.ByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil || e.OrganizationID != organizationID {
		return nil, ErrEnrollmentNotFound
	}
	return e, nil
}

package businessflow

import (
	"context"
	"fmt"

	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/leadpulse/sequence-engine/utils"
)

// EnrollmentFlow handles the enrollment business logic
type EnrollmentFlow interface {
	EnrollLead(ctx context.Context, req *dto.EnrollLeadRequest, metadata *ClientMetadata) (*dto.EnrollLeadResponse, error)
	StopEnrollment(ctx context.Context, req *dto.StopEnrollmentRequest, metadata *ClientMetadata) (*dto.StopEnrollmentResponse, error)
	ListEnrollments(ctx context.Context, req *dto.ListEnrollmentsRequest, metadata *ClientMetadata) (*dto.ListEnrollmentsResponse, error)
}

// EnrollmentFlowImpl implements the enrollment business flow
type EnrollmentFlowImpl struct {
	enrollmentRepo repository.EnrollmentRepository
	sequenceRepo   repository.SequenceRepository
}

// NewEnrollmentFlow creates a new enrollment flow instance
func NewEnrollmentFlow(
	enrollmentRepo repository.EnrollmentRepository,
	sequenceRepo repository.SequenceRepository,
) EnrollmentFlow {
	return &EnrollmentFlowImpl{
		enrollmentRepo: enrollmentRepo,
		sequenceRepo:   sequenceRepo,
	}
}

// EnrollLead enrolls a lead into an active sequence. Enrolling the same lead
// twice returns the existing enrollment instead of failing.
func (s *EnrollmentFlowImpl) EnrollLead(ctx context.Context, req *dto.EnrollLeadRequest, metadata *ClientMetadata) (*dto.EnrollLeadResponse, error) {
	seq, err := getSequence(ctx, s.sequenceRepo, req.SequenceUUID, req.OrganizationID)
	if err != nil {
		if IsSequenceNotFound(err) {
			return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", err)
		}
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if !seq.AcceptsEnrollments() {
		return nil, NewBusinessError("SEQUENCE_NOT_ACCEPTING_ENROLLMENTS", "Sequence is not accepting enrollments", ErrSequenceNotAcceptingEnrollments)
	}
	mainSteps := seq.MainSteps()
	if len(mainSteps) == 0 {
		return nil, NewBusinessError("SEQUENCE_HAS_NO_STEPS", "Sequence has no main steps", ErrSequenceHasNoSteps)
	}

	existing, err := s.enrollmentRepo.BySequenceAndLead(ctx, seq.ID, req.LeadID)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_LOOKUP_FAILED", "Failed to lookup enrollment", err)
	}
	if existing != nil {
		return enrollResponse(existing, true), nil
	}

	now := utils.UTCNow()
	firstRunAt := now.Add(mainSteps[0].Delay())
	enrollment := &models.Enrollment{
		OrganizationID:   req.OrganizationID,
		SequenceID:       seq.ID,
		LeadID:           req.LeadID,
		Status:           models.EnrollmentStatusActive,
		CurrentStepIndex: 0,
		NextRunAt:        &firstRunAt,
		NextRunKind:      models.RunKindExecuteStep,
	}
	if err := s.enrollmentRepo.Save(ctx, enrollment); err != nil {
		// A concurrent request may have won the unique (sequence, lead) race.
		existing, lookupErr := s.enrollmentRepo.BySequenceAndLead(ctx, seq.ID, req.LeadID)
		if lookupErr == nil && existing != nil {
			return enrollResponse(existing, true), nil
		}
		return nil, NewBusinessError("ENROLLMENT_CREATION_FAILED", "Failed to enroll lead", err)
	}

	return enrollResponse(enrollment, false), nil
}

// StopEnrollment permanently stops an enrollment so no further steps run
func (s *EnrollmentFlowImpl) StopEnrollment(ctx context.Context, req *dto.StopEnrollmentRequest, metadata *ClientMetadata) (*dto.StopEnrollmentResponse, error) {
	enrollment, err := getEnrollment(ctx, s.enrollmentRepo, req.UUID, req.OrganizationID)
	if err != nil {
		if IsEnrollmentNotFound(err) {
			return nil, NewBusinessError("ENROLLMENT_NOT_FOUND", "Enrollment not found", err)
		}
		return nil, NewBusinessError("ENROLLMENT_LOOKUP_FAILED", "Failed to lookup enrollment", err)
	}
	if enrollment.Status == models.EnrollmentStatusCompleted || enrollment.Status == models.EnrollmentStatusStopped {
		return nil, NewBusinessErrorf("ENROLLMENT_NOT_STOPPABLE", "Enrollment is already %s", ErrEnrollmentNotStoppable, enrollment.Status)
	}

	now := utils.UTCNow()
	enrollment.Status = models.EnrollmentStatusStopped
	enrollment.StoppedAt = &now
	enrollment.NextRunAt = nil
	enrollment.PendingFallbackStepID = nil
	if err := s.enrollmentRepo.Update(ctx, enrollment); err != nil {
		return nil, NewBusinessError("ENROLLMENT_STOP_FAILED", "Failed to stop enrollment", err)
	}

	return &dto.StopEnrollmentResponse{
		Message:   "Enrollment stopped successfully",
		Status:    enrollment.Status.String(),
		StoppedAt: enrollment.StoppedAt,
	}, nil
}

// ListEnrollments returns a page of enrollments of a sequence
func (s *EnrollmentFlowImpl) ListEnrollments(ctx context.Context, req *dto.ListEnrollmentsRequest, metadata *ClientMetadata) (*dto.ListEnrollmentsResponse, error) {
	seq, err := getSequence(ctx, s.sequenceRepo, req.SequenceUUID, req.OrganizationID)
	if err != nil {
		if IsSequenceNotFound(err) {
			return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", err)
		}
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = 20
	}

	filter := models.EnrollmentFilter{SequenceID: &seq.ID}
	if req.Status != nil {
		status := models.EnrollmentStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("ENROLLMENT_VALIDATION_FAILED", "Invalid status filter %q", nil, *req.Status)
		}
		filter.Status = &status
	}

	total, err := s.enrollmentRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_LIST_FAILED", "Failed to list enrollments", err)
	}
	rows, err := s.enrollmentRepo.ByFilter(ctx, filter, "created_at DESC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_LIST_FAILED", "Failed to list enrollments", err)
	}

	items := make([]dto.EnrollmentSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.EnrollmentSummary{
			UUID:             row.UUID.String(),
			LeadID:           row.LeadID,
			Status:           row.Status.String(),
			CurrentStepIndex: row.CurrentStepIndex,
			NextRunAt:        row.NextRunAt,
			NextRunKind:      row.NextRunKind.String(),
			LastError:        row.LastError,
			CreatedAt:        row.CreatedAt,
		})
	}

	return &dto.ListEnrollmentsResponse{
		Message: "Enrollments retrieved successfully",
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
	}, nil
}

func enrollResponse(e *models.Enrollment, existing bool) *dto.EnrollLeadResponse {
	message := "Lead enrolled successfully"
	if existing {
		message = fmt.Sprintf("Lead %s is already enrolled", e.LeadID)
	}
	return &dto.EnrollLeadResponse{
		Message:          message,
		UUID:             e.UUID.String(),
		Status:           e.Status.String(),
		CurrentStepIndex: e.CurrentStepIndex,
		NextRunAt:        e.NextRunAt,
		AlreadyEnrolled:  existing,
	}
}

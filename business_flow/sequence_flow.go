// Package businessflow contains the core business logic and use cases for sequence workflows
package businessflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/leadpulse/sequence-engine/utils"
)

// SequenceFlow handles the sequence lifecycle business logic
type SequenceFlow interface {
	CreateSequence(ctx context.Context, req *dto.CreateSequenceRequest, metadata *ClientMetadata) (*dto.CreateSequenceResponse, error)
	GetSequence(ctx context.Context, req *dto.GetSequenceRequest, metadata *ClientMetadata) (*dto.GetSequenceResponse, error)
	ListSequences(ctx context.Context, req *dto.ListSequencesRequest, metadata *ClientMetadata) (*dto.ListSequencesResponse, error)
	UpdateSequenceSteps(ctx context.Context, req *dto.UpdateSequenceStepsRequest, metadata *ClientMetadata) (*dto.UpdateSequenceStepsResponse, error)
	ActivateSequence(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *ClientMetadata) (*dto.TransitionSequenceResponse, error)
	PauseSequence(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *ClientMetadata) (*dto.TransitionSequenceResponse, error)
	ArchiveSequence(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *ClientMetadata) (*dto.TransitionSequenceResponse, error)
}

// SequenceFlowImpl implements the sequence business flow
type SequenceFlowImpl struct {
	sequenceRepo repository.SequenceRepository
	txMgr        repository.TxManager
}

// NewSequenceFlow creates a new sequence flow instance
func NewSequenceFlow(
	sequenceRepo repository.SequenceRepository,
	txMgr repository.TxManager,
) SequenceFlow {
	return &SequenceFlowImpl{
		sequenceRepo: sequenceRepo,
		txMgr:        txMgr,
	}
}

// CreateSequence creates a new draft sequence, optionally with its initial steps
func (s *SequenceFlowImpl) CreateSequence(ctx context.Context, req *dto.CreateSequenceRequest, metadata *ClientMetadata) (*dto.CreateSequenceResponse, error) {
	if req.Name == "" {
		return nil, NewBusinessError("SEQUENCE_VALIDATION_FAILED", "Sequence validation failed", ErrSequenceNameRequired)
	}
	if len(req.Steps) > 0 {
		if err := validateSteps(req.Steps); err != nil {
			return nil, NewBusinessError("SEQUENCE_VALIDATION_FAILED", "Sequence validation failed", err)
		}
	}

	sequence := &models.Sequence{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Status:         models.SequenceStatusDraft,
	}

	err := s.txMgr.Do(ctx, func(txCtx context.Context) error {
		if err := s.sequenceRepo.Save(txCtx, sequence); err != nil {
			return fmt.Errorf("failed to save sequence: %w", err)
		}
		return s.saveSteps(txCtx, sequence.ID, req.Steps)
	})
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_CREATION_FAILED", "Failed to create sequence", err)
	}

	return &dto.CreateSequenceResponse{
		Message:   "Sequence created successfully",
		UUID:      sequence.UUID.String(),
		Status:    sequence.Status.String(),
		CreatedAt: sequence.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// GetSequence returns a sequence with its steps and conditions
func (s *SequenceFlowImpl) GetSequence(ctx context.Context, req *dto.GetSequenceRequest, metadata *ClientMetadata) (*dto.GetSequenceResponse, error) {
	seq, err := getSequence(ctx, s.sequenceRepo, req.UUID, req.OrganizationID)
	if err != nil {
		if IsSequenceNotFound(err) {
			return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", err)
		}
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}

	steps := make([]dto.SequenceStepResponse, 0, len(seq.Steps))
	ordered := append([]models.SequenceStep(nil), seq.Steps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Kind != ordered[j].Kind {
			return ordered[i].Kind == models.StepKindMain
		}
		return ordered[i].StepIndex < ordered[j].StepIndex
	})
	for _, st := range ordered {
		steps = append(steps, stepToResponse(st))
	}

	return &dto.GetSequenceResponse{
		UUID:        seq.UUID.String(),
		Name:        seq.Name,
		Description: seq.Description,
		Status:      seq.Status.String(),
		CreatedAt:   seq.CreatedAt,
		UpdatedAt:   seq.UpdatedAt,
		Steps:       steps,
	}, nil
}

// ListSequences returns a page of sequences belonging to the organization
func (s *SequenceFlowImpl) ListSequences(ctx context.Context, req *dto.ListSequencesRequest, metadata *ClientMetadata) (*dto.ListSequencesResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = 20
	}

	filter := models.SequenceFilter{OrganizationID: &req.OrganizationID}
	if req.Status != nil {
		status := models.SequenceStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessErrorf("SEQUENCE_VALIDATION_FAILED", "Invalid status filter %q", nil, *req.Status)
		}
		filter.Status = &status
	}

	total, err := s.sequenceRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_LIST_FAILED", "Failed to list sequences", err)
	}
	rows, err := s.sequenceRepo.ByFilter(ctx, filter, "created_at DESC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_LIST_FAILED", "Failed to list sequences", err)
	}

	items := make([]dto.SequenceSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.SequenceSummary{
			UUID:      row.UUID.String(),
			Name:      row.Name,
			Status:    row.Status.String(),
			StepCount: len(row.Steps),
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}

	return &dto.ListSequencesResponse{
		Message: "Sequences retrieved successfully",
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
	}, nil
}

// UpdateSequenceSteps replaces the full step list of a draft or paused sequence
func (s *SequenceFlowImpl) UpdateSequenceSteps(ctx context.Context, req *dto.UpdateSequenceStepsRequest, metadata *ClientMetadata) (*dto.UpdateSequenceStepsResponse, error) {
	if err := validateSteps(req.Steps); err != nil {
		return nil, NewBusinessError("SEQUENCE_VALIDATION_FAILED", "Sequence validation failed", err)
	}

	seq, err := getSequence(ctx, s.sequenceRepo, req.UUID, req.OrganizationID)
	if err != nil {
		if IsSequenceNotFound(err) {
			return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", err)
		}
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if !seq.IsEditable() {
		return nil, NewBusinessError("SEQUENCE_NOT_EDITABLE", "Sequence steps cannot be edited", ErrSequenceNotEditable)
	}

	err = s.txMgr.Do(ctx, func(txCtx context.Context) error {
		if err := s.saveSteps(txCtx, seq.ID, req.Steps); err != nil {
			return err
		}
		return s.sequenceRepo.Update(txCtx, seq)
	})
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_UPDATE_FAILED", "Failed to update sequence steps", err)
	}

	return &dto.UpdateSequenceStepsResponse{Message: "Sequence steps updated successfully"}, nil
}

// ActivateSequence transitions a draft or paused sequence to active
func (s *SequenceFlowImpl) ActivateSequence(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *ClientMetadata) (*dto.TransitionSequenceResponse, error) {
	return s.transition(ctx, req, models.SequenceStatusActive, func(seq *models.Sequence) error {
		if len(seq.MainSteps()) == 0 {
			return ErrSequenceHasNoSteps
		}
		return nil
	})
}

// PauseSequence transitions an active sequence to paused
func (s *SequenceFlowImpl) PauseSequence(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *ClientMetadata) (*dto.TransitionSequenceResponse, error) {
	return s.transition(ctx, req, models.SequenceStatusPaused, nil)
}

// ArchiveSequence transitions a sequence to its terminal archived status
func (s *SequenceFlowImpl) ArchiveSequence(ctx context.Context, req *dto.TransitionSequenceRequest, metadata *ClientMetadata) (*dto.TransitionSequenceResponse, error) {
	return s.transition(ctx, req, models.SequenceStatusArchived, nil)
}

func (s *SequenceFlowImpl) transition(ctx context.Context, req *dto.TransitionSequenceRequest, to models.SequenceStatus, check func(*models.Sequence) error) (*dto.TransitionSequenceResponse, error) {
	seq, err := getSequence(ctx, s.sequenceRepo, req.UUID, req.OrganizationID)
	if err != nil {
		if IsSequenceNotFound(err) {
			return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", err)
		}
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if !seq.CanTransitionTo(to) {
		return nil, NewBusinessErrorf("INVALID_STATUS_TRANSITION", "Cannot transition sequence from %s to %s", ErrInvalidStatusTransition, seq.Status, to)
	}
	if check != nil {
		if err := check(seq); err != nil {
			return nil, NewBusinessError("SEQUENCE_VALIDATION_FAILED", "Sequence validation failed", err)
		}
	}

	ok, err := s.sequenceRepo.UpdateStatus(ctx, seq.ID, seq.Status, to)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_TRANSITION_FAILED", "Failed to transition sequence", err)
	}
	if !ok {
		// Status changed under us between the read and the swap.
		return nil, NewBusinessErrorf("INVALID_STATUS_TRANSITION", "Cannot transition sequence from %s to %s", ErrInvalidStatusTransition, seq.Status, to)
	}

	return &dto.TransitionSequenceResponse{
		Message: "Sequence status updated successfully",
		Status:  to.String(),
	}, nil
}

// saveSteps replaces the step list and recreates conditions with fallback
// references resolved to the freshly created step IDs. Must run in a transaction.
func (s *SequenceFlowImpl) saveSteps(ctx context.Context, sequenceID uint, reqSteps []dto.SequenceStepRequest) error {
	steps := buildStepModels(reqSteps)
	if err := s.sequenceRepo.ReplaceSteps(ctx, sequenceID, steps); err != nil {
		return fmt.Errorf("failed to replace steps: %w", err)
	}

	var conditions []*models.StepCondition
	for i, rs := range reqSteps {
		for pos, c := range rs.Conditions {
			conditions = append(conditions, &models.StepCondition{
				StepID:         steps[i].ID,
				Position:       pos,
				Type:           models.ConditionType(c.Type),
				FallbackStepID: steps[c.FallbackStep].ID,
				WaitHours:      c.WaitHours,
				CreatedAt:      utils.UTCNow(),
			})
		}
	}
	if err := s.sequenceRepo.AddStepConditions(ctx, conditions); err != nil {
		return fmt.Errorf("failed to save step conditions: %w", err)
	}
	return nil
}

func buildStepModels(reqSteps []dto.SequenceStepRequest) []*models.SequenceStep {
	steps := make([]*models.SequenceStep, 0, len(reqSteps))
	for _, rs := range reqSteps {
		data := rs.Data
		if data == nil {
			data = map[string]string{}
		}
		steps = append(steps, &models.SequenceStep{
			Kind:        models.StepKind(rs.Kind),
			StepIndex:   rs.StepIndex,
			ParentIndex: rs.ParentIndex,
			Channel:     models.ChannelType(rs.Channel),
			TemplateID:  rs.TemplateID,
			DelayHours:  rs.DelayHours,
			Data:        data,
			CreatedAt:   utils.UTCNow(),
		})
	}
	// Fallback steps inherit the index of the main step whose condition targets them.
	for _, rs := range reqSteps {
		for _, c := range rs.Conditions {
			target := steps[c.FallbackStep]
			if target.ParentIndex == nil {
				parent := rs.StepIndex
				target.ParentIndex = &parent
			}
		}
	}
	return steps
}

func validateSteps(reqSteps []dto.SequenceStepRequest) error {
	mainIndexes := make(map[int]bool)
	mainCount := 0
	for _, rs := range reqSteps {
		kind := models.StepKind(rs.Kind)
		if !kind.Valid() {
			return fmt.Errorf("%w: %q", ErrStepKindInvalid, rs.Kind)
		}
		if !models.ChannelType(rs.Channel).Valid() {
			return fmt.Errorf("%w: %q", ErrStepChannelInvalid, rs.Channel)
		}
		if kind == models.StepKindMain {
			mainIndexes[rs.StepIndex] = true
			mainCount++
		}
		if kind == models.StepKindFallback && len(rs.Conditions) > 0 {
			return ErrConditionOnFallbackStep
		}
		for _, c := range rs.Conditions {
			ct := models.ConditionType(c.Type)
			if !ct.Valid() {
				return fmt.Errorf("%w: %q", ErrConditionTypeInvalid, c.Type)
			}
			if ct.Deferred() && c.WaitHours < 1 {
				return ErrConditionWaitRequired
			}
			if c.FallbackStep < 0 || c.FallbackStep >= len(reqSteps) {
				return ErrFallbackRefInvalid
			}
			if models.StepKind(reqSteps[c.FallbackStep].Kind) != models.StepKindFallback {
				return ErrFallbackRefInvalid
			}
		}
	}
	if len(mainIndexes) != mainCount {
		return ErrStepIndexesNotContiguous
	}
	for i := 0; i < mainCount; i++ {
		if !mainIndexes[i] {
			return ErrStepIndexesNotContiguous
		}
	}
	return nil
}

func stepToResponse(st models.SequenceStep) dto.SequenceStepResponse {
	conditions := make([]dto.StepConditionResponse, 0, len(st.Conditions))
	ordered := append([]models.StepCondition(nil), st.Conditions...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for _, c := range ordered {
		conditions = append(conditions, dto.StepConditionResponse{
			Position:       c.Position,
			Type:           c.Type.String(),
			FallbackStepID: c.FallbackStepID,
			WaitHours:      c.WaitHours,
		})
	}
	return dto.SequenceStepResponse{
		ID:          st.ID,
		Kind:        st.Kind.String(),
		StepIndex:   st.StepIndex,
		ParentIndex: st.ParentIndex,
		Channel:     st.Channel.String(),
		TemplateID:  st.TemplateID,
		DelayHours:  st.DelayHours,
		Data:        st.Data,
		Conditions:  conditions,
	}
}

package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnrollmentFlow() (EnrollmentFlow, *fakeEnrollmentRepo, *fakeSequenceRepo) {
	enrollments := newFakeEnrollmentRepo()
	sequences := newFakeSequenceRepo()
	return NewEnrollmentFlow(enrollments, sequences), enrollments, sequences
}

func activeSequence(repo *fakeSequenceRepo, orgID uint) *models.Sequence {
	return repo.add(&models.Sequence{
		OrganizationID: orgID,
		Name:           "Outreach",
		Status:         models.SequenceStatusActive,
		Steps: []models.SequenceStep{
			{ID: 10, Kind: models.StepKindMain, StepIndex: 0, Channel: models.ChannelTypeEmail, DelayHours: 24},
			{ID: 11, Kind: models.StepKindMain, StepIndex: 1, Channel: models.ChannelTypeEmail, DelayHours: 72},
		},
	})
}

func TestEnrollLeadSchedulesFirstStep(t *testing.T) {
	flow, enrollments, sequences := newEnrollmentFlow()
	seq := activeSequence(sequences, 7)

	before := utils.UTCNow()
	resp, err := flow.EnrollLead(context.Background(), &dto.EnrollLeadRequest{
		OrganizationID: 7,
		SequenceUUID:   seq.UUID.String(),
		LeadID:         "lead-42",
	}, nil)
	require.NoError(t, err)
	assert.False(t, resp.AlreadyEnrolled)
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, 0, resp.CurrentStepIndex)

	require.NotNil(t, resp.NextRunAt)
	wantRunAt := before.Add(24 * time.Hour)
	assert.WithinDuration(t, wantRunAt, *resp.NextRunAt, 5*time.Second)

	stored, err := enrollments.BySequenceAndLead(context.Background(), seq.ID, "lead-42")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunKindExecuteStep, stored.NextRunKind)
}

func TestEnrollLeadIsIdempotent(t *testing.T) {
	flow, _, sequences := newEnrollmentFlow()
	seq := activeSequence(sequences, 7)

	first, err := flow.EnrollLead(context.Background(), &dto.EnrollLeadRequest{
		OrganizationID: 7,
		SequenceUUID:   seq.UUID.String(),
		LeadID:         "lead-42",
	}, nil)
	require.NoError(t, err)

	second, err := flow.EnrollLead(context.Background(), &dto.EnrollLeadRequest{
		OrganizationID: 7,
		SequenceUUID:   seq.UUID.String(),
		LeadID:         "lead-42",
	}, nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyEnrolled)
	assert.Equal(t, first.UUID, second.UUID)
}

func TestEnrollLeadRejectsInactiveSequence(t *testing.T) {
	flow, _, sequences := newEnrollmentFlow()
	seq := sequences.add(&models.Sequence{
		OrganizationID: 7,
		Name:           "Draft",
		Status:         models.SequenceStatusDraft,
		Steps: []models.SequenceStep{
			{ID: 10, Kind: models.StepKindMain, StepIndex: 0, Channel: models.ChannelTypeEmail},
		},
	})

	_, err := flow.EnrollLead(context.Background(), &dto.EnrollLeadRequest{
		OrganizationID: 7,
		SequenceUUID:   seq.UUID.String(),
		LeadID:         "lead-42",
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequenceNotAcceptingEnrollments)
}

func TestStopEnrollment(t *testing.T) {
	flow, enrollments, sequences := newEnrollmentFlow()
	seq := activeSequence(sequences, 7)
	runAt := utils.UTCNow()
	e := enrollments.add(&models.Enrollment{
		OrganizationID: 7,
		SequenceID:     seq.ID,
		LeadID:         "lead-42",
		Status:         models.EnrollmentStatusActive,
		NextRunAt:      &runAt,
		NextRunKind:    models.RunKindExecuteStep,
	})

	resp, err := flow.StopEnrollment(context.Background(), &dto.StopEnrollmentRequest{
		OrganizationID: 7,
		UUID:           e.UUID.String(),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "stopped", resp.Status)
	require.NotNil(t, resp.StoppedAt)

	stored := enrollments.enrollments[e.ID]
	assert.Equal(t, models.EnrollmentStatusStopped, stored.Status)
	assert.Nil(t, stored.NextRunAt)

	// Stopping twice fails.
	_, err = flow.StopEnrollment(context.Background(), &dto.StopEnrollmentRequest{
		OrganizationID: 7,
		UUID:           e.UUID.String(),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnrollmentNotStoppable)
}

func TestListEnrollmentsFiltersByStatus(t *testing.T) {
	flow, enrollments, sequences := newEnrollmentFlow()
	seq := activeSequence(sequences, 7)
	enrollments.add(&models.Enrollment{OrganizationID: 7, SequenceID: seq.ID, LeadID: "lead-1", Status: models.EnrollmentStatusActive, NextRunKind: models.RunKindExecuteStep})
	enrollments.add(&models.Enrollment{OrganizationID: 7, SequenceID: seq.ID, LeadID: "lead-2", Status: models.EnrollmentStatusCompleted, NextRunKind: models.RunKindExecuteStep})

	resp, err := flow.ListEnrollments(context.Background(), &dto.ListEnrollmentsRequest{
		OrganizationID: 7,
		SequenceUUID:   seq.UUID.String(),
		Status:         utils.ToPtr("completed"),
	}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "lead-2", resp.Items[0].LeadID)
}

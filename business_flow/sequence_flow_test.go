package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSequenceFlow() (SequenceFlow, *fakeSequenceRepo) {
	repo := newFakeSequenceRepo()
	return NewSequenceFlow(repo, fakeTxManager{}), repo
}

func validStepsRequest() []dto.SequenceStepRequest {
	return []dto.SequenceStepRequest{
		{
			Kind:       "main",
			StepIndex:  0,
			Channel:    "email",
			TemplateID: utils.ToPtr("tpl-intro"),
			Conditions: []dto.StepConditionRequest{
				{Type: "bounced", FallbackStep: 2},
			},
		},
		{
			Kind:       "main",
			StepIndex:  1,
			Channel:    "email",
			TemplateID: utils.ToPtr("tpl-followup"),
			DelayHours: 72,
		},
		{
			Kind:       "fallback",
			Channel:    "sms",
			TemplateID: utils.ToPtr("tpl-sms"),
			DelayHours: 24,
		},
	}
}

func TestCreateSequenceWithSteps(t *testing.T) {
	flow, repo := newSequenceFlow()

	resp, err := flow.CreateSequence(context.Background(), &dto.CreateSequenceRequest{
		OrganizationID: 7,
		Name:           "Onboarding outreach",
		Steps:          validStepsRequest(),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "draft", resp.Status)
	assert.NotEmpty(t, resp.UUID)

	var stored *models.Sequence
	for _, seq := range repo.sequences {
		stored = seq
	}
	require.NotNil(t, stored)
	require.Len(t, stored.Steps, 3)

	// The bounced condition must point at the fallback step's database ID.
	var mainStep, fallbackStep *models.SequenceStep
	for i := range stored.Steps {
		switch {
		case stored.Steps[i].Kind == models.StepKindMain && stored.Steps[i].StepIndex == 0:
			mainStep = &stored.Steps[i]
		case stored.Steps[i].Kind == models.StepKindFallback:
			fallbackStep = &stored.Steps[i]
		}
	}
	require.NotNil(t, mainStep)
	require.NotNil(t, fallbackStep)
	require.Len(t, mainStep.Conditions, 1)
	assert.Equal(t, models.ConditionTypeBounced, mainStep.Conditions[0].Type)
	assert.Equal(t, fallbackStep.ID, mainStep.Conditions[0].FallbackStepID)
	require.NotNil(t, fallbackStep.ParentIndex)
	assert.Equal(t, 0, *fallbackStep.ParentIndex)
}

func TestCreateSequenceRequiresName(t *testing.T) {
	flow, _ := newSequenceFlow()

	_, err := flow.CreateSequence(context.Background(), &dto.CreateSequenceRequest{OrganizationID: 7}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequenceNameRequired)
}

func TestValidateStepsRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest
		wantErr error
	}{
		{
			name: "gap in main indexes",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[1].StepIndex = 3
				return steps
			},
			wantErr: ErrStepIndexesNotContiguous,
		},
		{
			name: "duplicate main indexes",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[1].StepIndex = 0
				return steps
			},
			wantErr: ErrStepIndexesNotContiguous,
		},
		{
			name: "condition points at a main step",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[0].Conditions[0].FallbackStep = 1
				return steps
			},
			wantErr: ErrFallbackRefInvalid,
		},
		{
			name: "condition points out of range",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[0].Conditions[0].FallbackStep = 9
				return steps
			},
			wantErr: ErrFallbackRefInvalid,
		},
		{
			name: "no_reply without wait window",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[0].Conditions[0].Type = "no_reply"
				return steps
			},
			wantErr: ErrConditionWaitRequired,
		},
		{
			name: "condition on a fallback step",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[2].Conditions = []dto.StepConditionRequest{{Type: "bounced", FallbackStep: 2}}
				return steps
			},
			wantErr: ErrConditionOnFallbackStep,
		},
		{
			name: "unknown channel",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[0].Channel = "fax"
				return steps
			},
			wantErr: ErrStepChannelInvalid,
		},
		{
			name: "unknown condition type",
			mutate: func(steps []dto.SequenceStepRequest) []dto.SequenceStepRequest {
				steps[0].Conditions[0].Type = "unsubscribed"
				return steps
			},
			wantErr: ErrConditionTypeInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSteps(tc.mutate(validStepsRequest()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v, want %v", err, tc.wantErr)
		})
	}
}

func TestGetSequenceNotFound(t *testing.T) {
	flow, _ := newSequenceFlow()

	_, err := flow.GetSequence(context.Background(), &dto.GetSequenceRequest{
		UUID:           "1b671a64-40d5-491e-99b0-da01ff1f3341",
		OrganizationID: 7,
	}, nil)
	require.Error(t, err)
	assert.True(t, IsSequenceNotFound(err))
}

func TestGetSequenceHidesOtherOrganizations(t *testing.T) {
	flow, repo := newSequenceFlow()
	seq := repo.add(&models.Sequence{OrganizationID: 7, Name: "Q3 outreach", Status: models.SequenceStatusDraft})

	_, err := flow.GetSequence(context.Background(), &dto.GetSequenceRequest{
		UUID:           seq.UUID.String(),
		OrganizationID: 8,
	}, nil)
	require.Error(t, err)
	assert.True(t, IsSequenceNotFound(err))
}

func TestUpdateSequenceStepsOnlyWhenEditable(t *testing.T) {
	flow, repo := newSequenceFlow()
	seq := repo.add(&models.Sequence{OrganizationID: 7, Name: "Q3 outreach", Status: models.SequenceStatusActive})

	_, err := flow.UpdateSequenceSteps(context.Background(), &dto.UpdateSequenceStepsRequest{
		UUID:           seq.UUID.String(),
		OrganizationID: 7,
		Steps:          validStepsRequest(),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequenceNotEditable)

	seq.Status = models.SequenceStatusPaused
	resp, err := flow.UpdateSequenceSteps(context.Background(), &dto.UpdateSequenceStepsRequest{
		UUID:           seq.UUID.String(),
		OrganizationID: 7,
		Steps:          validStepsRequest(),
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Message)
	assert.Len(t, repo.sequences[seq.ID].Steps, 3)
}

func TestActivateSequenceRequiresMainSteps(t *testing.T) {
	flow, repo := newSequenceFlow()
	seq := repo.add(&models.Sequence{OrganizationID: 7, Name: "Empty", Status: models.SequenceStatusDraft})

	_, err := flow.ActivateSequence(context.Background(), &dto.TransitionSequenceRequest{
		UUID:           seq.UUID.String(),
		OrganizationID: 7,
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequenceHasNoSteps)
}

func TestSequenceLifecycleTransitions(t *testing.T) {
	flow, repo := newSequenceFlow()
	seq := repo.add(&models.Sequence{
		OrganizationID: 7,
		Name:           "Lifecycle",
		Status:         models.SequenceStatusDraft,
		Steps: []models.SequenceStep{
			{ID: 10, Kind: models.StepKindMain, StepIndex: 0, Channel: models.ChannelTypeEmail},
		},
	})

	resp, err := flow.ActivateSequence(context.Background(), &dto.TransitionSequenceRequest{UUID: seq.UUID.String(), OrganizationID: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", resp.Status)

	resp, err = flow.PauseSequence(context.Background(), &dto.TransitionSequenceRequest{UUID: seq.UUID.String(), OrganizationID: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "paused", resp.Status)

	resp, err = flow.ArchiveSequence(context.Background(), &dto.TransitionSequenceRequest{UUID: seq.UUID.String(), OrganizationID: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "archived", resp.Status)

	// Archived is terminal.
	_, err = flow.ActivateSequence(context.Background(), &dto.TransitionSequenceRequest{UUID: seq.UUID.String(), OrganizationID: 7}, nil)
	require.Error(t, err)
	assert.True(t, IsInvalidStatusTransition(err))
}

func TestListSequencesFiltersByStatus(t *testing.T) {
	flow, repo := newSequenceFlow()
	repo.add(&models.Sequence{OrganizationID: 7, Name: "Draft one", Status: models.SequenceStatusDraft})
	repo.add(&models.Sequence{OrganizationID: 7, Name: "Active one", Status: models.SequenceStatusActive})
	repo.add(&models.Sequence{OrganizationID: 9, Name: "Other org", Status: models.SequenceStatusActive})

	resp, err := flow.ListSequences(context.Background(), &dto.ListSequencesRequest{
		OrganizationID: 7,
		Status:         utils.ToPtr("active"),
	}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Active one", resp.Items[0].Name)
}

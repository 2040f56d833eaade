// Package testing provides test utilities and database setup for testing the sequence engine
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestSequence creates a sequence in the given status with two main
// email steps and one sms fallback step hanging off the first one
func (tf *TestFixtures) CreateTestSequence(organizationID uint, status models.SequenceStatus) (*models.Sequence, error) {
	sequence := &models.Sequence{
		OrganizationID: organizationID,
		Name:           fmt.Sprintf("Test Sequence %d", rand.Intn(1000000)),
		Status:         status,
	}
	if err := tf.DB.DB.Create(sequence).Error; err != nil {
		return nil, fmt.Errorf("failed to create test sequence: %w", err)
	}

	steps := []*models.SequenceStep{
		{
			SequenceID: sequence.ID,
			Kind:       models.StepKindMain,
			StepIndex:  0,
			Channel:    models.ChannelTypeEmail,
			TemplateID: utils.ToPtr("tpl-welcome"),
			DelayHours: 0,
		},
		{
			SequenceID: sequence.ID,
			Kind:       models.StepKindMain,
			StepIndex:  1,
			Channel:    models.ChannelTypeEmail,
			TemplateID: utils.ToPtr("tpl-followup"),
			DelayHours: 48,
		},
		{
			SequenceID:  sequence.ID,
			Kind:        models.StepKindFallback,
			StepIndex:   0,
			ParentIndex: utils.ToPtr(0),
			Channel:     models.ChannelTypeSMS,
			TemplateID:  utils.ToPtr("tpl-sms-nudge"),
			DelayHours:  1,
		},
	}
	for _, step := range steps {
		if err := tf.DB.DB.Create(step).Error; err != nil {
			return nil, fmt.Errorf("failed to create test step: %w", err)
		}
	}

	condition := &models.StepCondition{
		StepID:         steps[0].ID,
		Position:       0,
		Type:           models.ConditionTypeBounced,
		FallbackStepID: steps[2].ID,
	}
	if err := tf.DB.DB.Create(condition).Error; err != nil {
		return nil, fmt.Errorf("failed to create test condition: %w", err)
	}

	sequence.Steps = []models.SequenceStep{*steps[0], *steps[1], *steps[2]}
	sequence.Steps[0].Conditions = []models.StepCondition{*condition}
	return sequence, nil
}

// CreateTestEnrollment creates an active enrollment that is due now
func (tf *TestFixtures) CreateTestEnrollment(sequence *models.Sequence) (*models.Enrollment, error) {
	now := utils.UTCNow()
	enrollment := &models.Enrollment{
		OrganizationID:   sequence.OrganizationID,
		SequenceID:       sequence.ID,
		LeadID:           fmt.Sprintf("lead-%d", rand.Intn(1000000)),
		Status:           models.EnrollmentStatusActive,
		CurrentStepIndex: 0,
		NextRunAt:        &now,
		NextRunKind:      models.RunKindExecuteStep,
	}

	if err := tf.DB.DB.Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to create test enrollment: %w", err)
	}

	return enrollment, nil
}

// CreateTestExecution creates a sent step execution with a provider message id
func (tf *TestFixtures) CreateTestExecution(enrollment *models.Enrollment, step *models.SequenceStep) (*models.StepExecution, error) {
	messageID := fmt.Sprintf("msg-%d", rand.Intn(1000000))
	execution := &models.StepExecution{
		OrganizationID:   enrollment.OrganizationID,
		EnrollmentID:     enrollment.ID,
		SequenceID:       enrollment.SequenceID,
		StepID:           step.ID,
		Channel:          step.Channel,
		Status:           models.ExecutionStatusSent,
		ChannelMessageID: &messageID,
		ExecutedAt:       utils.UTCNow(),
	}

	if err := tf.DB.DB.Create(execution).Error; err != nil {
		return nil, fmt.Errorf("failed to create test execution: %w", err)
	}

	return execution, nil
}

// CreateTestChannelEvent records a provider event against a message id
func (tf *TestFixtures) CreateTestChannelEvent(organizationID uint, channelMessageID string, eventType models.ChannelEventType) (*models.ChannelEvent, error) {
	event := &models.ChannelEvent{
		OrganizationID:   organizationID,
		ChannelMessageID: channelMessageID,
		Type:             eventType,
		OccurredAt:       utils.UTCNow().Add(-time.Minute),
	}

	err := tf.DB.DB.Create(event).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test channel event: %w", err)
	}

	return event, nil
}

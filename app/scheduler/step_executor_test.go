package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/sequence-engine/app/services"
	"github.com/leadpulse/sequence-engine/channel"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/utils"
)

type executorFixture struct {
	enrollments *fakeEnrollmentRepo
	sequences   *fakeSequenceRepo
	executions  *fakeExecutionRepo
	analytics   *fakeAnalyticsRepo
	events      *fakeEventRepo
	email       *fakeAdapter
	sms         *fakeAdapter
	social      *fakeAdapter
	executor    *StepExecutorImpl
}

func newExecutorFixture(t *testing.T, seqs ...*models.Sequence) *executorFixture {
	t.Helper()

	f := &executorFixture{
		enrollments: newFakeEnrollmentRepo(),
		sequences:   newFakeSequenceRepo(seqs...),
		executions:  newFakeExecutionRepo(),
		analytics:   newFakeAnalyticsRepo(),
		events:      newFakeEventRepo(),
		email:       newFakeAdapter(models.ChannelTypeEmail),
		sms:         newFakeAdapter(models.ChannelTypeSMS),
		social:      newFakeAdapter(models.ChannelTypeSocial),
	}

	registry, err := channel.NewRegistry(f.email, f.sms, f.social)
	require.NoError(t, err)

	resolver := services.NewTemplateResolver(&fakeTemplateStore{templates: map[string]*services.Template{
		"tpl-intro": {ID: "tpl-intro", Subject: "Hi {{first_name}}", Body: "Hello {{first_name}} from {{company}}"},
	}}, nil, 0)

	leads := &fakeLeadService{leads: map[string]*services.Lead{
		"lead-1": {
			ID:            "lead-1",
			Email:         "dana@acme.test",
			Phone:         "+15551234567",
			SocialProfile: "linkedin.com/in/dana",
			Fields:        map[string]string{"first_name": "Dana", "company": "Acme"},
		},
	}}

	f.executor = NewStepExecutor(
		f.enrollments, f.sequences, f.executions, f.analytics, f.events,
		fakeTxManager{}, registry, resolver, leads,
		NewConditionEvaluator(nil), NewOutcomeCache(nil, 0), nil, time.Second,
	)
	return f
}

// enrollDue creates an active enrollment that is already due and claimed by
// the given worker
func (f *executorFixture) enrollDue(t *testing.T, e *models.Enrollment, workerID string, now time.Time) *models.Enrollment {
	t.Helper()
	if e.Status == "" {
		e.Status = models.EnrollmentStatusActive
	}
	if e.NextRunKind == "" {
		e.NextRunKind = models.RunKindExecuteStep
	}
	if e.NextRunAt == nil {
		e.NextRunAt = utils.ToPtr(now.Add(-time.Minute))
	}
	f.enrollments.add(e)
	claimed, err := f.enrollments.Claim(context.Background(), e.ID, workerID, now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	return e
}

func introSequence() *models.Sequence {
	tpl := "tpl-intro"
	return &models.Sequence{
		ID: 1, OrganizationID: 7, Status: models.SequenceStatusActive,
		Steps: []models.SequenceStep{
			{ID: 10, SequenceID: 1, Kind: models.StepKindMain, StepIndex: 0, Channel: models.ChannelTypeEmail, TemplateID: &tpl},
			{ID: 11, SequenceID: 1, Kind: models.StepKindMain, StepIndex: 1, Channel: models.ChannelTypeEmail, TemplateID: &tpl, DelayHours: 72},
		},
	}
}

func TestExecuteDueStepSendsAndAdvances(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	assert.Equal(t, 1, f.email.sendCount())
	assert.Equal(t, "dana@acme.test", f.email.lastMsg.Recipient)
	assert.Equal(t, "Hi Dana", f.email.lastMsg.Subject)
	assert.Equal(t, "Hello Dana from Acme", f.email.lastMsg.Body)

	exec, err := f.executions.ByEnrollmentAndStep(context.Background(), e.ID, 10)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionStatusSent, exec.Status)
	require.NotNil(t, exec.ChannelMessageID)

	stats, err := f.analytics.ByStep(context.Background(), 1, 10)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(0), stats.Delivered)

	got := f.enrollments.get(e.ID)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Nil(t, got.ClaimedBy)
	require.NotNil(t, got.NextRunAt)
	assert.WithinDuration(t, now.Add(72*time.Hour), *got.NextRunAt, 5*time.Second)
}

func TestExecuteDueStepAtMostOnce(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	// A prior run recorded the send but crashed before advancing the cursor.
	require.NoError(t, f.executions.Save(context.Background(), &models.StepExecution{
		OrganizationID: 7, EnrollmentID: e.ID, SequenceID: 1, StepID: 10,
		Channel: models.ChannelTypeEmail, Status: models.ExecutionStatusSent,
		ChannelMessageID: utils.ToPtr("email-prior"), ExecutedAt: now.Add(-time.Minute),
	}))

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	// No second send, but the cursor still advances.
	assert.Equal(t, 0, f.email.sendCount())
	got := f.enrollments.get(e.ID)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Nil(t, got.ClaimedBy)
}

func TestExecuteDueStepTransientLeavesStateUntouched(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)
	dueAt := *f.enrollments.get(e.ID).NextRunAt

	f.email.err = channel.Transient(errors.New("rate limited"))

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultFailed, res)

	exec, _ := f.executions.ByEnrollmentAndStep(context.Background(), e.ID, 10)
	assert.Nil(t, exec)

	got := f.enrollments.get(e.ID)
	assert.Equal(t, 0, got.CurrentStepIndex)
	assert.Equal(t, models.EnrollmentStatusActive, got.Status)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, dueAt, *got.NextRunAt)
	// Claim released so the next cycle retries.
	assert.Nil(t, got.ClaimedBy)
}

func TestExecuteDueStepPermanentRecordsFailureAndAdvances(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	f.email.err = channel.Permanent(errors.New("mailbox does not exist"))

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	exec, _ := f.executions.ByEnrollmentAndStep(context.Background(), e.ID, 10)
	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)

	// Failed sends never count as sent.
	stats, _ := f.analytics.ByStep(context.Background(), 1, 10)
	assert.Nil(t, stats)

	got := f.enrollments.get(e.ID)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Nil(t, got.ClaimedBy)
}

func TestExecuteDueStepLeadNotFound(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "ghost"}, "w1", now)

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	assert.Equal(t, 0, f.email.sendCount())
	got := f.enrollments.get(e.ID)
	assert.Equal(t, models.EnrollmentStatusError, got.Status)
	assert.Nil(t, got.NextRunAt)
	require.NotNil(t, got.LastError)
	assert.Nil(t, got.ClaimedBy)
}

func TestExecuteDueStepMissingTemplateIsPermanent(t *testing.T) {
	missing := "tpl-missing"
	seq := introSequence()
	seq.Steps[0].TemplateID = &missing

	f := newExecutorFixture(t, seq)
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	assert.Equal(t, 0, f.email.sendCount())
	exec, _ := f.executions.ByEnrollmentAndStep(context.Background(), e.ID, 10)
	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)

	got := f.enrollments.get(e.ID)
	assert.Equal(t, 1, got.CurrentStepIndex)
}

func TestExecuteDueStepStoppedAfterClaimAborts(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	// A stop lands between the claim and the dispatch.
	stopped := f.enrollments.get(e.ID)
	stopped.Status = models.EnrollmentStatusStopped
	require.NoError(t, f.enrollments.Update(context.Background(), stopped))

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultSkipped, res)
	assert.Equal(t, 0, f.email.sendCount())
}

func TestExecuteDueStepPausedSequenceSkips(t *testing.T) {
	seq := introSequence()
	seq.Status = models.SequenceStatusPaused

	f := newExecutorFixture(t, seq)
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultSkipped, res)
	assert.Equal(t, 0, f.email.sendCount())

	// State untouched; the enrollment resumes when the sequence does.
	got := f.enrollments.get(e.ID)
	assert.Equal(t, 0, got.CurrentStepIndex)
	assert.Equal(t, models.EnrollmentStatusActive, got.Status)
	assert.Nil(t, got.ClaimedBy)
}

func TestExecuteDueStepSynchronousDelivery(t *testing.T) {
	f := newExecutorFixture(t, introSequence())
	now := time.Now().UTC()
	e := f.enrollDue(t, &models.Enrollment{OrganizationID: 7, SequenceID: 1, LeadID: "lead-1"}, "w1", now)

	f.email.result = channel.Result{Status: channel.DeliveryStatusDelivered}

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	exec, _ := f.executions.ByEnrollmentAndStep(context.Background(), e.ID, 10)
	require.NotNil(t, exec)
	assert.Equal(t, models.ExecutionStatusDelivered, exec.Status)

	stats, _ := f.analytics.ByStep(context.Background(), 1, 10)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestExecuteFallbackStepThenResume(t *testing.T) {
	f := newExecutorFixture(t, twoStepSequence())
	now := time.Now().UTC()

	fallbackID := uint(12)
	e := f.enrollDue(t, &models.Enrollment{
		OrganizationID: 7, SequenceID: 1, LeadID: "lead-1",
		CurrentStepIndex: 1, PendingFallbackStepID: &fallbackID,
	}, "w1", now)

	res, err := f.executor.ExecuteDueStep(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	// The fallback social step sent, then the enrollment resumed past the
	// original step, which was the last one.
	assert.Equal(t, 1, f.social.sendCount())
	assert.Equal(t, 0, f.email.sendCount())

	got := f.enrollments.get(e.ID)
	assert.Nil(t, got.PendingFallbackStepID)
	assert.Equal(t, models.EnrollmentStatusCompleted, got.Status)
	assert.Nil(t, got.NextRunAt)
}

func TestEvaluateDueConditionNoReplyFiresFallback(t *testing.T) {
	f := newExecutorFixture(t, noReplySequence())
	now := time.Now().UTC()
	executedAt := now.Add(-49 * time.Hour)

	e := f.enrollDue(t, &models.Enrollment{
		OrganizationID: 7, SequenceID: 4, LeadID: "lead-1",
		NextRunKind: models.RunKindEvaluateCondition,
	}, "w1", now)

	require.NoError(t, f.executions.Save(context.Background(), &models.StepExecution{
		OrganizationID: 7, EnrollmentID: e.ID, SequenceID: 4, StepID: 40,
		Channel: models.ChannelTypeEmail, Status: models.ExecutionStatusSent,
		ChannelMessageID: utils.ToPtr("email-old"), ExecutedAt: executedAt,
	}))

	res, err := f.executor.EvaluateDueCondition(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	got := f.enrollments.get(e.ID)
	require.NotNil(t, got.PendingFallbackStepID)
	assert.Equal(t, uint(41), *got.PendingFallbackStepID)
	assert.Equal(t, models.RunKindExecuteStep, got.NextRunKind)
	// Re-checks never send anything themselves.
	assert.Equal(t, 0, f.email.sendCount())
	assert.Equal(t, 0, f.sms.sendCount())
}

func TestEvaluateDueConditionReplyAdvances(t *testing.T) {
	f := newExecutorFixture(t, noReplySequence())
	now := time.Now().UTC()
	executedAt := now.Add(-49 * time.Hour)

	e := f.enrollDue(t, &models.Enrollment{
		OrganizationID: 7, SequenceID: 4, LeadID: "lead-1",
		NextRunKind: models.RunKindEvaluateCondition,
	}, "w1", now)

	require.NoError(t, f.executions.Save(context.Background(), &models.StepExecution{
		OrganizationID: 7, EnrollmentID: e.ID, SequenceID: 4, StepID: 40,
		Channel: models.ChannelTypeEmail, Status: models.ExecutionStatusSent,
		ChannelMessageID: utils.ToPtr("email-old"), ExecutedAt: executedAt,
	}))
	f.events.add("email-old", models.ChannelEventReplied)

	res, err := f.executor.EvaluateDueCondition(context.Background(), e.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, RunResultProcessed, res)

	got := f.enrollments.get(e.ID)
	assert.Nil(t, got.PendingFallbackStepID)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Equal(t, models.RunKindExecuteStep, got.NextRunKind)
}

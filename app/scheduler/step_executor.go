package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/leadpulse/sequence-engine/app/services"
	"github.com/leadpulse/sequence-engine/channel"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/leadpulse/sequence-engine/utils"
)

// RunResult classifies how one claimed enrollment was handled
type RunResult string

const (
	RunResultProcessed RunResult = "processed"
	RunResultSkipped   RunResult = "skipped"
	RunResultFailed    RunResult = "failed"
)

// StepExecutor processes one claimed enrollment: executes the due step or
// re-checks a deferred condition, then persists the advanced state and
// releases the claim in one transaction.
type StepExecutor interface {
	ExecuteDueStep(ctx context.Context, enrollmentID uint, workerID string) (RunResult, error)
	EvaluateDueCondition(ctx context.Context, enrollmentID uint, workerID string) (RunResult, error)
}

// StepExecutorImpl implements StepExecutor
type StepExecutorImpl struct {
	enrollmentRepo repository.EnrollmentRepository
	sequenceRepo   repository.SequenceRepository
	executionRepo  repository.StepExecutionRepository
	analyticsRepo  repository.StepAnalyticsRepository
	eventRepo      repository.ChannelEventRepository
	txMgr          repository.TxManager

	registry  *channel.Registry
	resolver  services.TemplateResolver
	leads     services.LeadService
	evaluator ConditionEvaluator
	outcomes  *OutcomeCache

	logger      *log.Logger
	sendTimeout time.Duration
}

// NewStepExecutor creates a step executor
func NewStepExecutor(
	enrollmentRepo repository.EnrollmentRepository,
	sequenceRepo repository.SequenceRepository,
	executionRepo repository.StepExecutionRepository,
	analyticsRepo repository.StepAnalyticsRepository,
	eventRepo repository.ChannelEventRepository,
	txMgr repository.TxManager,
	registry *channel.Registry,
	resolver services.TemplateResolver,
	leads services.LeadService,
	evaluator ConditionEvaluator,
	outcomes *OutcomeCache,
	logger *log.Logger,
	sendTimeout time.Duration,
) *StepExecutorImpl {
	if logger == nil {
		logger = log.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &StepExecutorImpl{
		enrollmentRepo: enrollmentRepo,
		sequenceRepo:   sequenceRepo,
		executionRepo:  executionRepo,
		analyticsRepo:  analyticsRepo,
		eventRepo:      eventRepo,
		txMgr:          txMgr,
		registry:       registry,
		resolver:       resolver,
		leads:          leads,
		evaluator:      evaluator,
		outcomes:       outcomes,
		logger:         logger,
		sendTimeout:    sendTimeout,
	}
}

// ExecuteDueStep runs the step at the enrollment's cursor. The caller must
// hold the claim identified by workerID.
func (x *StepExecutorImpl) ExecuteDueStep(ctx context.Context, enrollmentID uint, workerID string) (RunResult, error) {
	e, seq, res, err := x.loadClaimed(ctx, enrollmentID, workerID)
	if e == nil {
		return res, err
	}
	now := utils.UTCNow()

	step := x.dueStep(e, seq)
	if step == nil {
		// Cursor is past the last main step; nothing left to send.
		x.complete(e)
		return x.commit(ctx, e, workerID, nil, models.CounterDeltas{})
	}

	// At-most-once guard: an execution record for this (enrollment, step)
	// means the send already happened, possibly on a run that crashed before
	// advancing the cursor. Re-evaluate from the recorded outcome instead of
	// sending again.
	existing, err := x.executionRepo.ByEnrollmentAndStep(ctx, e.ID, step.ID)
	if err != nil {
		return x.releaseOnError(ctx, e, workerID, fmt.Errorf("load execution record: %w", err))
	}
	if existing != nil {
		signals := x.gatherSignals(ctx, existing)
		if err := x.evaluator.NextState(ctx, e, seq, step, signals, existing.ExecutedAt, now); err != nil {
			return x.releaseOnError(ctx, e, workerID, err)
		}
		return x.commit(ctx, e, workerID, nil, models.CounterDeltas{})
	}

	lead, err := x.leads.GetLead(ctx, e.OrganizationID, e.LeadID)
	if err != nil {
		if errors.Is(err, services.ErrLeadNotFound) {
			x.markError(e, fmt.Sprintf("lead %s not found", e.LeadID))
			return x.commit(ctx, e, workerID, nil, models.CounterDeltas{})
		}
		return x.releaseOnError(ctx, e, workerID, fmt.Errorf("lead lookup: %w", err))
	}

	msg, permErr, err := x.buildMessage(ctx, e, step, lead)
	if err != nil {
		return x.releaseOnError(ctx, e, workerID, err)
	}

	var (
		exec    *models.StepExecution
		deltas  models.CounterDeltas
		signals = SignalSet{}
	)

	if permErr == nil {
		adapter, aerr := x.registry.Get(step.Channel)
		if aerr != nil {
			permErr = aerr
		} else {
			sendCtx, cancel := context.WithTimeout(ctx, x.sendTimeout)
			result, serr := adapter.Send(sendCtx, *msg)
			cancel()
			switch {
			case serr == nil:
				exec, deltas = x.recordSuccess(e, seq, step, result)
				stepsSent.WithLabelValues(step.Channel.String()).Inc()
			case channel.IsPermanent(serr):
				permErr = serr
			default:
				// Transient: leave state untouched, a later cycle retries.
				stepFailures.WithLabelValues(step.Channel.String(), "transient").Inc()
				x.logger.Printf("executor: transient failure on enrollment %d step %d: %v", e.ID, step.ID, serr)
				if rerr := x.enrollmentRepo.Release(ctx, e.ID, workerID); rerr != nil {
					x.logger.Printf("executor: release enrollment %d failed: %v", e.ID, rerr)
				}
				return RunResultFailed, nil
			}
		}
	}

	if permErr != nil {
		// Permanent failures are a step outcome, not a retry loop: record
		// the failed execution and let conditions decide what happens next.
		stepFailures.WithLabelValues(step.Channel.String(), "permanent").Inc()
		x.logger.Printf("executor: permanent failure on enrollment %d step %d: %v", e.ID, step.ID, permErr)
		exec = &models.StepExecution{
			OrganizationID: e.OrganizationID,
			EnrollmentID:   e.ID,
			SequenceID:     seq.ID,
			StepID:         step.ID,
			Channel:        step.Channel,
			Status:         models.ExecutionStatusFailed,
			ErrorMessage:   utils.ToPtr(permErr.Error()),
			ExecutedAt:     now,
		}
		signals[models.ConditionTypeFailed] = true
		e.LastError = utils.ToPtr(permErr.Error())
	}

	if err := x.evaluator.NextState(ctx, e, seq, step, signals, now, now); err != nil {
		return x.releaseOnError(ctx, e, workerID, err)
	}
	return x.commit(ctx, e, workerID, exec, deltas)
}

// EvaluateDueCondition re-checks a deferred condition (no_reply windows)
// against the outcomes accumulated for the step's execution. No message is
// sent on this path.
func (x *StepExecutorImpl) EvaluateDueCondition(ctx context.Context, enrollmentID uint, workerID string) (RunResult, error) {
	e, seq, res, err := x.loadClaimed(ctx, enrollmentID, workerID)
	if e == nil {
		return res, err
	}
	now := utils.UTCNow()

	step := x.dueStep(e, seq)
	if step == nil {
		x.complete(e)
		return x.commit(ctx, e, workerID, nil, models.CounterDeltas{})
	}

	existing, err := x.executionRepo.ByEnrollmentAndStep(ctx, e.ID, step.ID)
	if err != nil {
		return x.releaseOnError(ctx, e, workerID, fmt.Errorf("load execution record: %w", err))
	}

	signals := SignalSet{}
	// A missing execution record means the step never sent, so it cannot
	// have been answered; the deferred window counts as elapsed.
	executedAt := time.Time{}
	if existing != nil {
		signals = x.gatherSignals(ctx, existing)
		executedAt = existing.ExecutedAt
	} else {
		x.logger.Printf("executor: deferred check on enrollment %d step %d has no execution record", e.ID, step.ID)
	}

	if err := x.evaluator.NextState(ctx, e, seq, step, signals, executedAt, now); err != nil {
		return x.releaseOnError(ctx, e, workerID, err)
	}
	return x.commit(ctx, e, workerID, nil, models.CounterDeltas{})
}

// loadClaimed reloads the enrollment and its sequence and re-checks both
// statuses after the claim. A stop or pause racing the claim resolves in
// favor of not sending. Returns a nil enrollment when the caller should
// stop, with the result to report.
func (x *StepExecutorImpl) loadClaimed(ctx context.Context, enrollmentID uint, workerID string) (*models.Enrollment, *models.Sequence, RunResult, error) {
	e, err := x.enrollmentRepo.ByID(ctx, enrollmentID)
	if err != nil {
		return nil, nil, RunResultFailed, fmt.Errorf("load enrollment %d: %w", enrollmentID, err)
	}
	if e == nil {
		return nil, nil, RunResultFailed, fmt.Errorf("claimed enrollment %d no longer exists", enrollmentID)
	}
	if e.Status != models.EnrollmentStatusActive {
		if rerr := x.enrollmentRepo.Release(ctx, e.ID, workerID); rerr != nil {
			x.logger.Printf("executor: release enrollment %d failed: %v", e.ID, rerr)
		}
		return nil, nil, RunResultSkipped, nil
	}

	seq, err := x.sequenceRepo.ByIDWithSteps(ctx, e.SequenceID)
	if err != nil {
		if rerr := x.enrollmentRepo.Release(ctx, e.ID, workerID); rerr != nil {
			x.logger.Printf("executor: release enrollment %d failed: %v", e.ID, rerr)
		}
		return nil, nil, RunResultFailed, fmt.Errorf("load sequence %d: %w", e.SequenceID, err)
	}
	if seq == nil {
		x.markError(e, fmt.Sprintf("sequence %d no longer exists", e.SequenceID))
		res, cerr := x.commit(ctx, e, workerID, nil, models.CounterDeltas{})
		return nil, nil, res, cerr
	}
	if seq.Status != models.SequenceStatusActive {
		// Paused or archived sequences stop dispatching; the enrollment
		// stays due and resumes if the sequence reactivates.
		if rerr := x.enrollmentRepo.Release(ctx, e.ID, workerID); rerr != nil {
			x.logger.Printf("executor: release enrollment %d failed: %v", e.ID, rerr)
		}
		return nil, nil, RunResultSkipped, nil
	}
	return e, seq, "", nil
}

// dueStep resolves the step the cursor points at: the pending fallback step
// when one is scheduled, otherwise the main step at the current index
func (x *StepExecutorImpl) dueStep(e *models.Enrollment, seq *models.Sequence) *models.SequenceStep {
	if e.PendingFallbackStepID != nil {
		if step := seq.StepByID(*e.PendingFallbackStepID); step != nil {
			return step
		}
		x.logger.Printf("executor: enrollment %d pending fallback step %d missing, resuming main line", e.ID, *e.PendingFallbackStepID)
		e.PendingFallbackStepID = nil
	}
	return seq.MainStepAt(e.CurrentStepIndex)
}

// buildMessage renders the step's template for the lead. The middle return
// value carries permanent problems (missing template, no recipient) that
// should be recorded as a failed execution rather than retried.
func (x *StepExecutorImpl) buildMessage(ctx context.Context, e *models.Enrollment, step *models.SequenceStep, lead *services.Lead) (*channel.Message, error, error) {
	recipient := lead.Recipient(step.Channel)
	if recipient == "" {
		return nil, fmt.Errorf("lead %s has no %s address", lead.ID, step.Channel), nil
	}

	msg := &channel.Message{
		Recipient: recipient,
		Data:      step.Data,
	}
	if step.TemplateID == nil {
		// Steps like voice calls may carry everything in step data.
		return msg, nil, nil
	}

	rendered, err := x.resolver.Render(ctx, e.OrganizationID, *step.TemplateID, lead.TemplateFields())
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			return msg, err, nil
		}
		return nil, nil, fmt.Errorf("render template %s: %w", *step.TemplateID, err)
	}
	msg.Subject = rendered.Subject
	msg.Body = rendered.Body
	return msg, nil, nil
}

// recordSuccess builds the execution record and counter deltas for a
// successful dispatch
func (x *StepExecutorImpl) recordSuccess(e *models.Enrollment, seq *models.Sequence, step *models.SequenceStep, result channel.Result) (*models.StepExecution, models.CounterDeltas) {
	status := models.ExecutionStatusSent
	deltas := models.CounterDeltas{Sent: 1}
	if result.Status == channel.DeliveryStatusDelivered {
		status = models.ExecutionStatusDelivered
		deltas.Delivered = 1
	}
	exec := &models.StepExecution{
		OrganizationID: e.OrganizationID,
		EnrollmentID:   e.ID,
		SequenceID:     seq.ID,
		StepID:         step.ID,
		Channel:        step.Channel,
		Status:         status,
		ExecutedAt:     utils.UTCNow(),
	}
	if result.MessageID != "" {
		exec.ChannelMessageID = utils.ToPtr(result.MessageID)
	}
	return exec, deltas
}

// gatherSignals collects outcome signals for an execution from its recorded
// status plus any channel events correlated by message id. The redis cache
// is consulted first; a miss falls back to the event table.
func (x *StepExecutorImpl) gatherSignals(ctx context.Context, exec *models.StepExecution) SignalSet {
	signals := SignalSet{}
	if exec.Status == models.ExecutionStatusFailed {
		signals[models.ConditionTypeFailed] = true
	}
	if exec.ChannelMessageID == nil {
		return signals
	}

	if cached, ok := x.outcomes.Events(ctx, *exec.ChannelMessageID); ok {
		for _, ev := range cached {
			signals.AddEvent(ev)
		}
		return signals
	}

	events, err := x.eventRepo.ByMessageID(ctx, *exec.ChannelMessageID)
	if err != nil {
		x.logger.Printf("executor: load channel events for %s failed: %v", *exec.ChannelMessageID, err)
		return signals
	}
	for _, ev := range events {
		signals.AddEvent(ev.Type)
	}
	return signals
}

// complete finishes an enrollment whose cursor is past the last main step
func (x *StepExecutorImpl) complete(e *models.Enrollment) {
	e.Status = models.EnrollmentStatusCompleted
	e.NextRunAt = nil
	e.NextRunKind = models.RunKindExecuteStep
	e.PendingFallbackStepID = nil
}

// markError parks the enrollment for operator review; it is never
// rescheduled
func (x *StepExecutorImpl) markError(e *models.Enrollment, msg string) {
	x.logger.Printf("executor: enrollment %d moved to error: %s", e.ID, msg)
	e.Status = models.EnrollmentStatusError
	e.NextRunAt = nil
	e.LastError = &msg
}

// commit persists the execution record, counter increments, and the advanced
// enrollment state, releasing the claim, in one transaction
func (x *StepExecutorImpl) commit(ctx context.Context, e *models.Enrollment, workerID string, exec *models.StepExecution, deltas models.CounterDeltas) (RunResult, error) {
	err := x.txMgr.Do(ctx, func(txCtx context.Context) error {
		if exec != nil {
			if err := x.executionRepo.Save(txCtx, exec); err != nil {
				return fmt.Errorf("save execution: %w", err)
			}
			if !deltas.IsZero() {
				if err := x.analyticsRepo.Increment(txCtx, e.OrganizationID, exec.SequenceID, exec.StepID, deltas); err != nil {
					return fmt.Errorf("increment analytics: %w", err)
				}
			}
		}
		if err := x.enrollmentRepo.UpdateAndRelease(txCtx, e, workerID); err != nil {
			return fmt.Errorf("advance enrollment: %w", err)
		}
		return nil
	})
	if err != nil {
		return RunResultFailed, err
	}
	return RunResultProcessed, nil
}

// releaseOnError drops the claim after an infrastructure failure so the
// next cycle can retry, then surfaces the error to the batch counters
func (x *StepExecutorImpl) releaseOnError(ctx context.Context, e *models.Enrollment, workerID string, err error) (RunResult, error) {
	if rerr := x.enrollmentRepo.Release(ctx, e.ID, workerID); rerr != nil {
		x.logger.Printf("executor: release enrollment %d failed: %v", e.ID, rerr)
	}
	return RunResultFailed, err
}

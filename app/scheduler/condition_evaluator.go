// Package scheduler drives due enrollments: claiming, step execution,
// condition evaluation, and the periodic batch loop.
package scheduler

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/leadpulse/sequence-engine/models"
)

// SignalSet holds the outcome signals observed for one step execution,
// gathered from the synchronous send result and from asynchronous channel
// events correlated by channel message id.
type SignalSet map[models.ConditionType]bool

// NewSignalSet builds a signal set from channel event types
func NewSignalSet(events ...models.ChannelEventType) SignalSet {
	s := SignalSet{}
	for _, ev := range events {
		s.AddEvent(ev)
	}
	return s
}

// AddEvent records the condition signal corresponding to a channel event.
// Delivery receipts carry no branching signal and are ignored here.
func (s SignalSet) AddEvent(ev models.ChannelEventType) {
	switch ev {
	case models.ChannelEventBounced:
		s[models.ConditionTypeBounced] = true
	case models.ChannelEventFailed:
		s[models.ConditionTypeFailed] = true
	case models.ChannelEventOpened:
		s[models.ConditionTypeOpened] = true
	case models.ChannelEventClicked:
		s[models.ConditionTypeClicked] = true
	case models.ChannelEventReplied:
		s[models.ConditionTypeReplied] = true
	}
}

// ConditionEvaluator computes an enrollment's next scheduling state after a
// step executed or a deferred condition came due
type ConditionEvaluator interface {
	// NextState mutates the enrollment's cursor fields in place. step is the
	// step just executed (or being re-checked), executedAt the time it ran,
	// now the evaluation time. The caller persists the result.
	NextState(ctx context.Context, enrollment *models.Enrollment, sequence *models.Sequence, step *models.SequenceStep, signals SignalSet, executedAt, now time.Time) error
}

// ConditionEvaluatorImpl implements ConditionEvaluator
type ConditionEvaluatorImpl struct {
	logger *log.Logger
}

// NewConditionEvaluator creates a condition evaluator
func NewConditionEvaluator(logger *log.Logger) ConditionEvaluator {
	if logger == nil {
		logger = log.Default()
	}
	return &ConditionEvaluatorImpl{logger: logger}
}

// NextState applies the branching rules:
//   - a fallback step that just executed resumes the main line at the
//     original step's successor, never at the fallback's own position
//     (single-level branching, no chained fallbacks)
//   - conditions are checked in declaration order, first match wins
//   - no_reply conditions whose window has not elapsed schedule a deferred
//     re-check instead of deciding now
//   - past the last main step the enrollment completes and scheduling stops
func (e *ConditionEvaluatorImpl) NextState(ctx context.Context, enrollment *models.Enrollment, sequence *models.Sequence, step *models.SequenceStep, signals SignalSet, executedAt, now time.Time) error {
	if enrollment.PendingFallbackStepID != nil && *enrollment.PendingFallbackStepID == step.ID {
		enrollment.PendingFallbackStepID = nil
		e.advance(enrollment, sequence, now)
		return nil
	}

	conditions := make([]models.StepCondition, len(step.Conditions))
	copy(conditions, step.Conditions)
	sort.Slice(conditions, func(i, j int) bool { return conditions[i].Position < conditions[j].Position })

	for _, cond := range conditions {
		if !cond.Type.Valid() {
			e.logger.Printf("evaluator: unknown condition type %q on step %d, treating as non-match", cond.Type, step.ID)
			continue
		}

		if cond.Type.Deferred() {
			if signals[models.ConditionTypeReplied] {
				continue
			}
			deadline := executedAt.Add(cond.Wait())
			if now.Before(deadline) {
				// Window still open: come back when it closes.
				enrollment.NextRunAt = &deadline
				enrollment.NextRunKind = models.RunKindEvaluateCondition
				return nil
			}
			if e.fireFallback(enrollment, sequence, step, cond, now) {
				return nil
			}
			continue
		}

		if signals[cond.Type] {
			if e.fireFallback(enrollment, sequence, step, cond, now) {
				return nil
			}
		}
	}

	e.advance(enrollment, sequence, now)
	return nil
}

// fireFallback schedules the condition's fallback step. A condition whose
// fallback step is missing from the sequence is logged and skipped.
func (e *ConditionEvaluatorImpl) fireFallback(enrollment *models.Enrollment, sequence *models.Sequence, step *models.SequenceStep, cond models.StepCondition, now time.Time) bool {
	fallback := sequence.StepByID(cond.FallbackStepID)
	if fallback == nil {
		e.logger.Printf("evaluator: condition %d on step %d references missing fallback step %d", cond.ID, step.ID, cond.FallbackStepID)
		return false
	}
	runAt := now.Add(fallback.Delay())
	enrollment.PendingFallbackStepID = &fallback.ID
	enrollment.NextRunAt = &runAt
	enrollment.NextRunKind = models.RunKindExecuteStep
	return true
}

// advance moves the cursor to the next main step or completes the enrollment
func (e *ConditionEvaluatorImpl) advance(enrollment *models.Enrollment, sequence *models.Sequence, now time.Time) {
	next := enrollment.CurrentStepIndex + 1
	nextStep := sequence.MainStepAt(next)
	if nextStep == nil {
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.NextRunAt = nil
		enrollment.NextRunKind = models.RunKindExecuteStep
		enrollment.PendingFallbackStepID = nil
		return
	}
	runAt := now.Add(nextStep.Delay())
	enrollment.CurrentStepIndex = next
	enrollment.NextRunAt = &runAt
	enrollment.NextRunKind = models.RunKindExecuteStep
	enrollment.PendingFallbackStepID = nil
}

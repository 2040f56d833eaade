// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/sequence-engine/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// SequenceRepository defines operations for sequences and their steps
type SequenceRepository interface {
	Repository[models.Sequence, models.SequenceFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.Sequence, error)
	ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error)
	Update(ctx context.Context, sequence *models.Sequence) error
	UpdateStatus(ctx context.Context, id uint, from, to models.SequenceStatus) (bool, error)
	ReplaceSteps(ctx context.Context, sequenceID uint, steps []*models.SequenceStep) error
	AddStepConditions(ctx context.Context, conditions []*models.StepCondition) error
}

// EnrollmentRepository defines operations for enrollments, including the
// claim protocol the scheduler relies on for at-most-once processing
type EnrollmentRepository interface {
	Repository[models.Enrollment, models.EnrollmentFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.Enrollment, error)
	BySequenceAndLead(ctx context.Context, sequenceID uint, leadID string) (*models.Enrollment, error)
	ListBySequence(ctx context.Context, sequenceID uint, limit, offset int) ([]*models.Enrollment, error)
	ListDue(ctx context.Context, organizationID *uint, now time.Time, limit int) ([]*models.Enrollment, error)

	// Claim atomically takes a lease on a due, unclaimed (or lease-expired)
	// enrollment. It reports false when another worker holds the claim or
	// the enrollment is no longer due.
	Claim(ctx context.Context, id uint, workerID string, now time.Time, lease time.Duration) (bool, error)

	// UpdateAndRelease persists the advanced enrollment state and clears
	// the claim in a single statement guarded by the worker's claim.
	UpdateAndRelease(ctx context.Context, enrollment *models.Enrollment, workerID string) error

	// Release clears the claim without changing scheduling state, used
	// when a transient failure should leave the enrollment retryable.
	Release(ctx context.Context, id uint, workerID string) error

	Update(ctx context.Context, enrollment *models.Enrollment) error
}

// StepExecutionRepository defines operations for step execution records
type StepExecutionRepository interface {
	Repository[models.StepExecution, models.StepExecutionFilter]
	ByEnrollmentAndStep(ctx context.Context, enrollmentID, stepID uint) (*models.StepExecution, error)
	ByChannelMessageID(ctx context.Context, channelMessageID string) (*models.StepExecution, error)
	ListByEnrollment(ctx context.Context, enrollmentID uint) ([]*models.StepExecution, error)
}

// StepAnalyticsRepository defines operations for per-step counters
type StepAnalyticsRepository interface {
	Increment(ctx context.Context, organizationID, sequenceID, stepID uint, deltas models.CounterDeltas) error
	BySequence(ctx context.Context, sequenceID uint) ([]*models.StepAnalytics, error)
	ByStep(ctx context.Context, sequenceID, stepID uint) (*models.StepAnalytics, error)
}

// ChannelEventRepository defines operations for provider-reported events
type ChannelEventRepository interface {
	Repository[models.ChannelEvent, models.ChannelEventFilter]
	ByMessageID(ctx context.Context, channelMessageID string) ([]*models.ChannelEvent, error)
	ByMessageIDs(ctx context.Context, channelMessageIDs []string) ([]*models.ChannelEvent, error)
	HasEventOfType(ctx context.Context, channelMessageID string, eventType models.ChannelEventType) (bool, error)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/sequence-engine/models"
	"gorm.io/gorm"
)

// EnrollmentRepositoryImpl implements EnrollmentRepository
type EnrollmentRepositoryImpl struct {
	*BaseRepository[models.Enrollment, models.EnrollmentFilter]
}

func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &EnrollmentRepositoryImpl{BaseRepository: NewBaseRepository[models.Enrollment, models.EnrollmentFilter](db)}
}

func (r *EnrollmentRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	db := r.getDB(ctx)
	var row models.Enrollment
	if err := db.Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *EnrollmentRepositoryImpl) BySequenceAndLead(ctx context.Context, sequenceID uint, leadID string) (*models.Enrollment, error) {
	db := r.getDB(ctx)
	var row models.Enrollment
	if err := db.Where("sequence_id = ? AND lead_id = ?", sequenceID, leadID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *EnrollmentRepositoryImpl) ListBySequence(ctx context.Context, sequenceID uint, limit, offset int) ([]*models.Enrollment, error) {
	filter := models.EnrollmentFilter{SequenceID: &sequenceID}
	return r.ByFilter(ctx, filter, "id ASC", limit, offset)
}

// ListDue returns active enrollments whose next action is due and whose claim
// is absent or lease-expired, oldest due first. organizationID scopes the
// query to one tenant; nil scans all tenants (partitioned deployments pass
// their own org).
func (r *EnrollmentRepositoryImpl) ListDue(ctx context.Context, organizationID *uint, now time.Time, limit int) ([]*models.Enrollment, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	query := db.Model(&models.Enrollment{}).
		Where("status = ?", models.EnrollmentStatusActive).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Where("claimed_by IS NULL OR claim_expires_at <= ?", now)
	if organizationID != nil {
		query = query.Where("organization_id = ?", *organizationID)
	}
	var rows []*models.Enrollment
	if err := query.Order("next_run_at ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Claim performs the compare-and-swap lease acquisition. The guard repeats
// the due predicate so a claim taken between ListDue and here loses cleanly.
func (r *EnrollmentRepositoryImpl) Claim(ctx context.Context, id uint, workerID string, now time.Time, lease time.Duration) (bool, error) {
	db := r.getDB(ctx)
	expiry := now.Add(lease)
	res := db.Model(&models.Enrollment{}).
		Where("id = ?", id).
		Where("status = ?", models.EnrollmentStatusActive).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Where("claimed_by IS NULL OR claim_expires_at <= ?", now).
		Updates(map[string]any{
			"claimed_by":       workerID,
			"claim_expires_at": expiry,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim enrollment %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateAndRelease commits the advanced cursor state and drops the claim in
// one statement. A crash before this point leaves the old state plus a lease
// that expires; a crash after leaves the fully advanced state. There is no
// in-between visible to other workers.
func (r *EnrollmentRepositoryImpl) UpdateAndRelease(ctx context.Context, e *models.Enrollment, workerID string) error {
	db := r.getDB(ctx)
	now := time.Now().UTC()
	res := db.Model(&models.Enrollment{}).
		Where("id = ? AND claimed_by = ?", e.ID, workerID).
		Updates(map[string]any{
			"current_step_index":       e.CurrentStepIndex,
			"status":                   e.Status,
			"next_run_at":              e.NextRunAt,
			"next_run_kind":            e.NextRunKind,
			"pending_fallback_step_id": e.PendingFallbackStepID,
			"stopped_at":               e.StoppedAt,
			"last_error":               e.LastError,
			"claimed_by":               nil,
			"claim_expires_at":         nil,
			"updated_at":               now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update enrollment %d: %w", e.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("claim on enrollment %d no longer held by %s", e.ID, workerID)
	}
	return nil
}

// Release drops the claim without touching scheduling state
func (r *EnrollmentRepositoryImpl) Release(ctx context.Context, id uint, workerID string) error {
	db := r.getDB(ctx)
	res := db.Model(&models.Enrollment{}).
		Where("id = ? AND claimed_by = ?", id, workerID).
		Updates(map[string]any{
			"claimed_by":       nil,
			"claim_expires_at": nil,
		})
	return res.Error
}

func (r *EnrollmentRepositoryImpl) Update(ctx context.Context, e *models.Enrollment) error {
	db := r.getDB(ctx)
	if err := e.BeforeUpdate(db); err != nil {
		return err
	}
	return db.Save(e).Error
}

func (r *EnrollmentRepositoryImpl) applyFilter(db *gorm.DB, f models.EnrollmentFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.OrganizationID != nil {
		db = db.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.SequenceID != nil {
		db = db.Where("sequence_id = ?", *f.SequenceID)
	}
	if f.LeadID != nil {
		db = db.Where("lead_id = ?", *f.LeadID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.DueBefore != nil {
		db = db.Where("next_run_at IS NOT NULL AND next_run_at <= ?", *f.DueBefore)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *EnrollmentRepositoryImpl) ByFilter(ctx context.Context, filter models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Enrollment{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Enrollment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EnrollmentRepositoryImpl) Count(ctx context.Context, filter models.EnrollmentFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Enrollment{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *EnrollmentRepositoryImpl) Exists(ctx context.Context, filter models.EnrollmentFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

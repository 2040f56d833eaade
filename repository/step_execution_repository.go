package repository

import (
	"context"
	"errors"

	"github.com/leadpulse/sequence-engine/models"
	"gorm.io/gorm"
)

// StepExecutionRepositoryImpl implements StepExecutionRepository
type StepExecutionRepositoryImpl struct {
	*BaseRepository[models.StepExecution, models.StepExecutionFilter]
}

func NewStepExecutionRepository(db *gorm.DB) StepExecutionRepository {
	return &StepExecutionRepositoryImpl{BaseRepository: NewBaseRepository[models.StepExecution, models.StepExecutionFilter](db)}
}

// ByEnrollmentAndStep returns the execution record for one (enrollment, step)
// pair. At most one exists; its presence is the executor's at-most-once guard.
func (r *StepExecutionRepositoryImpl) ByEnrollmentAndStep(ctx context.Context, enrollmentID, stepID uint) (*models.StepExecution, error) {
	db := r.getDB(ctx)
	var row models.StepExecution
	if err := db.Where("enrollment_id = ? AND step_id = ?", enrollmentID, stepID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *StepExecutionRepositoryImpl) ByChannelMessageID(ctx context.Context, channelMessageID string) (*models.StepExecution, error) {
	db := r.getDB(ctx)
	var row models.StepExecution
	if err := db.Where("channel_message_id = ?", channelMessageID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *StepExecutionRepositoryImpl) ListByEnrollment(ctx context.Context, enrollmentID uint) ([]*models.StepExecution, error) {
	filter := models.StepExecutionFilter{EnrollmentID: &enrollmentID}
	return r.ByFilter(ctx, filter, "executed_at ASC, id ASC", 0, 0)
}

func (r *StepExecutionRepositoryImpl) applyFilter(db *gorm.DB, f models.StepExecutionFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OrganizationID != nil {
		db = db.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.EnrollmentID != nil {
		db = db.Where("enrollment_id = ?", *f.EnrollmentID)
	}
	if f.StepID != nil {
		db = db.Where("step_id = ?", *f.StepID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ChannelMessageID != nil {
		db = db.Where("channel_message_id = ?", *f.ChannelMessageID)
	}
	return db
}

func (r *StepExecutionRepositoryImpl) ByFilter(ctx context.Context, filter models.StepExecutionFilter, orderBy string, limit, offset int) ([]*models.StepExecution, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.StepExecution{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.StepExecution
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *StepExecutionRepositoryImpl) Count(ctx context.Context, filter models.StepExecutionFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.StepExecution{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *StepExecutionRepositoryImpl) Exists(ctx context.Context, filter models.StepExecutionFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

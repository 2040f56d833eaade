package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/leadpulse/sequence-engine/models"
	"gorm.io/gorm"
)

// SequenceRepositoryImpl implements SequenceRepository
type SequenceRepositoryImpl struct {
	*BaseRepository[models.Sequence, models.SequenceFilter]
}

func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &SequenceRepositoryImpl{BaseRepository: NewBaseRepository[models.Sequence, models.SequenceFilter](db)}
}

func (r *SequenceRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.Sequence, error) {
	db := r.getDB(ctx)
	var row models.Sequence
	if err := db.Preload("Steps").Preload("Steps.Conditions").
		Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ByIDWithSteps loads a sequence with its steps and step conditions preloaded
func (r *SequenceRepositoryImpl) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	db := r.getDB(ctx)
	var row models.Sequence
	if err := db.Preload("Steps").Preload("Steps.Conditions").
		First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *SequenceRepositoryImpl) Update(ctx context.Context, sequence *models.Sequence) error {
	db := r.getDB(ctx)
	if err := sequence.BeforeUpdate(db); err != nil {
		return err
	}
	return db.Save(sequence).Error
}

// UpdateStatuses a compare-and-swap status transition; reports false when the
// sequence was not in the expected source status.
func (r *SequenceRepositoryImpl) UpdateStatus(ctx context.Context, id uint, from, to models.SequenceStatus) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.Sequence{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition sequence %d from %s to %s: %w", id, from, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReplaceSteps swaps the full step list of a draft/paused sequence.
// Callers must run this inside a transaction together with the editability check.
func (r *SequenceRepositoryImpl) ReplaceSteps(ctx context.Context, sequenceID uint, steps []*models.SequenceStep) error {
	db := r.getDB(ctx)

	var stepIDs []uint
	if err := db.Model(&models.SequenceStep{}).Where("sequence_id = ?", sequenceID).Pluck("id", &stepIDs).Error; err != nil {
		return err
	}
	if len(stepIDs) > 0 {
		if err := db.Where("step_id IN ?", stepIDs).Delete(&models.StepCondition{}).Error; err != nil {
			return err
		}
		if err := db.Where("sequence_id = ?", sequenceID).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
	}
	if len(steps) == 0 {
		return nil
	}
	for _, s := range steps {
		s.SequenceID = sequenceID
	}
	return db.Create(steps).Error
}

// AddStepConditions inserts condition rows for steps that already have IDs.
// It runs after ReplaceSteps so fallback references can point at the new steps.
func (r *SequenceRepositoryImpl) AddStepConditions(ctx context.Context, conditions []*models.StepCondition) error {
	if len(conditions) == 0 {
		return nil
	}
	db := r.getDB(ctx)
	return db.Create(conditions).Error
}

func (r *SequenceRepositoryImpl) applyFilter(db *gorm.DB, f models.SequenceFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.OrganizationID != nil {
		db = db.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Name != nil {
		db = db.Where("name = ?", *f.Name)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *SequenceRepositoryImpl) ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Sequence{}).Preload("Steps"), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Sequence
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SequenceRepositoryImpl) Count(ctx context.Context, filter models.SequenceFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Sequence{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SequenceRepositoryImpl) Exists(ctx context.Context, filter models.SequenceFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

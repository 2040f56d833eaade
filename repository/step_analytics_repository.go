package repository

import (
	"context"
	"errors"
	"time"

	"github.com/leadpulse/sequence-engine/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StepAnalyticsRepositoryImpl implements StepAnalyticsRepository
type StepAnalyticsRepositoryImpl struct {
	db *gorm.DB
}

func NewStepAnalyticsRepository(db *gorm.DB) StepAnalyticsRepository {
	return &StepAnalyticsRepositoryImpl{db: db}
}

func (r *StepAnalyticsRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// Increment applies counter deltas with an atomic upsert. Concurrent step
// executors incrementing the same (sequence, step) row never lose updates
// because the increments happen in SQL, not in application code.
func (r *StepAnalyticsRepositoryImpl) Increment(ctx context.Context, organizationID, sequenceID, stepID uint, deltas models.CounterDeltas) error {
	if deltas.IsZero() {
		return nil
	}
	db := r.getDB(ctx)
	now := time.Now().UTC()
	row := models.StepAnalytics{
		OrganizationID: organizationID,
		SequenceID:     sequenceID,
		StepID:         stepID,
		Sent:           deltas.Sent,
		Delivered:      deltas.Delivered,
		Opened:         deltas.Opened,
		Clicked:        deltas.Clicked,
		Replied:        deltas.Replied,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sequence_id"}, {Name: "step_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"sent":       gorm.Expr("step_analytics.sent + ?", deltas.Sent),
			"delivered":  gorm.Expr("step_analytics.delivered + ?", deltas.Delivered),
			"opened":     gorm.Expr("step_analytics.opened + ?", deltas.Opened),
			"clicked":    gorm.Expr("step_analytics.clicked + ?", deltas.Clicked),
			"replied":    gorm.Expr("step_analytics.replied + ?", deltas.Replied),
			"updated_at": now,
		}),
	}).Create(&row).Error
}

func (r *StepAnalyticsRepositoryImpl) BySequence(ctx context.Context, sequenceID uint) ([]*models.StepAnalytics, error) {
	db := r.getDB(ctx)
	var rows []*models.StepAnalytics
	if err := db.Where("sequence_id = ?", sequenceID).Order("step_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *StepAnalyticsRepositoryImpl) ByStep(ctx context.Context, sequenceID, stepID uint) (*models.StepAnalytics, error) {
	db := r.getDB(ctx)
	var row models.StepAnalytics
	if err := db.Where("sequence_id = ? AND step_id = ?", sequenceID, stepID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

package repository

import (
	"context"

	"github.com/lib/pq"
	"github.com/leadpulse/sequence-engine/models"
	"gorm.io/gorm"
)

// ChannelEventRepositoryImpl implements ChannelEventRepository
type ChannelEventRepositoryImpl struct {
	*BaseRepository[models.ChannelEvent, models.ChannelEventFilter]
}

func NewChannelEventRepository(db *gorm.DB) ChannelEventRepository {
	return &ChannelEventRepositoryImpl{BaseRepository: NewBaseRepository[models.ChannelEvent, models.ChannelEventFilter](db)}
}

func (r *ChannelEventRepositoryImpl) ByMessageID(ctx context.Context, channelMessageID string) ([]*models.ChannelEvent, error) {
	filter := models.ChannelEventFilter{ChannelMessageID: &channelMessageID}
	return r.ByFilter(ctx, filter, "occurred_at ASC, id ASC", 0, 0)
}

// ByMessageIDs fetches events for a batch of message ids in one query
func (r *ChannelEventRepositoryImpl) ByMessageIDs(ctx context.Context, channelMessageIDs []string) ([]*models.ChannelEvent, error) {
	if len(channelMessageIDs) == 0 {
		return nil, nil
	}
	db := r.getDB(ctx)
	var rows []*models.ChannelEvent
	if err := db.Where("channel_message_id = ANY(?)", pq.StringArray(channelMessageIDs)).
		Order("occurred_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ChannelEventRepositoryImpl) HasEventOfType(ctx context.Context, channelMessageID string, eventType models.ChannelEventType) (bool, error) {
	filter := models.ChannelEventFilter{ChannelMessageID: &channelMessageID, Type: &eventType}
	return r.Exists(ctx, filter)
}

func (r *ChannelEventRepositoryImpl) applyFilter(db *gorm.DB, f models.ChannelEventFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OrganizationID != nil {
		db = db.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.ChannelMessageID != nil {
		db = db.Where("channel_message_id = ?", *f.ChannelMessageID)
	}
	if f.Type != nil {
		db = db.Where("type = ?", *f.Type)
	}
	if f.OccurredAfter != nil {
		db = db.Where("occurred_at >= ?", *f.OccurredAfter)
	}
	if f.OccurredBefore != nil {
		db = db.Where("occurred_at < ?", *f.OccurredBefore)
	}
	return db
}

func (r *ChannelEventRepositoryImpl) ByFilter(ctx context.Context, filter models.ChannelEventFilter, orderBy string, limit, offset int) ([]*models.ChannelEvent, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ChannelEvent{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ChannelEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ChannelEventRepositoryImpl) Count(ctx context.Context, filter models.ChannelEventFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ChannelEvent{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChannelEventRepositoryImpl) Exists(ctx context.Context, filter models.ChannelEventFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

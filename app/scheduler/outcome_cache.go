package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadpulse/sequence-engine/models"
)

// OutcomeCache keeps the channel event types observed per channel message id
// in redis so deferred condition checks usually avoid a database read. The
// cache is advisory: a miss falls through to the channel event table, and a
// nil client disables caching entirely.
type OutcomeCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewOutcomeCache creates an outcome cache. rc may be nil.
func NewOutcomeCache(rc *redis.Client, ttl time.Duration) *OutcomeCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &OutcomeCache{rc: rc, ttl: ttl}
}

func outcomeKey(channelMessageID string) string {
	return fmt.Sprintf("sequence_engine:outcomes:%s", channelMessageID)
}

// Add records an observed event type for the message. Cache errors are
// swallowed; the event table remains the source of truth.
func (c *OutcomeCache) Add(ctx context.Context, channelMessageID string, eventType models.ChannelEventType) {
	if c == nil || c.rc == nil || channelMessageID == "" {
		return
	}
	key := outcomeKey(channelMessageID)
	pipe := c.rc.Pipeline()
	pipe.SAdd(ctx, key, eventType.String())
	pipe.Expire(ctx, key, c.ttl)
	_, _ = pipe.Exec(ctx)
}

// Events returns the cached event types for the message and whether the
// cache had an entry at all
func (c *OutcomeCache) Events(ctx context.Context, channelMessageID string) ([]models.ChannelEventType, bool) {
	if c == nil || c.rc == nil || channelMessageID == "" {
		return nil, false
	}
	members, err := c.rc.SMembers(ctx, outcomeKey(channelMessageID)).Result()
	if err != nil || len(members) == 0 {
		return nil, false
	}
	events := make([]models.ChannelEventType, 0, len(members))
	for _, m := range members {
		ev := models.ChannelEventType(m)
		if ev.Valid() {
			events = append(events, ev)
		}
	}
	return events, true
}

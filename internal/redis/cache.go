package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dailyspot/internal/domain"
)

const (
	spotsCacheKey     = "spots:cache"
	spotsCacheTimeKey = "spots:cache_timestamp"
)

// GetCachedSpots returns the cached spot list if it was stored less than
// maxAge before now. The bool is false on a miss or a stale entry.
func (s *Store) GetCachedSpots(ctx context.Context, maxAge time.Duration, now time.Time) ([]domain.Spot, bool, error) {
	values, err := s.client.MGet(ctx, spotsCacheKey, spotsCacheTimeKey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("getting cached spots: %w", err)
	}
	raw, ok1 := values[0].(string)
	tsRaw, ok2 := values[1].(string)
	if !ok1 || !ok2 {
		return nil, false, nil
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		s.logger.Warn("ignoring malformed spot cache timestamp", "value", tsRaw)
		return nil, false, nil
	}
	if now.Sub(time.UnixMilli(ts)) >= maxAge {
		return nil, false, nil
	}

	var spots []domain.Spot
	if err := json.Unmarshal([]byte(raw), &spots); err != nil {
		s.logger.Warn("ignoring malformed spot cache", "error", err)
		return nil, false, nil
	}
	return spots, true, nil
}

// CacheSpots stores the spot list with its fetch time.
func (s *Store) CacheSpots(ctx context.Context, spots []domain.Spot, now time.Time) error {
	data, err := json.Marshal(spots)
	if err != nil {
		return fmt.Errorf("marshaling spots: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, spotsCacheKey, data, 0)
	pipe.Set(ctx, spotsCacheTimeKey, strconv.FormatInt(now.UnixMilli(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching spots: %w", err)
	}
	return nil
}

// InvalidateSpots drops the cached spot list
func (s *Store) InvalidateSpots(ctx context.Context) error {
	if err := s.client.Del(ctx, spotsCacheKey, spotsCacheTimeKey).Err(); err != nil {
		return fmt.Errorf("invalidating spot cache: %w", err)
	}
	return nil
}

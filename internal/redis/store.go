package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// markerGrace is how old a day marker must be before a missing result is
// treated as a failed write rather than one still in flight.
const markerGrace = 5 * time.Second

// releaseStaleMarker deletes the day marker when the day has no recorded
// result and the marker was claimed before ARGV[2] (unix ms).
var releaseStaleMarker = redis.NewScript(`
if redis.call('GET', KEYS[2]) == ARGV[1] then
	return 0
end
local claimed = tonumber(redis.call('GET', KEYS[1]))
if claimed == nil or claimed > tonumber(ARGV[2]) then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// Store is the per-player key-value store backing "today's result", the
// spot list cache, the daily leaderboards and the pending sync queue.
type Store struct {
	client    *redis.Client
	resultTTL time.Duration
	logger    *slog.Logger
}

// NewStore creates a new Redis store and verifies the connection
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreWithClient(client, cfg.ResultTTL, logger), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, resultTTL time.Duration, logger *slog.Logger) *Store {
	if resultTTL <= 0 {
		resultTTL = 48 * time.Hour
	}
	return &Store{
		client:    client,
		resultTTL: resultTTL,
		logger:    logger,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// todayResultKey holds the JSON encoded result of the player's last play
func (s *Store) todayResultKey(playerID string) string {
	return fmt.Sprintf("player:%s:today_result", playerID)
}

// lastPlayDateKey holds the date of the player's last play
func (s *Store) lastPlayDateKey(playerID string) string {
	return fmt.Sprintf("player:%s:last_play_date", playerID)
}

// playedKey is the day marker that admits one result per player per day
func (s *Store) playedKey(playerID, date string) string {
	return fmt.Sprintf("player:%s:played:%s", playerID, date)
}

// syncKey holds the remote sync status of a day's result
func (s *Store) syncKey(playerID, date string) string {
	return fmt.Sprintf("player:%s:sync:%s", playerID, date)
}

// SaveTodayResult stores the player's result for its day. It returns false
// without writing when a result for that day already exists.
func (s *Store) SaveTodayResult(ctx context.Context, playerID string, result domain.GameResult) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshaling result: %w", err)
	}

	marker := s.playedKey(playerID, result.Date)
	won, err := s.client.SetNX(ctx, marker, time.Now().UnixMilli(), s.resultTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claiming day marker: %w", err)
	}
	if !won {
		return false, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.todayResultKey(playerID), data, s.resultTTL)
		pipe.Set(ctx, s.lastPlayDateKey(playerID), result.Date, s.resultTTL)
		return nil
	})
	if err != nil {
		// release the marker so the player can retry
		if delErr := s.client.Del(ctx, marker).Err(); delErr != nil {
			s.logger.Warn("failed to release day marker", "player_id", playerID, "error", delErr)
		}
		return false, fmt.Errorf("saving result: %w", err)
	}
	return true, nil
}

// ReleaseStaleMarker drops a day marker that has no result behind it, as
// left by a save whose write and marker release both failed. It reports
// whether a marker was released. Markers younger than markerGrace are kept
// since their write may still be in flight.
func (s *Store) ReleaseStaleMarker(ctx context.Context, playerID, date string) (bool, error) {
	cutoff := time.Now().Add(-markerGrace).UnixMilli()
	keys := []string{s.playedKey(playerID, date), s.lastPlayDateKey(playerID)}
	released, err := releaseStaleMarker.Run(ctx, s.client, keys, date, cutoff).Int()
	if err != nil {
		return false, fmt.Errorf("releasing day marker: %w", err)
	}
	return released == 1, nil
}

// GetTodayResult returns the player's result for today, or
// domain.ErrResultNotFound when the last play was on another day.
func (s *Store) GetTodayResult(ctx context.Context, playerID, today string) (*domain.GameResult, error) {
	pipe := s.client.Pipeline()
	dateCmd := pipe.Get(ctx, s.lastPlayDateKey(playerID))
	resultCmd := pipe.Get(ctx, s.todayResultKey(playerID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting today result: %w", err)
	}

	lastPlayDate, err := dateCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting last play date: %w", err)
	}
	if lastPlayDate != today {
		return nil, domain.ErrResultNotFound
	}

	raw, err := resultCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}

	var result domain.GameResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &result, nil
}

// ClearTodayResult forgets the player's result for today.
func (s *Store) ClearTodayResult(ctx context.Context, playerID, today string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.todayResultKey(playerID))
	pipe.Del(ctx, s.lastPlayDateKey(playerID))
	pipe.Del(ctx, s.playedKey(playerID, today))
	pipe.Del(ctx, s.syncKey(playerID, today))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clearing today result: %w", err)
	}
	return nil
}

// SetSyncStatus records how far the day's result got towards remote stats
func (s *Store) SetSyncStatus(ctx context.Context, playerID, date string, status domain.SyncStatus) error {
	if err := s.client.Set(ctx, s.syncKey(playerID, date), string(status), s.resultTTL).Err(); err != nil {
		return fmt.Errorf("setting sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the recorded sync status, local_only if none
func (s *Store) GetSyncStatus(ctx context.Context, playerID, date string) (domain.SyncStatus, error) {
	status, err := s.client.Get(ctx, s.syncKey(playerID, date)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.SyncStatusLocalOnly, nil
	}
	if err != nil {
		return "", fmt.Errorf("getting sync status: %w", err)
	}
	return domain.SyncStatus(status), nil
}

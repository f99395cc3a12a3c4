package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dailyspot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// dailyBoardTTL keeps a day's board around for a week
const dailyBoardTTL = 7 * 24 * time.Hour

// leaderboardKey returns the Redis key for a day's sorted set
func (s *Store) leaderboardKey(date string) string {
	return fmt.Sprintf("leaderboard:%s:daily", date)
}

// RecordScore adds the player's score to the day's board. The first score
// recorded for a player on a day is kept.
func (s *Store) RecordScore(ctx context.Context, date, playerID string, score int) error {
	key := s.leaderboardKey(date)
	pipe := s.client.Pipeline()
	pipe.ZAddNX(ctx, key, redis.Z{
		Score:  float64(score),
		Member: playerID,
	})
	pipe.Expire(ctx, key, dailyBoardTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording score: %w", err)
	}
	return nil
}

// GetTopN returns the top N players of the day (descending order)
func (s *Store) GetTopN(ctx context.Context, date string, n int) ([]domain.LeaderboardEntry, error) {
	key := s.leaderboardKey(date)
	results, err := s.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:     int64(i + 1),
			PlayerID: result.Member.(string),
			Score:    int64(result.Score),
		}
	}
	return entries, nil
}

// GetPlayerRank returns a player's rank and score for the day
func (s *Store) GetPlayerRank(ctx context.Context, date, playerID string) (*domain.LeaderboardEntry, error) {
	key := s.leaderboardKey(date)

	// Use pipeline to get both rank and score
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, playerID)
	scoreCmd := pipe.ZScore(ctx, key, playerID)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrResultNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.LeaderboardEntry{
		Rank:     rank + 1, // Convert 0-indexed to 1-indexed
		PlayerID: playerID,
		Score:    int64(score),
	}, nil
}

// GetCount returns the number of players on the day's board
func (s *Store) GetCount(ctx context.Context, date string) (int64, error) {
	count, err := s.client.ZCard(ctx, s.leaderboardKey(date)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// RemovePlayer removes a player from the day's board
func (s *Store) RemovePlayer(ctx context.Context, date, playerID string) error {
	if err := s.client.ZRem(ctx, s.leaderboardKey(date), playerID).Err(); err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	return nil
}

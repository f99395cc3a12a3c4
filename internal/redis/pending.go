package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dailyspot/internal/domain"
)

const pendingSyncKey = "sync:pending"

// AddPendingSync parks a remote stats append for a later retry
func (s *Store) AddPendingSync(ctx context.Context, job domain.SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling sync job: %w", err)
	}
	if err := s.client.HSet(ctx, pendingSyncKey, job.Key(), data).Err(); err != nil {
		return fmt.Errorf("adding pending sync: %w", err)
	}
	return nil
}

// ListPendingSync returns up to limit parked jobs
func (s *Store) ListPendingSync(ctx context.Context, limit int) ([]domain.SyncJob, error) {
	result, err := s.client.HGetAll(ctx, pendingSyncKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing pending sync: %w", err)
	}

	jobs := make([]domain.SyncJob, 0, len(result))
	for key, raw := range result {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		var job domain.SyncJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.logger.Warn("dropping malformed sync job", "key", key, "error", err)
			s.client.HDel(ctx, pendingSyncKey, key)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RemovePendingSync deletes a parked job
func (s *Store) RemovePendingSync(ctx context.Context, job domain.SyncJob) error {
	if err := s.client.HDel(ctx, pendingSyncKey, job.Key()).Err(); err != nil {
		return fmt.Errorf("removing pending sync: %w", err)
	}
	return nil
}

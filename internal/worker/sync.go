package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/metrics"
)

// StatsAppender appends a game to a user's remote stats.
type StatsAppender interface {
	AppendGame(ctx context.Context, uid string, rec domain.GameRecord) (bool, error)
}

// PendingStore parks undelivered jobs and records per-day sync status.
type PendingStore interface {
	AddPendingSync(ctx context.Context, job domain.SyncJob) error
	ListPendingSync(ctx context.Context, limit int) ([]domain.SyncJob, error)
	RemovePendingSync(ctx context.Context, job domain.SyncJob) error
	SetSyncStatus(ctx context.Context, playerID, date string, status domain.SyncStatus) error
}

// SyncWorker delivers game results to remote stats in the background.
// Jobs that fail are parked in the pending store and retried on a ticker
// until they succeed or run out of attempts.
type SyncWorker struct {
	stats   StatsAppender
	pending PendingStore
	config  *config.SyncConfig
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	queue   chan domain.SyncJob
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker. timeout bounds each remote
// append.
func NewSyncWorker(
	stats StatsAppender,
	pending PendingStore,
	cfg *config.SyncConfig,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SyncWorker {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SyncWorker{
		stats:   stats,
		pending: pending,
		config:  cfg,
		timeout: timeout,
		metrics: m,
		logger:  logger,
		queue:   make(chan domain.SyncJob, queueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Enqueue hands a job to the worker without blocking. When the queue is
// full the job is parked for the next retry cycle instead.
func (w *SyncWorker) Enqueue(ctx context.Context, job domain.SyncJob) error {
	select {
	case w.queue <- job:
		return nil
	default:
	}

	w.logger.Warn("sync queue full, parking job", "user_id", job.UserID, "date", job.Record.Date)
	if err := w.pending.AddPendingSync(ctx, job); err != nil {
		return fmt.Errorf("parking sync job: %w", err)
	}
	return nil
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started",
		"retry_interval", w.config.RetryInterval,
		"max_attempts", w.config.MaxAttempts,
	)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process. Jobs still queued are parked.
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.parkQueued()
	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.config.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case job := <-w.queue:
			w.deliver(ctx, job)
		case <-ticker.C:
			w.retryPending(ctx)
		}
	}
}

// deliver makes one attempt at appending the job's game.
func (w *SyncWorker) deliver(ctx context.Context, job domain.SyncJob) {
	job.Attempts++

	attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
	added, err := w.stats.AppendGame(attemptCtx, job.UserID, job.Record)
	cancel()

	if err == nil {
		if added {
			w.metrics.RemoteSync(metrics.SyncSucceeded)
		} else {
			w.metrics.RemoteSync(metrics.SyncDuplicate)
		}
		w.setStatus(ctx, job, domain.SyncStatusSynced)
		if err := w.pending.RemovePendingSync(ctx, job); err != nil {
			w.logger.Warn("failed to remove delivered sync job", "key", job.Key(), "error", err)
		}
		w.logger.Debug("game synced to remote stats",
			"user_id", job.UserID,
			"date", job.Record.Date,
			"attempts", job.Attempts,
		)
		return
	}

	w.metrics.RemoteSync(metrics.SyncFailed)
	w.setStatus(ctx, job, domain.SyncStatusFailed)

	if w.config.MaxAttempts > 0 && job.Attempts >= w.config.MaxAttempts {
		w.metrics.RemoteSync(metrics.SyncDropped)
		w.logger.Error("giving up on remote stats sync",
			"user_id", job.UserID,
			"date", job.Record.Date,
			"attempts", job.Attempts,
			"error", err,
		)
		if err := w.pending.RemovePendingSync(ctx, job); err != nil {
			w.logger.Warn("failed to remove abandoned sync job", "key", job.Key(), "error", err)
		}
		return
	}

	w.logger.Warn("remote stats sync failed, will retry",
		"user_id", job.UserID,
		"date", job.Record.Date,
		"attempts", job.Attempts,
		"error", err,
	)
	if err := w.pending.AddPendingSync(ctx, job); err != nil {
		w.logger.Error("failed to park sync job", "key", job.Key(), "error", err)
	}
}

func (w *SyncWorker) setStatus(ctx context.Context, job domain.SyncJob, status domain.SyncStatus) {
	if job.PlayerID == "" {
		return
	}
	if err := w.pending.SetSyncStatus(ctx, job.PlayerID, job.Record.Date, status); err != nil {
		w.logger.Warn("failed to record sync status", "player_id", job.PlayerID, "error", err)
	}
}

// retryPending retries parked jobs
func (w *SyncWorker) retryPending(ctx context.Context) {
	startTime := time.Now()

	jobs, err := w.pending.ListPendingSync(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list pending sync jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, job)
	}

	w.logger.Info("sync retry cycle completed",
		"duration", time.Since(startTime),
		"jobs", len(jobs),
	)
}

// parkQueued moves jobs left in the queue to the pending store.
func (w *SyncWorker) parkQueued() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case job := <-w.queue:
			if err := w.pending.AddPendingSync(ctx, job); err != nil {
				w.logger.Error("failed to park queued sync job", "key", job.Key(), "error", err)
			}
		default:
			return
		}
	}
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce retries parked jobs and then delivers queued ones (useful for
// manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.retryPending(ctx)

drain:
	for {
		select {
		case job := <-w.queue:
			w.deliver(ctx, job)
		default:
			break drain
		}
	}
}

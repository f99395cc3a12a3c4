package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyspot/internal/domain"
)

// Lister is the content source of record.
type Lister interface {
	ListSpots(ctx context.Context) ([]domain.Spot, error)
}

// Loader fetches the spot list, retrying failed fetches with exponential
// backoff.
type Loader struct {
	source  Lister
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// NewLoader creates a loader making up to retries attempts.
func NewLoader(source Lister, retries int, backoff time.Duration, logger *slog.Logger) *Loader {
	if retries < 1 {
		retries = 1
	}
	return &Loader{
		source:  source,
		retries: retries,
		backoff: backoff,
		logger:  logger,
	}
}

// Load returns all spots from the source.
func (l *Loader) Load(ctx context.Context) ([]domain.Spot, error) {
	var lastErr error
	for attempt := 0; attempt < l.retries; attempt++ {
		if attempt > 0 {
			delay := l.backoff * time.Duration(uint64(1)<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		spots, err := l.source.ListSpots(ctx)
		if err == nil {
			return spots, nil
		}
		lastErr = err
		l.logger.Warn("failed to load spots",
			"attempt", attempt+1,
			"max_attempts", l.retries,
			"error", err,
		)
	}
	return nil, fmt.Errorf("loading spots after %d attempts: %w", l.retries, lastErr)
}

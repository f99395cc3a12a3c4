// Package metrics provides Prometheus metrics for gameplay and sync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricGamesSubmittedTotal      = "dailyspot_games_submitted_total"
	MetricDuplicateSubmissionTotal = "dailyspot_duplicate_submissions_total"
	MetricRemoteSyncTotal          = "dailyspot_remote_sync_total"
	MetricSpotCacheTotal           = "dailyspot_spot_cache_total"
	MetricSpotFallbackTotal        = "dailyspot_spot_fallback_total"
	MetricGuessDistanceMiles       = "dailyspot_guess_distance_miles"
)

// Sync outcome labels.
const (
	SyncSucceeded = "synced"
	SyncDuplicate = "duplicate"
	SyncFailed    = "failed"
	SyncDropped   = "dropped"
)

// Cache lookup labels.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics holds the game collectors. All methods are safe for concurrent
// use and tolerate a nil receiver.
type Metrics struct {
	gamesSubmitted *prometheus.CounterVec
	duplicates     prometheus.Counter
	remoteSync     *prometheus.CounterVec
	spotCache      *prometheus.CounterVec
	spotFallback   prometheus.Counter
	guessDistance  prometheus.Histogram
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		gamesSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGamesSubmittedTotal,
				Help: "Total number of accepted game submissions by rating",
			},
			[]string{"rating"},
		),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDuplicateSubmissionTotal,
			Help: "Total number of submissions ignored because the day was already played",
		}),
		remoteSync: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRemoteSyncTotal,
				Help: "Total number of remote stats sync attempts by outcome",
			},
			[]string{"outcome"},
		),
		spotCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSpotCacheTotal,
				Help: "Spot list cache lookups by result",
			},
			[]string{"result"},
		),
		spotFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSpotFallbackTotal,
			Help: "Times the scheduled spot id was missing and the first spot was served",
		}),
		guessDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricGuessDistanceMiles,
			Help:    "Distance between guess and answer in miles",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.gamesSubmitted,
		m.duplicates,
		m.remoteSync,
		m.spotCache,
		m.spotFallback,
		m.guessDistance,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// GameSubmitted records an accepted submission.
func (m *Metrics) GameSubmitted(rating string, distance float64) {
	if m == nil {
		return
	}
	m.gamesSubmitted.WithLabelValues(rating).Inc()
	m.guessDistance.Observe(distance)
}

// DuplicateSubmission records a submission for an already played day.
func (m *Metrics) DuplicateSubmission() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// RemoteSync records the outcome of one remote append attempt.
func (m *Metrics) RemoteSync(outcome string) {
	if m == nil {
		return
	}
	m.remoteSync.WithLabelValues(outcome).Inc()
}

// SpotCache records a spot list cache lookup.
func (m *Metrics) SpotCache(result string) {
	if m == nil {
		return
	}
	m.spotCache.WithLabelValues(result).Inc()
}

// SpotFallback records a missing scheduled spot.
func (m *Metrics) SpotFallback() {
	if m == nil {
		return
	}
	m.spotFallback.Inc()
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/metrics"
	"github.com/dailyspot/internal/streetview"
)

type memLocal struct {
	mu      sync.Mutex
	results map[string]domain.GameResult
	status  map[string]domain.SyncStatus
	saveErr error

	// orphaned holds day markers ("player|date") with no result behind them
	orphaned map[string]bool
}

func newMemLocal() *memLocal {
	return &memLocal{
		results:  make(map[string]domain.GameResult),
		status:   make(map[string]domain.SyncStatus),
		orphaned: make(map[string]bool),
	}
}

func (m *memLocal) SaveTodayResult(ctx context.Context, playerID string, result domain.GameResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	if m.orphaned[playerID+"|"+result.Date] {
		return false, nil
	}
	if existing, ok := m.results[playerID]; ok && existing.Date == result.Date {
		return false, nil
	}
	m.results[playerID] = result
	return true, nil
}

func (m *memLocal) ReleaseStaleMarker(ctx context.Context, playerID, date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := playerID + "|" + date
	if !m.orphaned[key] {
		return false, nil
	}
	delete(m.orphaned, key)
	return true, nil
}

func (m *memLocal) GetTodayResult(ctx context.Context, playerID, today string) (*domain.GameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[playerID]
	if !ok || r.Date != today {
		return nil, domain.ErrResultNotFound
	}
	return &r, nil
}

func (m *memLocal) ClearTodayResult(ctx context.Context, playerID, today string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, playerID)
	delete(m.status, playerID+"|"+today)
	return nil
}

func (m *memLocal) SetSyncStatus(ctx context.Context, playerID, date string, status domain.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[playerID+"|"+date] = status
	return nil
}

func (m *memLocal) GetSyncStatus(ctx context.Context, playerID, date string) (domain.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[playerID+"|"+date]; ok {
		return s, nil
	}
	return domain.SyncStatusLocalOnly, nil
}

type memCache struct {
	mu     sync.Mutex
	spots  []domain.Spot
	stored time.Time
}

func (c *memCache) GetCachedSpots(ctx context.Context, maxAge time.Duration, now time.Time) ([]domain.Spot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spots == nil || now.Sub(c.stored) >= maxAge {
		return nil, false, nil
	}
	return c.spots, true, nil
}

func (c *memCache) CacheSpots(ctx context.Context, spots []domain.Spot, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spots = spots
	c.stored = now
	return nil
}

type countingLoader struct {
	mu    sync.Mutex
	calls int
	spots []domain.Spot
	err   error
}

func (l *countingLoader) Load(ctx context.Context) ([]domain.Spot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.spots, l.err
}

type memBoard struct {
	mu     sync.Mutex
	scores map[string]map[string]int
}

func newMemBoard() *memBoard {
	return &memBoard{scores: make(map[string]map[string]int)}
}

func (b *memBoard) RecordScore(ctx context.Context, date, playerID string, score int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scores[date] == nil {
		b.scores[date] = make(map[string]int)
	}
	if _, ok := b.scores[date][playerID]; !ok {
		b.scores[date][playerID] = score
	}
	return nil
}

func (b *memBoard) ranked(date string) []domain.LeaderboardEntry {
	var entries []domain.LeaderboardEntry
	for player, score := range b.scores[date] {
		entries = append(entries, domain.LeaderboardEntry{PlayerID: player, Score: int64(score)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].PlayerID > entries[j].PlayerID
	})
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries
}

func (b *memBoard) GetTopN(ctx context.Context, date string, n int) ([]domain.LeaderboardEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.ranked(date)
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (b *memBoard) GetPlayerRank(ctx context.Context, date, playerID string) (*domain.LeaderboardEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.ranked(date) {
		if e.PlayerID == playerID {
			return &e, nil
		}
	}
	return nil, domain.ErrResultNotFound
}

func (b *memBoard) GetCount(ctx context.Context, date string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.scores[date])), nil
}

func (b *memBoard) RemovePlayer(ctx context.Context, date, playerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scores[date], playerID)
	return nil
}

type memStats struct {
	mu    sync.Mutex
	stats map[string]*domain.GameStats
	delay time.Duration
}

func newMemStats() *memStats {
	return &memStats{stats: make(map[string]*domain.GameStats)}
}

func (m *memStats) GetOrCreateUserStats(ctx context.Context, uid string, historyLimit int) (*domain.GameStats, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[uid]
	if !ok {
		s = domain.NewGameStats(uid, time.Now().UTC())
		m.stats[uid] = s
	}
	copied := *s
	return &copied, nil
}

func (m *memStats) GetGameForDate(ctx context.Context, uid, date string) (*domain.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[uid]; ok {
		for _, g := range s.GamesHistory {
			if g.Date == date {
				return &g, nil
			}
		}
	}
	return nil, domain.ErrResultNotFound
}

type memQueue struct {
	mu   sync.Mutex
	jobs []domain.SyncJob
	err  error
}

func (q *memQueue) Enqueue(ctx context.Context, job domain.SyncJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Jobs() []domain.SyncJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.SyncJob(nil), q.jobs...)
}

type countingFinder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *countingFinder) Lookup(ctx context.Context, loc domain.Coordinate) (*streetview.Panorama, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("maps unavailable")
	}
	return &streetview.Panorama{PanoID: "pano-1", Location: loc}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	published map[string][]domain.LeaderboardEntry
}

func (n *recordingNotifier) PublishDaily(date string, entries []domain.LeaderboardEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.published == nil {
		n.published = make(map[string][]domain.LeaderboardEntry)
	}
	n.published[date] = entries
}

// testSpots are five spots; 2024-01-08 is day 7, which schedules id 3.
var testSpots = []domain.Spot{
	{ID: 5, Coordinates: domain.Coordinate{Latitude: 10, Longitude: 10}},
	{ID: 1, Coordinates: domain.Coordinate{Latitude: 1, Longitude: 1}},
	{ID: 3, Coordinates: domain.Coordinate{Latitude: 40, Longitude: -74}},
	{ID: 2, Coordinates: domain.Coordinate{Latitude: 2, Longitude: 2}},
	{ID: 4, Coordinates: domain.Coordinate{Latitude: 4, Longitude: 4}},
}

type testEnv struct {
	svc      *GameService
	local    *memLocal
	cache    *memCache
	loader   *countingLoader
	board    *memBoard
	stats    *memStats
	queue    *memQueue
	finder   *countingFinder
	notifier *recordingNotifier
	clock    time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		local:    newMemLocal(),
		cache:    &memCache{},
		loader:   &countingLoader{spots: testSpots},
		board:    newMemBoard(),
		stats:    newMemStats(),
		queue:    &memQueue{},
		finder:   &countingFinder{},
		notifier: &recordingNotifier{},
		clock:    time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC),
	}

	cfg := config.DefaultConfig()
	env.svc = NewGameService(Deps{
		Local:     env.local,
		Cache:     env.cache,
		Loader:    env.loader,
		Board:     env.board,
		Stats:     env.stats,
		Sync:      env.queue,
		Panoramas: env.finder,
		Notifier:  env.notifier,
		Metrics:   metrics.New(),
	}, &cfg.Game, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.svc.SetClock(func() time.Time { return env.clock })
	return env
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/metrics"
	"github.com/dailyspot/internal/rotation"
	"github.com/dailyspot/internal/scoring"
	"github.com/dailyspot/internal/session"
	"github.com/dailyspot/internal/streetview"
)

// LocalStore keeps each player's result for the current day.
type LocalStore interface {
	SaveTodayResult(ctx context.Context, playerID string, result domain.GameResult) (bool, error)
	ReleaseStaleMarker(ctx context.Context, playerID, date string) (bool, error)
	GetTodayResult(ctx context.Context, playerID, today string) (*domain.GameResult, error)
	ClearTodayResult(ctx context.Context, playerID, today string) error
	SetSyncStatus(ctx context.Context, playerID, date string, status domain.SyncStatus) error
	GetSyncStatus(ctx context.Context, playerID, date string) (domain.SyncStatus, error)
}

// SpotCache holds the spot list between content fetches.
type SpotCache interface {
	GetCachedSpots(ctx context.Context, maxAge time.Duration, now time.Time) ([]domain.Spot, bool, error)
	CacheSpots(ctx context.Context, spots []domain.Spot, now time.Time) error
}

// SpotLoader fetches the spot list from the content source.
type SpotLoader interface {
	Load(ctx context.Context) ([]domain.Spot, error)
}

// DailyBoard ranks the day's scores.
type DailyBoard interface {
	RecordScore(ctx context.Context, date, playerID string, score int) error
	GetTopN(ctx context.Context, date string, n int) ([]domain.LeaderboardEntry, error)
	GetPlayerRank(ctx context.Context, date, playerID string) (*domain.LeaderboardEntry, error)
	RemovePlayer(ctx context.Context, date, playerID string) error
	GetCount(ctx context.Context, date string) (int64, error)
}

// StatsReader reads remote aggregate stats.
type StatsReader interface {
	GetOrCreateUserStats(ctx context.Context, uid string, historyLimit int) (*domain.GameStats, error)
	GetGameForDate(ctx context.Context, uid, date string) (*domain.GameRecord, error)
}

// SyncQueue accepts remote stats appends for background delivery.
type SyncQueue interface {
	Enqueue(ctx context.Context, job domain.SyncJob) error
}

// PanoramaFinder looks up the street-level panorama of a location.
type PanoramaFinder interface {
	Lookup(ctx context.Context, loc domain.Coordinate) (*streetview.Panorama, error)
}

// BoardNotifier pushes a day's board to live subscribers.
type BoardNotifier interface {
	PublishDaily(date string, entries []domain.LeaderboardEntry)
}

// SubmitOutcome is what a submission produced.
type SubmitOutcome struct {
	Result        domain.GameResult `json:"result"`
	Rating        scoring.Rating    `json:"rating"`
	Emoji         string            `json:"emoji"`
	AlreadyPlayed bool              `json:"already_played"`
	SyncStatus    domain.SyncStatus `json:"sync_status"`
}

// Deps groups the collaborators of a GameService. Notifier, Panoramas and
// Metrics may be nil.
type Deps struct {
	Local     LocalStore
	Cache     SpotCache
	Loader    SpotLoader
	Board     DailyBoard
	Stats     StatsReader
	Sync      SyncQueue
	Panoramas PanoramaFinder
	Notifier  BoardNotifier
	Metrics   *metrics.Metrics
}

// GameService runs the daily game: picking the spot, tracking each
// player's session and recording results locally and remotely.
type GameService struct {
	deps   Deps
	config *config.GameConfig
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	sessions     map[string]*session.Session
	sessionsDate string
}

// errRecordedElsewhere signals that the day marker was already taken.
var errRecordedElsewhere = errors.New("result already recorded")

// NewGameService creates a new game service
func NewGameService(deps Deps, cfg *config.GameConfig, logger *slog.Logger) *GameService {
	return &GameService{
		deps:     deps,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session.Session),
	}
}

// SetClock replaces the time source.
func (s *GameService) SetClock(now func() time.Time) {
	s.now = now
}

// Today returns the current UTC date key.
func (s *GameService) Today() string {
	return rotation.DateKey(s.now())
}

// Countdown returns when the next spot goes live and how long until then.
func (s *GameService) Countdown() (time.Time, time.Duration) {
	now := s.now()
	next := rotation.NextRotation(now)
	return next, next.Sub(now)
}

// loadSpots returns the spot list, from cache when it is fresh.
func (s *GameService) loadSpots(ctx context.Context) ([]domain.Spot, error) {
	now := s.now()
	cached, fresh, err := s.deps.Cache.GetCachedSpots(ctx, s.config.SpotCacheTTL, now)
	if err != nil {
		s.logger.Warn("spot cache unavailable", "error", err)
	}
	if fresh && len(cached) > 0 {
		s.deps.Metrics.SpotCache(metrics.CacheHit)
		return cached, nil
	}
	s.deps.Metrics.SpotCache(metrics.CacheMiss)

	spots, err := s.deps.Loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoSpotAvailable, err)
	}
	if len(spots) > 0 {
		if err := s.deps.Cache.CacheSpots(ctx, spots, now); err != nil {
			s.logger.Warn("failed to cache spots", "error", err)
		}
	}
	return spots, nil
}

// TodaysSpot returns the spot scheduled for today.
func (s *GameService) TodaysSpot(ctx context.Context) (domain.Spot, error) {
	spots, err := s.loadSpots(ctx)
	if err != nil {
		return domain.Spot{}, err
	}

	sel, ok := rotation.Select(spots, s.now())
	if !ok {
		return domain.Spot{}, domain.ErrNoSpotAvailable
	}
	if sel.Fallback {
		s.deps.Metrics.SpotFallback()
		s.logger.Warn("scheduled spot missing, serving first spot",
			"scheduled_id", sel.ScheduleID,
			"served_id", sel.Spot.ID,
			"total_spots", len(spots),
		)
	}
	return sel.Spot, nil
}

// TodaysPublicSpot returns today's spot without its coordinates.
func (s *GameService) TodaysPublicSpot(ctx context.Context) (domain.PublicSpot, error) {
	spot, err := s.TodaysSpot(ctx)
	if err != nil {
		return domain.PublicSpot{}, err
	}
	return spot.Public(s.Today()), nil
}

// Start opens or resumes the player's session for today. A stored result
// short-circuits straight to the submitted state.
func (s *GameService) Start(ctx context.Context, playerID string) (*session.Session, error) {
	if playerID == "" {
		return nil, fmt.Errorf("missing player id: %w", domain.ErrInvalidRequest)
	}
	today := s.Today()

	s.mu.Lock()
	if s.sessionsDate != today {
		s.sessions = make(map[string]*session.Session)
		s.sessionsDate = today
	}
	existing := s.sessions[playerID]
	s.mu.Unlock()

	if existing != nil && !existing.Expired(today) && existing.State() == session.StateSubmitted {
		return existing, nil
	}

	spot, err := s.TodaysSpot(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := s.deps.Local.GetTodayResult(ctx, playerID, today)
	if err != nil && !errors.Is(err, domain.ErrResultNotFound) {
		return nil, fmt.Errorf("checking today's result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored != nil {
		sess := s.sessions[playerID]
		if sess == nil || sess.Expired(today) {
			sess = session.Resume(playerID, spot, *stored)
			s.sessions[playerID] = sess
		} else {
			sess.Adopt(*stored)
		}
		return sess, nil
	}

	sess := s.sessions[playerID]
	if sess == nil || sess.Expired(today) {
		sess = session.New(playerID, today, spot)
		s.sessions[playerID] = sess
	}
	return sess, nil
}

// PlaceGuess sets or replaces the player's pin.
func (s *GameService) PlaceGuess(ctx context.Context, playerID string, c domain.Coordinate) (*session.Session, error) {
	sess, err := s.Start(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if err := sess.PlaceGuess(c); err != nil {
		return nil, err
	}
	return sess, nil
}

// Submit scores the player's pin. The local save completes before this
// returns; the remote stats append for a signed-in user is queued and
// never waited on. Submitting twice returns the first result.
func (s *GameService) Submit(ctx context.Context, playerID, userID string) (*SubmitOutcome, error) {
	sess, err := s.Start(ctx, playerID)
	if err != nil {
		return nil, err
	}

	persist := func(r domain.GameResult) error {
		saved, err := s.deps.Local.SaveTodayResult(ctx, playerID, r)
		if err != nil {
			return fmt.Errorf("saving today's result: %w", err)
		}
		if !saved {
			return errRecordedElsewhere
		}
		return nil
	}

	result, created, err := sess.Submit(persist)
	if errors.Is(err, errRecordedElsewhere) {
		result, created, err = s.adoptRecorded(ctx, sess, playerID, persist)
	}
	if err != nil {
		return nil, err
	}

	rating := scoring.Rate(result.Score)
	outcome := &SubmitOutcome{
		Result:        result,
		Rating:        rating,
		Emoji:         rating.Emoji(),
		AlreadyPlayed: !created,
	}

	if !created {
		s.deps.Metrics.DuplicateSubmission()
		status, err := s.deps.Local.GetSyncStatus(ctx, playerID, result.Date)
		if err != nil {
			s.logger.Warn("failed to read sync status", "player_id", playerID, "error", err)
			status = domain.SyncStatusLocalOnly
		}
		outcome.SyncStatus = status
		return outcome, nil
	}

	s.deps.Metrics.GameSubmitted(string(rating), result.Distance)
	s.logger.Info("game submitted",
		"player_id", playerID,
		"date", result.Date,
		"spot_id", result.SpotID,
		"distance", result.Distance,
		"score", result.Score,
	)

	s.recordOnBoard(ctx, playerID, result)
	outcome.SyncStatus = s.queueRemote(ctx, playerID, userID, result)
	return outcome, nil
}

// adoptRecorded loads the result that holds the player's day marker. A
// marker with no result behind it is released and the submit retried once.
func (s *GameService) adoptRecorded(ctx context.Context, sess *session.Session, playerID string, persist func(domain.GameResult) error) (domain.GameResult, bool, error) {
	stored, err := s.deps.Local.GetTodayResult(ctx, playerID, sess.Date())
	if err == nil {
		sess.Adopt(*stored)
		return *stored, false, nil
	}
	if !errors.Is(err, domain.ErrResultNotFound) {
		return domain.GameResult{}, false, fmt.Errorf("loading recorded result: %w", err)
	}

	released, relErr := s.deps.Local.ReleaseStaleMarker(ctx, playerID, sess.Date())
	if relErr != nil {
		return domain.GameResult{}, false, relErr
	}
	if !released {
		return domain.GameResult{}, false, fmt.Errorf("loading recorded result: %w", err)
	}
	s.logger.Warn("released orphaned day marker", "player_id", playerID, "date", sess.Date())

	result, created, err := sess.Submit(persist)
	if errors.Is(err, errRecordedElsewhere) {
		// another submit won the marker after the release
		if stored, getErr := s.deps.Local.GetTodayResult(ctx, playerID, sess.Date()); getErr == nil {
			sess.Adopt(*stored)
			return *stored, false, nil
		}
		return domain.GameResult{}, false, fmt.Errorf("loading recorded result: %w", domain.ErrResultNotFound)
	}
	return result, created, err
}

func (s *GameService) recordOnBoard(ctx context.Context, playerID string, result domain.GameResult) {
	if err := s.deps.Board.RecordScore(ctx, result.Date, playerID, result.Score); err != nil {
		s.logger.Warn("failed to record daily board score", "player_id", playerID, "error", err)
		return
	}
	if s.deps.Notifier == nil {
		return
	}
	entries, err := s.deps.Board.GetTopN(ctx, result.Date, s.config.DefaultLimit)
	if err != nil {
		s.logger.Warn("failed to read daily board", "date", result.Date, "error", err)
		return
	}
	s.deps.Notifier.PublishDaily(result.Date, entries)
}

// queueRemote hands the remote append to the sync queue.
func (s *GameService) queueRemote(ctx context.Context, playerID, userID string, result domain.GameResult) domain.SyncStatus {
	if userID == "" || s.deps.Sync == nil {
		return domain.SyncStatusLocalOnly
	}

	status := domain.SyncStatusPending
	job := domain.SyncJob{
		UserID:   userID,
		PlayerID: playerID,
		Record:   result.Record(s.now().UTC()),
	}
	if err := s.deps.Sync.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to queue remote stats sync",
			"player_id", playerID,
			"user_id", userID,
			"error", err,
		)
		s.deps.Metrics.RemoteSync(metrics.SyncDropped)
		status = domain.SyncStatusFailed
	}
	if err := s.deps.Local.SetSyncStatus(ctx, playerID, result.Date, status); err != nil {
		s.logger.Warn("failed to record sync status", "player_id", playerID, "error", err)
	}
	return status
}

// SubmitGuess places the pin and submits in one step.
func (s *GameService) SubmitGuess(ctx context.Context, submission domain.GuessSubmission) (*SubmitOutcome, error) {
	sess, err := s.Start(ctx, submission.PlayerID)
	if err != nil {
		return nil, err
	}
	if err := sess.PlaceGuess(submission.Guess); err != nil && !errors.Is(err, domain.ErrAlreadyPlayed) {
		return nil, err
	}
	return s.Submit(ctx, submission.PlayerID, submission.UserID)
}

// SubmitGuessBatch submits multiple guesses. Guesses that can never succeed
// are logged and skipped; the other failures are joined into the returned
// error so the caller can redeliver the batch.
func (s *GameService) SubmitGuessBatch(ctx context.Context, batch domain.BatchGuessSubmission) error {
	var retryable []error
	for _, submission := range batch.Guesses {
		_, err := s.SubmitGuess(ctx, submission)
		if err == nil {
			continue
		}
		if isPermanent(err) {
			s.logger.Warn("dropping guess in batch",
				"player_id", submission.PlayerID,
				"error", err,
			)
			continue
		}
		s.logger.Error("failed to submit guess in batch",
			"player_id", submission.PlayerID,
			"error", err,
		)
		retryable = append(retryable, fmt.Errorf("player %s: %w", submission.PlayerID, err))
	}
	return errors.Join(retryable...)
}

// isPermanent reports errors that a retry of the same guess cannot fix.
func isPermanent(err error) bool {
	return domain.IsPreconditionError(err) ||
		errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrAlreadyPlayed)
}

// TodayResult returns the player's stored result for today.
func (s *GameService) TodayResult(ctx context.Context, playerID string) (*domain.GameResult, error) {
	return s.deps.Local.GetTodayResult(ctx, playerID, s.Today())
}

// ClearToday forgets the player's result for today so the spot can be
// played again. Remote stats keep whatever was already appended.
func (s *GameService) ClearToday(ctx context.Context, playerID string) error {
	today := s.Today()
	if err := s.deps.Local.ClearTodayResult(ctx, playerID, today); err != nil {
		return err
	}
	if err := s.deps.Board.RemovePlayer(ctx, today, playerID); err != nil {
		s.logger.Warn("failed to remove player from daily board", "player_id", playerID, "error", err)
	}

	s.mu.Lock()
	delete(s.sessions, playerID)
	s.mu.Unlock()

	s.logger.Info("today's result cleared", "player_id", playerID, "date", today)
	return nil
}

// SyncStatus reports whether the day's result reached remote stats. An
// empty date means today.
func (s *GameService) SyncStatus(ctx context.Context, playerID, date string) (domain.SyncStatus, error) {
	if date == "" {
		date = s.Today()
	}
	return s.deps.Local.GetSyncStatus(ctx, playerID, date)
}

// Stats returns the user's aggregate stats, creating them on first access.
func (s *GameService) Stats(ctx context.Context, userID string) (*domain.GameStats, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
	defer cancel()

	stats, err := s.deps.Stats.GetOrCreateUserStats(ctx, userID, s.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

// TodayFromRemote returns today's game from the user's remote history.
func (s *GameService) TodayFromRemote(ctx context.Context, userID string) (*domain.GameRecord, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
	defer cancel()

	return s.deps.Stats.GetGameForDate(ctx, userID, s.Today())
}

// Panorama returns the street-level panorama for the player's spot. The
// lookup runs once per session; a failed lookup may be retried.
func (s *GameService) Panorama(ctx context.Context, playerID string) (*streetview.Panorama, error) {
	if s.deps.Panoramas == nil {
		return nil, streetview.ErrNoPanorama
	}
	sess, err := s.Start(ctx, playerID)
	if err != nil {
		return nil, err
	}

	v, err := sess.LoadMedia(func() (any, error) {
		return s.deps.Panoramas.Lookup(ctx, sess.Spot().Coordinates)
	})
	if err != nil {
		return nil, fmt.Errorf("loading panorama: %w", err)
	}
	pano, ok := v.(*streetview.Panorama)
	if !ok || pano == nil {
		return nil, streetview.ErrNoPanorama
	}
	return pano, nil
}

// DailyLeaderboard returns the top n players of the day.
func (s *GameService) DailyLeaderboard(ctx context.Context, date string, n int) ([]domain.LeaderboardEntry, error) {
	// Validate limit
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	entries, err := s.deps.Board.GetTopN(ctx, date, n)
	if err != nil {
		return nil, fmt.Errorf("getting daily leaderboard: %w", err)
	}
	return entries, nil
}

// PlayerCount returns how many players have a score on the day's board.
func (s *GameService) PlayerCount(ctx context.Context, date string) (int64, error) {
	count, err := s.deps.Board.GetCount(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("counting daily players: %w", err)
	}
	return count, nil
}

// PlayerRank returns a player's rank and score for the day
func (s *GameService) PlayerRank(ctx context.Context, date, playerID string) (*domain.LeaderboardEntry, error) {
	return s.deps.Board.GetPlayerRank(ctx, date, playerID)
}

// NextSpotAt returns the time the next spot goes live.
func (s *GameService) NextSpotAt() time.Time {
	return rotation.NextRotation(s.now())
}

package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/scoring"
	"github.com/dailyspot/internal/session"
)

var nearGuess = domain.Coordinate{Latitude: 40.1, Longitude: -74}

func TestTodaysSpotRotation(t *testing.T) {
	env := newTestEnv()

	spot, err := env.svc.TodaysSpot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot.ID != 3 {
		t.Errorf("expected spot 3 on day 7 of 5 spots, got %d", spot.ID)
	}

	public, err := env.svc.TodaysPublicSpot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if public.ID != 3 || public.Date != "2024-01-08" {
		t.Errorf("unexpected public spot %+v", public)
	}
}

func TestTodaysSpotUsesCache(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.TodaysSpot(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if env.loader.calls != 1 {
		t.Errorf("expected 1 content fetch within the cache window, got %d", env.loader.calls)
	}

	env.clock = env.clock.Add(time.Hour)
	if _, err := env.svc.TodaysSpot(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.loader.calls != 2 {
		t.Errorf("expected refetch once the cache is an hour old, got %d fetches", env.loader.calls)
	}
}

func TestTodaysSpotFallback(t *testing.T) {
	env := newTestEnv()
	// day 8 of three spots schedules id 3, which does not exist
	env.loader.spots = []domain.Spot{{ID: 10}, {ID: 1}, {ID: 2}}
	env.clock = time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)

	spot, err := env.svc.TodaysSpot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot.ID != 1 {
		t.Errorf("expected fallback to lowest id, got %d", spot.ID)
	}
}

func TestTodaysSpotUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		spots []domain.Spot
		err   error
	}{
		{"empty content", nil, nil},
		{"content error", nil, errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.loader.spots = tt.spots
			env.loader.err = tt.err

			_, err := env.svc.TodaysSpot(context.Background())
			if !errors.Is(err, domain.ErrNoSpotAvailable) {
				t.Errorf("expected ErrNoSpotAvailable, got %v", err)
			}
		})
	}
}

func TestSubmitFlow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, "player-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != session.StateNotStarted {
		t.Errorf("expected not_started, got %s", sess.State())
	}

	if _, err := env.svc.PlaceGuess(ctx, "player-1", nearGuess); err != nil {
		t.Fatalf("PlaceGuess: %v", err)
	}

	outcome, err := env.svc.Submit(ctx, "player-1", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.Result.Distance != 6.9 || outcome.Result.Score != 4667 {
		t.Errorf("expected 6.9 mi / 4667, got %v / %d", outcome.Result.Distance, outcome.Result.Score)
	}
	if outcome.Rating != scoring.RatingPerfect || outcome.AlreadyPlayed {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if outcome.SyncStatus != domain.SyncStatusLocalOnly {
		t.Errorf("anonymous player should stay local_only, got %s", outcome.SyncStatus)
	}
	if len(env.queue.Jobs()) != 0 {
		t.Error("anonymous submission should not be queued for remote sync")
	}

	stored, err := env.svc.TodayResult(ctx, "player-1")
	if err != nil {
		t.Fatalf("TodayResult: %v", err)
	}
	if stored.Score != 4667 || !stored.HasPlayed || stored.Date != "2024-01-08" {
		t.Errorf("unexpected stored result %+v", stored)
	}

	if _, ok := env.notifier.published["2024-01-08"]; !ok {
		t.Error("expected the daily board to be published")
	}
	rank, err := env.svc.PlayerRank(ctx, "2024-01-08", "player-1")
	if err != nil || rank.Rank != 1 {
		t.Errorf("expected rank 1, got %+v, %v", rank, err)
	}
}

func TestSubmitQueuesRemoteForSignedInUser(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	outcome, err := env.svc.Submit(ctx, "player-1", "user-9")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.SyncStatus != domain.SyncStatusPending {
		t.Errorf("expected pending, got %s", outcome.SyncStatus)
	}

	jobs := env.queue.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobs))
	}
	if jobs[0].UserID != "user-9" || jobs[0].Record.SpotID != 3 || jobs[0].Record.Date != "2024-01-08" {
		t.Errorf("unexpected job %+v", jobs[0])
	}

	status, _ := env.svc.SyncStatus(ctx, "player-1", "")
	if status != domain.SyncStatusPending {
		t.Errorf("expected stored status pending, got %s", status)
	}
}

func TestSubmitQueueFailureKeepsLocalResult(t *testing.T) {
	env := newTestEnv()
	env.queue.err = errors.New("queue full")
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	outcome, err := env.svc.Submit(ctx, "player-1", "user-9")
	if err != nil {
		t.Fatalf("remote failure must not fail the submission: %v", err)
	}
	if outcome.SyncStatus != domain.SyncStatusFailed {
		t.Errorf("expected failed, got %s", outcome.SyncStatus)
	}
	if _, err := env.svc.TodayResult(ctx, "player-1"); err != nil {
		t.Errorf("local result should be stored: %v", err)
	}
}

func TestSubmitWithoutGuess(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Submit(context.Background(), "player-1", "")
	if !errors.Is(err, domain.ErrNoGuess) {
		t.Errorf("expected ErrNoGuess, got %v", err)
	}
}

func TestSubmitLocalFailureAllowsRetry(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.local.saveErr = errors.New("redis down")

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	if _, err := env.svc.Submit(ctx, "player-1", ""); err == nil {
		t.Fatal("expected error when the local save fails")
	}

	env.local.saveErr = nil
	outcome, err := env.svc.Submit(ctx, "player-1", "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if outcome.AlreadyPlayed {
		t.Error("retry after a failed save should record a new result")
	}
}

func TestSubmitReleasesOrphanedMarker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.local.orphaned["player-1|2024-01-08"] = true

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	outcome, err := env.svc.Submit(ctx, "player-1", "")
	if err != nil {
		t.Fatalf("Submit with orphaned marker: %v", err)
	}
	if outcome.AlreadyPlayed {
		t.Error("expected a fresh result once the orphaned marker is released")
	}
	if r, err := env.svc.TodayResult(ctx, "player-1"); err != nil || r.Score != outcome.Result.Score {
		t.Errorf("expected the result to be stored, got %+v, %v", r, err)
	}
}

func TestDuplicateSubmission(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	first, err := env.svc.Submit(ctx, "player-1", "user-9")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	second, err := env.svc.Submit(ctx, "player-1", "user-9")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !second.AlreadyPlayed || second.Result != first.Result {
		t.Errorf("expected the first result back, got %+v", second)
	}

	if _, err := env.svc.PlaceGuess(ctx, "player-1", domain.Coordinate{}); !errors.Is(err, domain.ErrAlreadyPlayed) {
		t.Errorf("expected ErrAlreadyPlayed moving the pin after submit, got %v", err)
	}
	if len(env.queue.Jobs()) != 1 {
		t.Errorf("expected exactly one remote append, got %d", len(env.queue.Jobs()))
	}
}

func TestConcurrentSubmitsStoreOneResult(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.svc.PlaceGuess(ctx, "player-1", nearGuess)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.svc.Submit(ctx, "player-1", "user-9")
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if !outcome.AlreadyPlayed {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly one new result, got %d", created)
	}
	if len(env.queue.Jobs()) != 1 {
		t.Errorf("expected one remote append, got %d", len(env.queue.Jobs()))
	}
}

func TestStartResumesStoredResult(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	first, _ := env.svc.Submit(ctx, "player-1", "")

	// a fresh service instance sharing the same local store
	other := newTestEnv()
	other.local = env.local
	other.svc.deps.Local = env.local

	sess, err := other.svc.Start(ctx, "player-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != session.StateSubmitted {
		t.Errorf("expected submitted, got %s", sess.State())
	}
	result, _ := sess.Result()
	if result != first.Result {
		t.Errorf("expected stored result, got %+v", result)
	}
}

func TestRecordedElsewhereIsAdopted(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)

	// another instance records a result between placing the pin and submitting
	recorded := session.Evaluate("2024-01-08", testSpots[2], domain.Coordinate{Latitude: 41, Longitude: -74})
	env.local.SaveTodayResult(ctx, "player-1", recorded)

	out, err := env.svc.Submit(ctx, "player-1", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.AlreadyPlayed || out.Result != recorded {
		t.Errorf("expected the result recorded elsewhere, got %+v", out)
	}
	if len(env.board.scores["2024-01-08"]) != 0 {
		t.Error("an adopted result should not be recorded again")
	}
}

func TestNewDayStartsFreshSession(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	env.svc.Submit(ctx, "player-1", "")

	env.clock = env.clock.Add(24 * time.Hour)
	sess, err := env.svc.Start(ctx, "player-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != session.StateNotStarted || sess.Date() != "2024-01-09" {
		t.Errorf("expected a fresh session for 2024-01-09, got %s on %s", sess.State(), sess.Date())
	}
	if sess.Spot().ID != 4 {
		t.Errorf("expected spot 4 on day 8, got %d", sess.Spot().ID)
	}
}

func TestClearToday(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.svc.PlaceGuess(ctx, "player-1", nearGuess)
	env.svc.Submit(ctx, "player-1", "")

	if err := env.svc.ClearToday(ctx, "player-1"); err != nil {
		t.Fatalf("ClearToday: %v", err)
	}
	if _, err := env.svc.TodayResult(ctx, "player-1"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Errorf("expected ErrResultNotFound, got %v", err)
	}

	sess, _ := env.svc.Start(ctx, "player-1")
	if sess.State() != session.StateNotStarted {
		t.Errorf("expected a replayable session, got %s", sess.State())
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.Stats(ctx, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	stats, err := env.svc.Stats(ctx, "user-9")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.UID != "user-9" || stats.TotalGames != 0 || stats.StreakCount != 0 {
		t.Errorf("expected default stats, got %+v", stats)
	}

	if _, err := env.svc.TodayFromRemote(ctx, "user-9"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Errorf("expected ErrResultNotFound, got %v", err)
	}
}

func TestStatsTimeout(t *testing.T) {
	env := newTestEnv()
	env.stats.delay = time.Second
	env.svc.config.RemoteTimeout = 10 * time.Millisecond

	_, err := env.svc.Stats(context.Background(), "user-9")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPanoramaLoadsOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pano, err := env.svc.Panorama(ctx, "player-1")
		if err != nil {
			t.Fatalf("Panorama: %v", err)
		}
		if pano.PanoID != "pano-1" {
			t.Errorf("unexpected panorama %+v", pano)
		}
	}
	if env.finder.calls != 1 {
		t.Errorf("expected a single lookup, got %d", env.finder.calls)
	}
}

func TestPanoramaRetriesAfterFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.finder.fail = true

	if _, err := env.svc.Panorama(ctx, "player-1"); err == nil {
		t.Fatal("expected error")
	}
	env.finder.fail = false
	if _, err := env.svc.Panorama(ctx, "player-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if env.finder.calls != 2 {
		t.Errorf("expected 2 lookups, got %d", env.finder.calls)
	}
}

func TestDailyLeaderboardLimits(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i, player := range []string{"a", "b", "c"} {
		env.board.RecordScore(ctx, "2024-01-08", player, 1000*(i+1))
	}

	entries, err := env.svc.DailyLeaderboard(ctx, "2024-01-08", 2)
	if err != nil {
		t.Fatalf("DailyLeaderboard: %v", err)
	}
	if len(entries) != 2 || entries[0].PlayerID != "c" {
		t.Errorf("unexpected entries %+v", entries)
	}

	entries, _ = env.svc.DailyLeaderboard(ctx, "2024-01-08", 0)
	if len(entries) != 3 {
		t.Errorf("default limit should return all 3, got %d", len(entries))
	}

	if count, err := env.svc.PlayerCount(ctx, "2024-01-08"); err != nil || count != 3 {
		t.Errorf("PlayerCount = %d, %v; want 3", count, err)
	}
}

func TestSubmitGuessBatch(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	batch := domain.BatchGuessSubmission{Guesses: []domain.GuessSubmission{
		{PlayerID: "p1", Guess: nearGuess},
		{PlayerID: "p2", Guess: domain.Coordinate{Latitude: 200}},
		{PlayerID: "p3", UserID: "u3", Guess: domain.Coordinate{Latitude: 40, Longitude: -74}},
	}}
	if err := env.svc.SubmitGuessBatch(ctx, batch); err != nil {
		t.Fatalf("SubmitGuessBatch: %v", err)
	}

	if r, err := env.svc.TodayResult(ctx, "p3"); err != nil || r.Score != 5000 {
		t.Errorf("expected exact guess to score 5000, got %+v, %v", r, err)
	}
	if _, err := env.svc.TodayResult(ctx, "p2"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Errorf("invalid guess should not be recorded, got %v", err)
	}
	if len(env.queue.Jobs()) != 1 {
		t.Errorf("expected one remote append for the signed-in player, got %d", len(env.queue.Jobs()))
	}
}

func TestSubmitGuessBatchReportsRetryableFailures(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	redisDown := errors.New("redis down")
	env.local.saveErr = redisDown

	batch := domain.BatchGuessSubmission{Guesses: []domain.GuessSubmission{
		{PlayerID: "p1", Guess: nearGuess},
		{PlayerID: "p2", Guess: domain.Coordinate{Latitude: 200}},
	}}
	err := env.svc.SubmitGuessBatch(ctx, batch)
	if !errors.Is(err, redisDown) {
		t.Fatalf("expected the save failure to be reported, got %v", err)
	}
	if strings.Contains(err.Error(), "p2") {
		t.Errorf("an invalid guess should not be retried: %v", err)
	}

	env.local.saveErr = nil
	if err := env.svc.SubmitGuessBatch(ctx, batch); err != nil {
		t.Fatalf("redelivered batch: %v", err)
	}
	if _, err := env.svc.TodayResult(ctx, "p1"); err != nil {
		t.Errorf("expected p1 recorded after redelivery, got %v", err)
	}
	// a third delivery is a harmless duplicate
	if err := env.svc.SubmitGuessBatch(ctx, batch); err != nil {
		t.Errorf("duplicate delivery: %v", err)
	}
}

func TestCountdown(t *testing.T) {
	env := newTestEnv()
	next, remaining := env.svc.Countdown()
	if !next.Equal(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected next rotation %v", next)
	}
	if remaining != 9*time.Hour {
		t.Errorf("expected 9h remaining, got %v", remaining)
	}
}

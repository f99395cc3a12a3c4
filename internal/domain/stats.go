package domain

import "time"

// GameStats is the cumulative per-user aggregate across all days played.
//
// Invariants: len(GamesHistory) == TotalGames unless HistoryTruncated is
// set, in which case GamesHistory holds only the newest games. BestScore and
// BestDistance are the max score and min distance over all games,
// AverageDistance is the mean distance. BestDistance is meaningless while
// TotalGames is zero.
type GameStats struct {
	UID              string       `json:"uid"`
	TotalGames       int          `json:"total_games"`
	TotalScore       int64        `json:"total_score"`
	AverageDistance  float64      `json:"average_distance"`
	BestScore        int          `json:"best_score"`
	BestDistance     float64      `json:"best_distance"`
	StreakCount      int          `json:"streak_count"`
	LastPlayedDate   string       `json:"last_played_date"`
	GamesHistory     []GameRecord `json:"games_history"`
	HistoryTruncated bool         `json:"history_truncated"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewGameStats returns the defaults a user's stats start from.
func NewGameStats(uid string, now time.Time) *GameStats {
	return &GameStats{
		UID:          uid,
		GamesHistory: []GameRecord{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AttachHistory sets the games loaded alongside the aggregate. A history
// shorter than TotalGames is flagged as truncated.
func (s *GameStats) AttachHistory(records []GameRecord) {
	s.GamesHistory = records
	s.HistoryTruncated = len(records) < s.TotalGames
}

// HasGame reports whether the history already holds a record for the
// given day and spot.
func (s *GameStats) HasGame(date string, spotID int) bool {
	for _, g := range s.GamesHistory {
		if g.Date == date && g.SpotID == spotID {
			return true
		}
	}
	return false
}

// Append folds a record into the aggregate. It returns false without
// modifying anything when a record for the same day and spot exists.
// previousDay must return the date key of the day before its argument.
func (s *GameStats) Append(rec GameRecord, previousDay func(string) string) bool {
	if s.HasGame(rec.Date, rec.SpotID) {
		return false
	}

	n := float64(s.TotalGames)
	s.AverageDistance = (s.AverageDistance*n + rec.Distance) / (n + 1)

	if s.TotalGames == 0 || rec.Score > s.BestScore {
		s.BestScore = rec.Score
	}
	if s.TotalGames == 0 || rec.Distance < s.BestDistance {
		s.BestDistance = rec.Distance
	}

	switch s.LastPlayedDate {
	case rec.Date:
		// second spot on the same day keeps the streak as is
		if s.StreakCount == 0 {
			s.StreakCount = 1
		}
	case previousDay(rec.Date):
		s.StreakCount++
	default:
		s.StreakCount = 1
	}

	s.TotalGames++
	s.TotalScore += int64(rec.Score)
	s.LastPlayedDate = rec.Date
	s.GamesHistory = append(s.GamesHistory, rec)
	s.UpdatedAt = rec.PlayedAt
	return true
}

// Recent returns up to n history records, newest first.
func (s *GameStats) Recent(n int) []GameRecord {
	if n <= 0 || n > len(s.GamesHistory) {
		n = len(s.GamesHistory)
	}
	out := make([]GameRecord, 0, n)
	for i := len(s.GamesHistory) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.GamesHistory[i])
	}
	return out
}

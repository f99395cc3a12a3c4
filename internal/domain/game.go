package domain

import (
	"fmt"
	"time"
)

// GameResult is one day's recorded outcome for a player.
type GameResult struct {
	Date               string     `json:"date"`
	SpotID             int        `json:"spot_id"`
	Distance           float64    `json:"distance"`
	Score              int        `json:"score"`
	GuessCoordinates   Coordinate `json:"guess_coordinates"`
	CorrectCoordinates Coordinate `json:"correct_coordinates"`
	HasPlayed          bool       `json:"has_played"`
}

// Record converts the result into a history entry.
func (r GameResult) Record(playedAt time.Time) GameRecord {
	return GameRecord{
		Date:               r.Date,
		SpotID:             r.SpotID,
		Distance:           r.Distance,
		Score:              r.Score,
		GuessCoordinates:   r.GuessCoordinates,
		CorrectCoordinates: r.CorrectCoordinates,
		PlayedAt:           playedAt,
	}
}

// GameRecord is an entry in a player's remote game history
type GameRecord struct {
	Date               string     `json:"date"`
	SpotID             int        `json:"spot_id"`
	Distance           float64    `json:"distance"`
	Score              int        `json:"score"`
	GuessCoordinates   Coordinate `json:"guess_coordinates"`
	CorrectCoordinates Coordinate `json:"correct_coordinates"`
	PlayedAt           time.Time  `json:"played_at"`
}

// GuessSubmission is a guess arriving from an ingestion channel other than
// the interactive API.
type GuessSubmission struct {
	PlayerID string     `json:"player_id"`
	UserID   string     `json:"user_id,omitempty"`
	Guess    Coordinate `json:"guess"`
}

// BatchGuessSubmission groups submissions consumed together
type BatchGuessSubmission struct {
	Guesses []GuessSubmission `json:"guesses"`
}

// SyncStatus tracks whether a day's result reached the remote stats store.
type SyncStatus string

const (
	SyncStatusLocalOnly SyncStatus = "local_only"
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusFailed    SyncStatus = "failed"
)

// LeaderboardEntry represents a single entry in a daily leaderboard
type LeaderboardEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Score    int64  `json:"score"`
}

// SyncJob is a remote stats append waiting to be delivered.
type SyncJob struct {
	UserID   string     `json:"user_id"`
	PlayerID string     `json:"player_id"`
	Record   GameRecord `json:"record"`
	Attempts int        `json:"attempts"`
}

// Key identifies the job by user, day and spot.
func (j SyncJob) Key() string {
	return fmt.Sprintf("%s|%s|%d", j.UserID, j.Record.Date, j.Record.SpotID)
}

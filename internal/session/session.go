// Package session holds the per-player, per-day play-through state machine.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/geo"
	"github.com/dailyspot/internal/scoring"
)

// State of a play-through
type State string

const (
	StateNotStarted State = "not_started"
	StatePinPlaced  State = "pin_placed"
	StateSubmitted  State = "submitted"
)

// Session is one player's play-through of one day's spot.
//
// NotStarted -> PinPlaced (repeatable) -> Submitted (terminal for the day).
type Session struct {
	mu sync.Mutex

	playerID string
	date     string
	spot     domain.Spot
	state    State
	guess    *domain.Coordinate
	result   *domain.GameResult

	mediaGuard InitGuard
	panorama   any
}

// New starts a fresh session for the player on date.
func New(playerID, date string, spot domain.Spot) *Session {
	return &Session{
		playerID: playerID,
		date:     date,
		spot:     spot,
		state:    StateNotStarted,
	}
}

// Resume builds a session for a player who already has a stored result for
// the day. It starts in the terminal state.
func Resume(playerID string, spot domain.Spot, result domain.GameResult) *Session {
	guess := result.GuessCoordinates
	return &Session{
		playerID: playerID,
		date:     result.Date,
		spot:     spot,
		state:    StateSubmitted,
		guess:    &guess,
		result:   &result,
	}
}

func (s *Session) PlayerID() string  { return s.playerID }
func (s *Session) Date() string      { return s.date }
func (s *Session) Spot() domain.Spot { return s.spot }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Guess returns the current pin, if any.
func (s *Session) Guess() (domain.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guess == nil {
		return domain.Coordinate{}, false
	}
	return *s.guess, true
}

// Result returns the stored result once submitted.
func (s *Session) Result() (domain.GameResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.GameResult{}, false
	}
	return *s.result, true
}

// PlaceGuess sets or replaces the pin.
func (s *Session) PlaceGuess(c domain.Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("placing guess %v: %w", c, domain.ErrInvalidCoordinate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitted {
		return domain.ErrAlreadyPlayed
	}
	s.guess = &c
	s.state = StatePinPlaced
	return nil
}

// Evaluate scores a guess against the spot for date.
func Evaluate(date string, spot domain.Spot, guess domain.Coordinate) domain.GameResult {
	distance := geo.Distance(guess, spot.Coordinates)
	return domain.GameResult{
		Date:               date,
		SpotID:             spot.ID,
		Distance:           distance,
		Score:              scoring.Score(distance),
		GuessCoordinates:   guess,
		CorrectCoordinates: spot.Coordinates,
		HasPlayed:          true,
	}
}

// Submit scores the current pin and hands the result to persist while the
// session is locked. The session becomes Submitted only if persist returns
// nil. Submitting an already submitted session returns the stored result
// with created == false.
func (s *Session) Submit(persist func(domain.GameResult) error) (domain.GameResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitted && s.result != nil {
		return *s.result, false, nil
	}
	if s.guess == nil {
		return domain.GameResult{}, false, domain.ErrNoGuess
	}

	result := Evaluate(s.date, s.spot, *s.guess)
	if persist != nil {
		if err := persist(result); err != nil {
			return domain.GameResult{}, false, err
		}
	}

	s.result = &result
	s.state = StateSubmitted
	return result, true, nil
}

// Adopt moves the session to Submitted with a result recorded elsewhere,
// for example by another instance that won the day marker.
func (s *Session) Adopt(result domain.GameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = &result
	s.state = StateSubmitted
}

// Expired reports whether the session belongs to a day other than date.
func (s *Session) Expired(date string) bool {
	return s.date != date
}

// LoadMedia runs load once for the lifetime of the session and caches
// what it returns.
func (s *Session) LoadMedia(load func() (any, error)) (any, error) {
	_, err := s.mediaGuard.Do(func() error {
		v, err := load()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.panorama = v
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panorama, nil
}

// Snapshot is a read-only view of a session for presentation.
type Snapshot struct {
	PlayerID string             `json:"player_id"`
	Date     string             `json:"date"`
	SpotID   int                `json:"spot_id"`
	State    State              `json:"state"`
	Guess    *domain.Coordinate `json:"guess,omitempty"`
	Result   *domain.GameResult `json:"result,omitempty"`
	Rating   scoring.Rating     `json:"rating,omitempty"`
	Emoji    string             `json:"emoji,omitempty"`
	NextSpot time.Time          `json:"next_spot_at"`
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot(nextSpot time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		PlayerID: s.playerID,
		Date:     s.date,
		SpotID:   s.spot.ID,
		State:    s.state,
		NextSpot: nextSpot,
	}
	if s.guess != nil {
		g := *s.guess
		snap.Guess = &g
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
		snap.Rating = scoring.Rate(r.Score)
		snap.Emoji = snap.Rating.Emoji()
	}
	return snap
}

// Package rotation derives the daily spot from the calendar date.
//
// Every function here works on UTC calendar fields so that all players see
// the same spot on the same day regardless of their timezone.
package rotation

import (
	"errors"
	"sort"
	"time"

	"github.com/dailyspot/internal/domain"
)

// DateLayout is the layout of date keys (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// ErrNoSpots is returned when a rotation is requested over zero spots.
var ErrNoSpots = errors.New("rotation needs at least one spot")

// DayOfYear returns the number of whole days elapsed since January 1 of
// t's UTC year. January 1 is day 0.
func DayOfYear(t time.Time) int {
	return t.UTC().YearDay() - 1
}

// SpotIDFor returns the 1-based spot id scheduled for t.
func SpotIDFor(t time.Time, totalSpots int) (int, error) {
	if totalSpots < 1 {
		return 0, ErrNoSpots
	}
	return DayOfYear(t)%totalSpots + 1, nil
}

// SortByID returns a copy of spots ordered by ascending id.
func SortByID(spots []domain.Spot) []domain.Spot {
	sorted := make([]domain.Spot, len(spots))
	copy(sorted, spots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Selection is the outcome of picking a day's spot.
type Selection struct {
	Spot       domain.Spot
	ScheduleID int
	// Fallback is set when no spot carries ScheduleID and the lowest id
	// spot was returned instead.
	Fallback bool
}

// Select picks the spot for t. It returns false only when spots is empty.
func Select(spots []domain.Spot, t time.Time) (Selection, bool) {
	if len(spots) == 0 {
		return Selection{}, false
	}

	sorted := SortByID(spots)
	id, _ := SpotIDFor(t, len(sorted))
	for _, spot := range sorted {
		if spot.ID == id {
			return Selection{Spot: spot, ScheduleID: id}, true
		}
	}
	return Selection{Spot: sorted[0], ScheduleID: id, Fallback: true}, true
}

// SelectTodaysSpot picks the spot for referenceDate.
func SelectTodaysSpot(spots []domain.Spot, referenceDate time.Time) (domain.Spot, bool) {
	sel, ok := Select(spots, referenceDate)
	return sel.Spot, ok
}

// DateKey returns the UTC calendar date of t as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as UTC midnight.
func ParseDateKey(key string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, key, time.UTC)
}

// PreviousDateKey returns the key of the day before key. Invalid keys
// yield an empty string.
func PreviousDateKey(key string) string {
	t, err := ParseDateKey(key)
	if err != nil {
		return ""
	}
	return DateKey(t.AddDate(0, 0, -1))
}

// NextRotation returns the UTC midnight at which the next spot goes live.
func NextRotation(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

package rotation

import (
	"testing"
	"time"

	"github.com/dailyspot/internal/domain"
)

func spots(ids ...int) []domain.Spot {
	out := make([]domain.Spot, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Spot{ID: id})
	}
	return out
}

func TestDayOfYear(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want int
	}{
		{"new year", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 0},
		{"eighth of january", time.Date(2025, 1, 8, 23, 59, 0, 0, time.UTC), 7},
		{"last day of leap year", time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC), 365},
		{
			name: "local evening is already the next UTC day",
			t:    time.Date(2025, 1, 7, 20, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			want: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayOfYear(tt.t); got != tt.want {
				t.Errorf("DayOfYear() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSpotIDFor(t *testing.T) {
	day7 := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

	id, err := SpotIDFor(day7, 5)
	if err != nil {
		t.Fatalf("SpotIDFor() error = %v", err)
	}
	if id != 3 {
		t.Errorf("SpotIDFor() = %d, want 3", id)
	}

	if _, err := SpotIDFor(day7, 0); err != ErrNoSpots {
		t.Errorf("SpotIDFor(0 spots) error = %v, want ErrNoSpots", err)
	}
}

func TestSelectTodaysSpot(t *testing.T) {
	day7 := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

	got, ok := SelectTodaysSpot(spots(4, 2, 5, 1, 3), day7)
	if !ok {
		t.Fatal("SelectTodaysSpot() found nothing")
	}
	if got.ID != 3 {
		t.Errorf("SelectTodaysSpot() id = %d, want 3", got.ID)
	}

	again, _ := SelectTodaysSpot(spots(4, 2, 5, 1, 3), day7)
	if again.ID != got.ID {
		t.Errorf("selection not deterministic: %d then %d", got.ID, again.ID)
	}
}

func TestSelect_FallsBackToFirstSpot(t *testing.T) {
	day7 := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

	// five spots but id 3 is missing
	sel, ok := Select(spots(9, 2, 5, 1, 4), day7)
	if !ok {
		t.Fatal("Select() found nothing")
	}
	if !sel.Fallback {
		t.Error("expected fallback selection")
	}
	if sel.ScheduleID != 3 {
		t.Errorf("ScheduleID = %d, want 3", sel.ScheduleID)
	}
	if sel.Spot.ID != 1 {
		t.Errorf("fallback spot id = %d, want 1", sel.Spot.ID)
	}
}

func TestSelect_Empty(t *testing.T) {
	if _, ok := SelectTodaysSpot(nil, time.Now()); ok {
		t.Error("expected not found for empty spot list")
	}
}

func TestRotationPeriod(t *testing.T) {
	const n = 7
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		id, err := SpotIDFor(start.AddDate(0, 0, i), n)
		if err != nil {
			t.Fatalf("SpotIDFor() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("id %d repeated before %d days elapsed", id, n)
		}
		seen[id] = true
	}

	first, _ := SpotIDFor(start, n)
	repeat, _ := SpotIDFor(start.AddDate(0, 0, n), n)
	if first != repeat {
		t.Errorf("id after %d days = %d, want %d", n, repeat, first)
	}
}

func TestSortByID_DoesNotMutateInput(t *testing.T) {
	in := spots(3, 1, 2)
	out := SortByID(in)

	if in[0].ID != 3 {
		t.Error("SortByID modified its input")
	}
	for i, want := range []int{1, 2, 3} {
		if out[i].ID != want {
			t.Errorf("out[%d] = %d, want %d", i, out[i].ID, want)
		}
	}
}

func TestDateKeys(t *testing.T) {
	local := time.Date(2025, 3, 1, 1, 30, 0, 0, time.FixedZone("CET", 3600))
	if got := DateKey(local); got != "2025-03-01" {
		t.Errorf("DateKey() = %q", got)
	}
	if got := PreviousDateKey("2024-03-01"); got != "2024-02-29" {
		t.Errorf("PreviousDateKey() = %q, want leap day", got)
	}
	if got := PreviousDateKey("garbage"); got != "" {
		t.Errorf("PreviousDateKey(invalid) = %q, want empty", got)
	}

	next := NextRotation(time.Date(2025, 12, 31, 18, 0, 0, 0, time.UTC))
	if want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("NextRotation() = %v, want %v", next, want)
	}
}

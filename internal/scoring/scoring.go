// Package scoring maps a guess distance to points and a rating.
package scoring

import "math"

const (
	// MaxScore is awarded for an exact guess.
	MaxScore = 5000
	// DecayPerMile controls how quickly points fall off with distance.
	DecayPerMile = 0.01
)

// Score returns an integer score in [0, 5000] for a distance in miles.
func Score(distanceMiles float64) int {
	if distanceMiles < 0 || math.IsNaN(distanceMiles) {
		distanceMiles = 0
	}
	raw := MaxScore * math.Exp(-DecayPerMile*distanceMiles)
	score := int(math.Round(raw))
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Rating is a qualitative label for a score.
type Rating string

const (
	RatingPerfect   Rating = "Perfect"
	RatingExcellent Rating = "Excellent"
	RatingGreat     Rating = "Great"
	RatingGood      Rating = "Good"
	RatingNotBad    Rating = "Not bad"
	RatingTryAgain  Rating = "Better luck tomorrow"
)

// ladder is ordered highest threshold first; the first match wins.
var ladder = []struct {
	min    int
	rating Rating
}{
	{4500, RatingPerfect},
	{4000, RatingExcellent},
	{3000, RatingGreat},
	{2000, RatingGood},
	{1000, RatingNotBad},
}

// Rate returns the rating for a score.
func Rate(score int) Rating {
	for _, step := range ladder {
		if score >= step.min {
			return step.rating
		}
	}
	return RatingTryAgain
}

// Emoji returns the decoration shown next to the rating.
func (r Rating) Emoji() string {
	switch r {
	case RatingPerfect:
		return "🏆"
	case RatingExcellent:
		return "⭐"
	case RatingGreat:
		return "👍"
	case RatingGood:
		return "👌"
	case RatingNotBad:
		return "🤔"
	default:
		return "😅"
	}
}

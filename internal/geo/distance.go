// Package geo computes great-circle distances between coordinates.
package geo

import (
	"math"

	"github.com/dailyspot/internal/domain"
)

// EarthRadiusMiles is the mean Earth radius.
const EarthRadiusMiles = 3959.0

// haversineMiles is the unrounded great-circle distance between two WGS84
// points.
func haversineMiles(a, b domain.Coordinate) float64 {
	φ1 := a.Latitude * math.Pi / 180.0
	φ2 := b.Latitude * math.Pi / 180.0
	dφ := (b.Latitude - a.Latitude) * math.Pi / 180.0
	dλ := (b.Longitude - a.Longitude) * math.Pi / 180.0

	sinDφ := math.Sin(dφ / 2)
	sinDλ := math.Sin(dλ / 2)

	h := sinDφ*sinDφ + math.Cos(φ1)*math.Cos(φ2)*sinDλ*sinDλ
	// guard against h drifting past 1 for antipodal points
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

// Distance returns the great-circle distance in miles rounded to one
// decimal place.
func Distance(a, b domain.Coordinate) float64 {
	return math.Round(haversineMiles(a, b)*10) / 10
}

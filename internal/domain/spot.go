package domain

import "math"

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is finite and within
// [-90,90] x [-180,180].
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// Media is a video clip attached to a spot.
type Media struct {
	ThumbnailURL string `json:"thumbnail_url" yaml:"thumbnailUrl"`
	VideoURL     string `json:"video_url" yaml:"videoUrl"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Spot is a guessing target. Spots are created by content tooling and are
// read-only to the game.
type Spot struct {
	ID          int        `json:"id"`
	Coordinates Coordinate `json:"coordinates"`
	Media       []Media    `json:"media"`
	Photos      []string   `json:"photos"`
}

// PublicSpot is what a player may see before guessing: everything except
// the answer.
type PublicSpot struct {
	ID     int      `json:"id"`
	Date   string   `json:"date"`
	Media  []Media  `json:"media"`
	Photos []string `json:"photos"`
}

// Public strips the coordinates from the spot.
func (s Spot) Public(date string) PublicSpot {
	media := s.Media
	if media == nil {
		media = []Media{}
	}
	photos := s.Photos
	if photos == nil {
		photos = []string{}
	}
	return PublicSpot{
		ID:     s.ID,
		Date:   date,
		Media:  media,
		Photos: photos,
	}
}

// Package content turns spot documents from content tooling into domain
// spots and loads the spot list for the game.
package content

import (
	"errors"
	"fmt"
	"io"

	"github.com/dailyspot/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrUnknownCoordinates is returned for a coordinates value in none of the
// accepted encodings.
var ErrUnknownCoordinates = errors.New("unrecognized coordinates encoding")

type rawSpot struct {
	ID          int            `yaml:"id"`
	Coordinates yaml.Node      `yaml:"coordinates"`
	Media       []domain.Media `yaml:"media"`
	Photos      []string       `yaml:"photos"`
}

// geoPoint accepts the field names used by the different exporters:
// latitude/longitude, the _lat/_long internal form and lat/lng.
type geoPoint struct {
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
	InnerLat  *float64 `yaml:"_lat"`
	InnerLong *float64 `yaml:"_long"`
	Lat       *float64 `yaml:"lat"`
	Lng       *float64 `yaml:"lng"`
}

func (g geoPoint) coordinate() (domain.Coordinate, bool) {
	switch {
	case g.Latitude != nil && g.Longitude != nil:
		return domain.Coordinate{Latitude: *g.Latitude, Longitude: *g.Longitude}, true
	case g.InnerLat != nil && g.InnerLong != nil:
		return domain.Coordinate{Latitude: *g.InnerLat, Longitude: *g.InnerLong}, true
	case g.Lat != nil && g.Lng != nil:
		return domain.Coordinate{Latitude: *g.Lat, Longitude: *g.Lng}, true
	}
	return domain.Coordinate{}, false
}

// decodeCoordinates normalizes a coordinates node. A sequence is read as a
// list of geo points of which the first is used.
func decodeCoordinates(node *yaml.Node) (domain.Coordinate, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			return domain.Coordinate{}, fmt.Errorf("empty coordinates list: %w", ErrUnknownCoordinates)
		}
		return decodeCoordinates(node.Content[0])
	case yaml.MappingNode:
		var g geoPoint
		if err := node.Decode(&g); err != nil {
			return domain.Coordinate{}, fmt.Errorf("decoding geo point: %w", err)
		}
		c, ok := g.coordinate()
		if !ok {
			return domain.Coordinate{}, ErrUnknownCoordinates
		}
		if !c.Valid() {
			return domain.Coordinate{}, domain.ErrInvalidCoordinate
		}
		return c, nil
	case 0:
		return domain.Coordinate{}, fmt.Errorf("missing coordinates: %w", ErrUnknownCoordinates)
	}
	return domain.Coordinate{}, ErrUnknownCoordinates
}

// DecodeSpot converts one spot document node.
func DecodeSpot(node *yaml.Node) (domain.Spot, error) {
	var raw rawSpot
	if err := node.Decode(&raw); err != nil {
		return domain.Spot{}, fmt.Errorf("decoding spot: %w", err)
	}
	if raw.ID < 1 {
		return domain.Spot{}, fmt.Errorf("spot id %d must be positive", raw.ID)
	}

	coords, err := decodeCoordinates(&raw.Coordinates)
	if err != nil {
		return domain.Spot{}, fmt.Errorf("spot %d: %w", raw.ID, err)
	}

	spot := domain.Spot{
		ID:          raw.ID,
		Coordinates: coords,
		Media:       raw.Media,
		Photos:      raw.Photos,
	}
	if spot.Media == nil {
		spot.Media = []domain.Media{}
	}
	if spot.Photos == nil {
		spot.Photos = []string{}
	}
	return spot, nil
}

// DecodeSpots reads a YAML or JSON document holding either a list of spots
// or a mapping with a "spots" list. Duplicate ids are rejected.
func DecodeSpots(r io.Reader) ([]domain.Spot, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing spot document: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind == yaml.MappingNode {
		var wrapper struct {
			Spots yaml.Node `yaml:"spots"`
		}
		if err := root.Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("parsing spot document: %w", err)
		}
		root = &wrapper.Spots
	}
	if root.Kind != yaml.SequenceNode {
		return nil, errors.New("spot document must hold a list of spots")
	}

	spots := make([]domain.Spot, 0, len(root.Content))
	seen := make(map[int]bool, len(root.Content))
	for i, item := range root.Content {
		spot, err := DecodeSpot(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[spot.ID] {
			return nil, fmt.Errorf("entry %d: duplicate spot id %d", i, spot.ID)
		}
		seen[spot.ID] = true
		spots = append(spots, spot)
	}
	return spots, nil
}

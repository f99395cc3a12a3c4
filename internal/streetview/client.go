// Package streetview looks up street-level panoramas near a coordinate.
package streetview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
)

// ErrNoPanorama is returned when no panorama exists within the radius.
var ErrNoPanorama = errors.New("no panorama near location")

// Panorama describes the panorama closest to the requested location.
type Panorama struct {
	PanoID    string            `json:"pano_id"`
	Location  domain.Coordinate `json:"location"`
	Date      string            `json:"date,omitempty"`
	Copyright string            `json:"copyright,omitempty"`
}

type metadataResponse struct {
	Status   string `json:"status"`
	PanoID   string `json:"pano_id"`
	Date     string `json:"date"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Copyright    string `json:"copyright"`
	ErrorMessage string `json:"error_message"`
}

// Client queries the street view metadata endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	radius     int
	logger     *slog.Logger
}

// NewClient creates a metadata client from the maps configuration.
func NewClient(cfg *config.MapsConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		radius:     cfg.Radius,
		logger:     logger,
	}
}

// Lookup finds the panorama nearest to c within the configured radius.
func (c *Client) Lookup(ctx context.Context, loc domain.Coordinate) (*Panorama, error) {
	q := url.Values{}
	q.Set("location", strconv.FormatFloat(loc.Latitude, 'f', -1, 64)+","+strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(c.radius))
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting panorama metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("panorama metadata returned status %d", resp.StatusCode)
	}

	var body metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding panorama metadata: %w", err)
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return nil, ErrNoPanorama
	default:
		c.logger.Warn("panorama lookup rejected", "status", body.Status, "message", body.ErrorMessage)
		return nil, fmt.Errorf("panorama lookup failed with status %s", body.Status)
	}

	return &Panorama{
		PanoID:    body.PanoID,
		Location:  domain.Coordinate{Latitude: body.Location.Lat, Longitude: body.Location.Lng},
		Date:      body.Date,
		Copyright: body.Copyright,
	}, nil
}

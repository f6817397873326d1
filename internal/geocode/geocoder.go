package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/observability"
)

// PlaceSearcher is the outbound geocoding boundary. Search resolves free text to
// candidate places (ordered, best first); Nearest resolves a coordinate to the
// closest place label.
type PlaceSearcher interface {
	Search(ctx context.Context, query string) ([]models.Place, error)
	Nearest(ctx context.Context, coord models.Coordinate) (models.Place, error)
}

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidQuery  = errors.New("invalid place query")
	ErrNotFound      = errors.New("place not found")
	ErrBadResponse   = errors.New("geocoding bad response")
)

// OpenWeatherGeocoder calls the OpenWeather geocoding API for forward and
// reverse lookups.
type OpenWeatherGeocoder struct {
	apiKey  string
	baseURL string // e.g. https://api.openweathermap.org/geo/1.0
	client  *http.Client
}

// NewOpenWeatherGeocoder creates a geocoder. baseURL is the geocoding API root
// without a trailing slash.
func NewOpenWeatherGeocoder(apiKey, baseURL string, timeout time.Duration) (*OpenWeatherGeocoder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	return &OpenWeatherGeocoder{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

// Search resolves a free-text place query. The query is sent with its original
// casing; normalization for caching is the resolver's concern.
func (g *OpenWeatherGeocoder) Search(ctx context.Context, query string) ([]models.Place, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", "5")
	results, err := g.call(ctx, "direct", params)
	if err != nil {
		return nil, err
	}
	places := make([]models.Place, 0, len(results))
	for _, r := range results {
		places = append(places, toPlace(r))
	}
	return places, nil
}

// Nearest resolves a coordinate to the closest known place.
func (g *OpenWeatherGeocoder) Nearest(ctx context.Context, coord models.Coordinate) (models.Place, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coord.Lon, 'f', -1, 64))
	params.Set("limit", "1")
	results, err := g.call(ctx, "reverse", params)
	if err != nil {
		return models.Place{}, err
	}
	if len(results) == 0 {
		return models.Place{}, fmt.Errorf("%w: no place near %.4f,%.4f", ErrNotFound, coord.Lat, coord.Lon)
	}
	return toPlace(results[0]), nil
}

// ValidateAPIKey issues a cheap forward lookup to confirm the key is accepted.
// Used by the health endpoint.
func (g *OpenWeatherGeocoder) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	params := url.Values{}
	params.Set("q", "London")
	params.Set("limit", "1")
	_, err := g.call(ctx, "direct", params)
	if errors.Is(err, ErrInvalidAPIKey) {
		return err
	}
	if err != nil {
		return fmt.Errorf("validate API key: %w", err)
	}
	return nil
}

func (g *OpenWeatherGeocoder) call(ctx context.Context, direction string, params url.Values) ([]geocodeResult, error) {
	start := time.Now()

	params.Set("appid", g.apiKey)
	endpoint := g.baseURL + "/" + direction
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		observability.GeocodeCallsTotal.WithLabelValues(direction, "error").Inc()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		observability.GeocodeCallsTotal.WithLabelValues(direction, "error").Inc()
		observability.GeocodeDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.GeocodeCallsTotal.WithLabelValues(direction, status).Inc()
	observability.GeocodeDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: geocoding rejected key", ErrInvalidAPIKey)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var results []geocodeResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse geocoding response: %w", err)
	}
	return results, nil
}

func toPlace(r geocodeResult) models.Place {
	return models.Place{
		Name:       r.Name,
		State:      r.State,
		Country:    r.Country,
		Coordinate: models.Coordinate{Lat: r.Lat, Lon: r.Lon},
	}
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

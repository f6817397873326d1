package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-forecast-service/internal/cache"
	"github.com/kjstillabower/trip-forecast-service/internal/geocode"
	"github.com/kjstillabower/trip-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/service"
)

type mockSearcher struct {
	places  []models.Place
	nearest models.Place
	err     error
}

func (m *mockSearcher) Search(ctx context.Context, query string) ([]models.Place, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.places, nil
}

func (m *mockSearcher) Nearest(ctx context.Context, coord models.Coordinate) (models.Place, error) {
	if m.err != nil {
		return models.Place{}, m.err
	}
	return m.nearest, nil
}

type mockFetcher struct {
	series models.ForecastSeries
	err    error
}

func (m *mockFetcher) FetchDaily(ctx context.Context, coord models.Coordinate, units models.Units) (models.ForecastSeries, error) {
	if m.err != nil {
		return models.ForecastSeries{}, m.err
	}
	return m.series, nil
}

type mockKeyValidator struct {
	err error
}

func (m *mockKeyValidator) ValidateAPIKey(ctx context.Context) error {
	return m.err
}

var tokyoCoord = models.Coordinate{Lat: 35.6762, Lon: 139.6503}

func tokyoSeries() models.ForecastSeries {
	jst := time.FixedZone("", 32400)
	return models.ForecastSeries{
		UTCOffsetSeconds: 32400,
		Days: []models.DailyForecast{
			{Date: time.Date(2025, 10, 6, 0, 0, 0, 0, jst), High: 24.1, Low: 17.3, Pop: 0.3},
			{Date: time.Date(2025, 10, 7, 0, 0, 0, 0, jst), High: 22.8, Low: 16.0, Pop: 0.1},
		},
	}
}

func newTestHandler(searcher geocode.PlaceSearcher, fetcher *mockFetcher, validator KeyValidator) *Handler {
	resolver := geocode.NewResolver(searcher, 0)
	svc := service.NewForecastService(resolver, fetcher, cache.NewInMemoryCache(), time.Hour, false, 0)
	return NewHandler(svc, searcher, validator, &HealthConfig{}, zap.NewNop(), 2, 100)
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

// TestHandler_GetForecast_Success verifies a place+date query returns the
// matching day with the expected schema.
func TestHandler_GetForecast_Success(t *testing.T) {
	searcher := &mockSearcher{places: []models.Place{{Name: "Tokyo", Coordinate: tokyoCoord}}}
	h := newTestHandler(searcher, &mockFetcher{series: tokyoSeries()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/forecast?place=Tokyo&date=2025-10-06&units=metric", nil)
	rec := httptest.NewRecorder()
	h.GetForecast(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var day models.DailyForecast
	if err := json.NewDecoder(rec.Body).Decode(&day); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if day.High != 24.1 || day.Low != 17.3 || day.Pop != 0.3 {
		t.Errorf("body = %+v", day)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

// TestHandler_GetForecast_ByCoordinate verifies lat/lon queries bypass place search.
func TestHandler_GetForecast_ByCoordinate(t *testing.T) {
	searcher := &mockSearcher{err: errors.New("should not be called")}
	h := newTestHandler(searcher, &mockFetcher{series: tokyoSeries()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/forecast?lat=35.6762&lon=139.6503&date=2025-10-07", nil)
	rec := httptest.NewRecorder()
	h.GetForecast(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var day models.DailyForecast
	_ = json.NewDecoder(rec.Body).Decode(&day)
	if day.High != 22.8 {
		t.Errorf("High = %v, want 22.8", day.High)
	}
}

// TestHandler_GetForecast_DatelessFallsBack verifies a missing date serves the
// soonest available day instead of 404ing.
func TestHandler_GetForecast_DatelessFallsBack(t *testing.T) {
	searcher := &mockSearcher{places: []models.Place{{Name: "Tokyo", Coordinate: tokyoCoord}}}
	h := newTestHandler(searcher, &mockFetcher{series: tokyoSeries()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/forecast?place=Tokyo", nil)
	rec := httptest.NewRecorder()
	h.GetForecast(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var day models.DailyForecast
	_ = json.NewDecoder(rec.Body).Decode(&day)
	if day.High != 24.1 {
		t.Errorf("High = %v, want first entry 24.1", day.High)
	}
}

// TestHandler_GetForecast_ValidationErrors verifies bad input maps to 400 INVALID_QUERY.
func TestHandler_GetForecast_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"missing place", "/forecast"},
		{"short place", "/forecast?place=a"},
		{"bad chars", "/forecast?place=%3Cscript%3E"},
		{"bad date", "/forecast?place=Tokyo&date=06-10-2025"},
		{"bad units", "/forecast?place=Tokyo&units=kelvin"},
		{"bad lat", "/forecast?lat=abc&lon=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockSearcher{}, &mockFetcher{}, nil)
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			h.GetForecast(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != "INVALID_QUERY" {
				t.Errorf("error code = %q, want INVALID_QUERY", code)
			}
		})
	}
}

// TestHandler_GetForecast_PlaceNotFound verifies an unresolvable place maps to
// 404 PLACE_NOT_FOUND.
func TestHandler_GetForecast_PlaceNotFound(t *testing.T) {
	searcher := &mockSearcher{places: []models.Place{}}
	h := newTestHandler(searcher, &mockFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/forecast?place=Atlantis&date=2025-10-06", nil)
	rec := httptest.NewRecorder()
	h.GetForecast(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "PLACE_NOT_FOUND" {
		t.Errorf("error code = %q, want PLACE_NOT_FOUND", code)
	}
}

// TestHandler_GetForecast_DayOutsideWindow verifies a date beyond the provider
// window maps to 404 NO_FORECAST_FOR_DATE.
func TestHandler_GetForecast_DayOutsideWindow(t *testing.T) {
	searcher := &mockSearcher{places: []models.Place{{Name: "Tokyo", Coordinate: tokyoCoord}}}
	h := newTestHandler(searcher, &mockFetcher{series: tokyoSeries()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/forecast?place=Tokyo&date=2025-12-25", nil)
	rec := httptest.NewRecorder()
	h.GetForecast(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body %s", rec.Code, rec.Body.String())
	}
	if code := decodeErrorCode(t, rec); code != "NO_FORECAST_FOR_DATE" {
		t.Errorf("error code = %q, want NO_FORECAST_FOR_DATE", code)
	}
}

// TestHandler_GetForecast_UpstreamDown verifies fetch failures map to 503
// UPSTREAM_UNAVAILABLE.
func TestHandler_GetForecast_UpstreamDown(t *testing.T) {
	searcher := &mockSearcher{places: []models.Place{{Name: "Tokyo", Coordinate: tokyoCoord}}}
	h := newTestHandler(searcher, &mockFetcher{err: errors.New("connection refused")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/forecast?place=Tokyo&date=2025-10-06", nil)
	rec := httptest.NewRecorder()
	h.GetForecast(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("error code = %q, want UPSTREAM_UNAVAILABLE", code)
	}
}

// TestHandler_GetPlace verifies forward search returns the first match.
func TestHandler_GetPlace(t *testing.T) {
	searcher := &mockSearcher{places: []models.Place{
		{Name: "Tokyo", Country: "JP", Coordinate: tokyoCoord},
		{Name: "Tokyo", Country: "US", Coordinate: models.Coordinate{Lat: 39.2, Lon: -84.4}},
	}}
	h := newTestHandler(searcher, &mockFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/place?q=Tokyo", nil)
	rec := httptest.NewRecorder()
	h.GetPlace(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var place models.Place
	if err := json.NewDecoder(rec.Body).Decode(&place); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if place.Country != "JP" {
		t.Errorf("Country = %q, want first match JP", place.Country)
	}
}

// TestHandler_GetPlace_NotFound verifies zero matches map to 404.
func TestHandler_GetPlace_NotFound(t *testing.T) {
	h := newTestHandler(&mockSearcher{places: []models.Place{}}, &mockFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/place?q=Atlantis", nil)
	rec := httptest.NewRecorder()
	h.GetPlace(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "PLACE_NOT_FOUND" {
		t.Errorf("error code = %q, want PLACE_NOT_FOUND", code)
	}
}

// TestHandler_GetPlaceReverse verifies reverse lookup by coordinate.
func TestHandler_GetPlaceReverse(t *testing.T) {
	searcher := &mockSearcher{nearest: models.Place{Name: "Shibuya", Country: "JP"}}
	h := newTestHandler(searcher, &mockFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/place/reverse?lat=35.66&lon=139.7", nil)
	rec := httptest.NewRecorder()
	h.GetPlaceReverse(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var place models.Place
	_ = json.NewDecoder(rec.Body).Decode(&place)
	if place.Name != "Shibuya" {
		t.Errorf("Name = %q, want Shibuya", place.Name)
	}
}

// TestHandler_GetPlaceReverse_BadCoordinate verifies invalid lat/lon maps to 400.
func TestHandler_GetPlaceReverse_BadCoordinate(t *testing.T) {
	h := newTestHandler(&mockSearcher{}, &mockFetcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/place/reverse?lat=abc&lon=0", nil)
	rec := httptest.NewRecorder()
	h.GetPlaceReverse(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestHandler_GetHealth verifies the healthy and degraded states.
func TestHandler_GetHealth(t *testing.T) {
	h := newTestHandler(&mockSearcher{}, &mockFetcher{}, &mockKeyValidator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.GetHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

// TestHandler_GetHealth_InvalidKey verifies a rejected API key degrades health.
func TestHandler_GetHealth_InvalidKey(t *testing.T) {
	h := newTestHandler(&mockSearcher{}, &mockFetcher{}, &mockKeyValidator{err: geocode.ErrInvalidAPIKey})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.GetHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

// TestHandler_GetHealth_ShuttingDown verifies the shutdown state wins over
// everything else.
func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)

	h := newTestHandler(&mockSearcher{}, &mockFetcher{}, &mockKeyValidator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.GetHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "shutting-down" {
		t.Errorf("status = %v, want shutting-down", body["status"])
	}
}

// TestHandler_GetHealth_CacheCheck verifies the cache check result appears in
// the checks map when a ping is configured.
func TestHandler_GetHealth_CacheCheck(t *testing.T) {
	resolver := geocode.NewResolver(&mockSearcher{}, 0)
	svc := service.NewForecastService(resolver, &mockFetcher{}, cache.NewInMemoryCache(), time.Hour, false, 0)
	hc := &HealthConfig{CachePing: func() error { return errors.New("memcached down") }}
	h := NewHandler(svc, &mockSearcher{}, &mockKeyValidator{}, hc, zap.NewNop(), 2, 100)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.GetHealth(rec, req)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["cache"] != "unhealthy" {
		t.Errorf("checks.cache = %q, want unhealthy", body.Checks["cache"])
	}
}

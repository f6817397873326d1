package forecast

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

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/observability"
)

// Fetcher is the outbound forecast boundary: retrieve and normalize a
// short-range daily series for one coordinate. Implementations do not filter by
// date; day selection belongs to the caller.
type Fetcher interface {
	FetchDaily(ctx context.Context, coord models.Coordinate, units models.Units) (models.ForecastSeries, error)
}

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrBadResponse   = errors.New("forecast bad response")
	ErrDecode        = errors.New("forecast decode failure")
)

const (
	endpointPrimary = "primary"
	endpointLegacy  = "legacy"
)

// OpenWeatherFetcher fetches daily forecasts from the OpenWeather One Call API.
// The v3.0 endpoint is tried first; on any failure the request is retried once
// against the older v2.5 endpoint, whose daily payload has the same shape.
// This two-tier fallback is the only retry performed here; backoff policy
// belongs to callers.
type OpenWeatherFetcher struct {
	apiKey     string
	primaryURL string
	legacyURL  string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker // nil when disabled; guards the primary endpoint only
}

// NewOpenWeatherFetcher creates a fetcher for the given One Call endpoints.
func NewOpenWeatherFetcher(apiKey, primaryURL, legacyURL string, timeout time.Duration) (*OpenWeatherFetcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	return &OpenWeatherFetcher{
		apiKey:     apiKey,
		primaryURL: primaryURL,
		legacyURL:  legacyURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker installs a breaker around the primary endpoint. While the
// breaker is open, FetchDaily goes straight to the legacy endpoint.
func (f *OpenWeatherFetcher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	f.breaker = cb
}

// oneCallResponse is the subset of the One Call payload the service needs.
// Identical between v3.0 and v2.5 for the daily block.
type oneCallResponse struct {
	TimezoneOffset int `json:"timezone_offset"`
	Daily          []struct {
		Dt   int64 `json:"dt"`
		Temp struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"temp"`
		Pop *float64 `json:"pop"`
	} `json:"daily"`
}

// FetchDaily issues one GET per attempted endpoint and normalizes the response.
// Sub-daily blocks are excluded at the request level; the unit system is
// forwarded so temperatures come back already converted. If both endpoints
// fail, the returned error reflects the last attempt.
func (f *OpenWeatherFetcher) FetchDaily(ctx context.Context, coord models.Coordinate, units models.Units) (models.ForecastSeries, error) {
	series, primaryErr := f.callEndpoint(ctx, endpointPrimary, f.primaryURL, coord, units)
	if primaryErr == nil {
		return series, nil
	}

	series, legacyErr := f.callEndpoint(ctx, endpointLegacy, f.legacyURL, coord, units)
	if legacyErr == nil {
		observability.ForecastFallbacksTotal.Inc()
		return series, nil
	}
	return models.ForecastSeries{}, fmt.Errorf("forecast fetch (primary: %v): %w", primaryErr, legacyErr)
}

func (f *OpenWeatherFetcher) callEndpoint(ctx context.Context, endpoint, baseURL string, coord models.Coordinate, units models.Units) (models.ForecastSeries, error) {
	if f.breaker != nil && endpoint == endpointPrimary {
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.callAPI(ctx, endpoint, baseURL, coord, units)
		})
		if err != nil {
			return models.ForecastSeries{}, err
		}
		return result.(models.ForecastSeries), nil
	}
	return f.callAPI(ctx, endpoint, baseURL, coord, units)
}

func (f *OpenWeatherFetcher) callAPI(ctx context.Context, endpoint, baseURL string, coord models.Coordinate, units models.Units) (models.ForecastSeries, error) {
	start := time.Now()

	req, err := f.buildRequest(ctx, baseURL, coord, units)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return models.ForecastSeries{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.ForecastAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ForecastSeries{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.ForecastSeries{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusUnauthorized {
		return models.ForecastSeries{}, fmt.Errorf("%w: forecast rejected key", ErrInvalidAPIKey)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ForecastSeries{}, fmt.Errorf("%w: HTTP %d", ErrBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ForecastSeries{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp oneCallResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.ForecastSeries{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return normalize(apiResp), nil
}

func (f *OpenWeatherFetcher) buildRequest(ctx context.Context, baseURL string, coord models.Coordinate, units models.Units) (*http.Request, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid forecast URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coord.Lon, 'f', -1, 64))
	params.Set("units", string(units))
	params.Set("exclude", "current,minutely,hourly,alerts")
	params.Set("appid", f.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// normalize converts the wire payload to a ForecastSeries. Temperatures pass
// through untouched; precipitation probability defaults to 0 when absent and
// is clamped since upstream data is not trusted to stay in range. Each day's
// Date is the day's local midnight per the reported UTC offset.
func normalize(resp oneCallResponse) models.ForecastSeries {
	loc := time.FixedZone("", resp.TimezoneOffset)
	days := make([]models.DailyForecast, 0, len(resp.Daily))
	for _, d := range resp.Daily {
		pop := 0.0
		if d.Pop != nil {
			pop = clamp01(*d.Pop)
		}
		local := time.Unix(d.Dt, 0).In(loc)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		days = append(days, models.DailyForecast{
			Date: midnight,
			High: d.Temp.Max,
			Low:  d.Temp.Min,
			Pop:  pop,
		})
	}
	return models.ForecastSeries{
		UTCOffsetSeconds: resp.TimezoneOffset,
		Days:             days,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
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

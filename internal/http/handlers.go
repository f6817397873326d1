package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-forecast-service/internal/forecast"
	"github.com/kjstillabower/trip-forecast-service/internal/geocode"
	"github.com/kjstillabower/trip-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/observability"
	"github.com/kjstillabower/trip-forecast-service/internal/service"
	"github.com/kjstillabower/trip-forecast-service/internal/validation"
)

// KeyValidator confirms the upstream API credential is accepted. Implemented by
// the geocoder; used by the health endpoint.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context) error
}

// HealthConfig holds dependencies for the health handler.
type HealthConfig struct {
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc            *service.ForecastService
	searcher       geocode.PlaceSearcher
	keyValidator   KeyValidator
	healthConfig   *HealthConfig
	logger         *zap.Logger
	queryMinLength int
	queryMaxLength int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	svc *service.ForecastService,
	searcher geocode.PlaceSearcher,
	keyValidator KeyValidator,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	queryMinLength, queryMaxLength int,
) *Handler {
	return &Handler{
		svc:            svc,
		searcher:       searcher,
		keyValidator:   keyValidator,
		healthConfig:   healthConfig,
		logger:         logger,
		queryMinLength: queryMinLength,
		queryMaxLength: queryMaxLength,
	}
}

// GetForecast handles GET /forecast?place=...&date=YYYY-MM-DD&units=metric,
// or lat+lon instead of place. A missing date means "the soonest available
// day" rather than an exact calendar match.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	units, err := validation.ValidateUnits(q.Get("units"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	trip := models.Trip{}
	placeLabel := ""
	if latStr, lonStr := q.Get("lat"), q.Get("lon"); latStr != "" || lonStr != "" {
		coord, err := validation.ValidateCoordinate(latStr, lonStr)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
			return
		}
		trip.Coordinate = &coord
	} else {
		place, err := validation.ValidatePlaceQuery(q.Get("place"), h.queryMinLength, h.queryMaxLength)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
			return
		}
		trip.Name = place
		placeLabel = place
	}

	exactDate := q.Get("date") != ""
	if exactDate {
		date, err := validation.ValidateDate(q.Get("date"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
			return
		}
		trip.Date = date
	} else {
		now := time.Now().UTC()
		trip.Date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	observability.RecordForecastQuery(placeLabel)

	var day *models.DailyForecast
	if exactDate {
		day, err = h.svc.ForecastForDate(r.Context(), trip, units)
	} else {
		day, err = h.svc.ForecastNearest(r.Context(), trip, units)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if day == nil {
		writeError(w, r, http.StatusNotFound, "NO_FORECAST_FOR_DATE",
			"no forecast available for "+trip.AnchorDay())
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// GetPlace handles GET /place?q=... and returns the best forward-search match.
func (h *Handler) GetPlace(w http.ResponseWriter, r *http.Request) {
	query, err := validation.ValidatePlaceQuery(r.URL.Query().Get("q"), h.queryMinLength, h.queryMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	places, err := h.searcher.Search(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(places) == 0 {
		writeError(w, r, http.StatusNotFound, "PLACE_NOT_FOUND", "no place matches "+query)
		return
	}
	writeJSON(w, http.StatusOK, places[0])
}

// GetPlaceReverse handles GET /place/reverse?lat=..&lon=.. and returns the
// nearest place label.
func (h *Handler) GetPlaceReverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coord, err := validation.ValidateCoordinate(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	place, err := h.svc.Resolver().ReverseNearest(r.Context(), coord)
	if err != nil {
		if errors.Is(err, geocode.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "PLACE_NOT_FOUND", "no place near that coordinate")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "trip-forecast-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status.
// Decision order: shutting-down > API key invalid > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.keyValidator != nil {
		if err := h.keyValidator.ValidateAPIKey(ctx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps resolve/fetch errors to HTTP responses per the
// error taxonomy: caller errors get 400, terminal not-found gets 404,
// anything upstream-shaped gets 503.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrInvalidQuery):
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", "trip has no resolvable place")
	case errors.Is(err, geocode.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "PLACE_NOT_FOUND", "place could not be resolved")
	case errors.Is(err, geocode.ErrSuperseded):
		writeError(w, r, http.StatusConflict, "LOOKUP_SUPERSEDED", "a newer lookup replaced this one")
	case errors.Is(err, forecast.ErrDecode):
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_MALFORMED", "upstream returned an unreadable payload")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "unable to fetch forecast data")
	}
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("request failed", zap.Error(err), zap.String("category", string(service.CategorizeError(err))))
	}
}

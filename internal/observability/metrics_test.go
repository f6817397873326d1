package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across geocode, forecast, http,
// service, and cache packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /forecast not /forecast?place=tokyo)
	HTTPRequestsTotal.WithLabelValues("GET", "/forecast", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/forecast").Observe(0.01)
	ForecastAPICallsTotal.WithLabelValues("primary", "success").Inc()
	ForecastAPICallsTotal.WithLabelValues("legacy", "server_error").Inc()
	ForecastAPIDuration.WithLabelValues("primary").Observe(0.1)
	ForecastFallbacksTotal.Inc()
	ForecastFailuresTotal.WithLabelValues("bad_response").Inc()
	GeocodeCallsTotal.WithLabelValues("direct", "success").Inc()
	GeocodeCallsTotal.WithLabelValues("reverse", "error").Inc()
	GeocodeDuration.WithLabelValues("direct").Observe(0.05)
	PlaceCacheHitsTotal.Inc()
	CacheHitsTotal.WithLabelValues("forecast").Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	ForecastQueriesTotal.Inc()
	ForecastQueriesByPlaceTotal.WithLabelValues("tokyo").Inc()
	ForecastQueriesByPlaceTotal.WithLabelValues("other").Inc()
	SetCircuitBreakerState("forecast_primary", 0)
	RecordShutdownInFlight(0)
}

// TestSetTrackedPlaces_and_RecordForecastQuery verifies that SetTrackedPlaces
// configures the place allow-list and RecordForecastQuery correctly labels
// tracked vs "other" places.
func TestSetTrackedPlaces_and_RecordForecastQuery(t *testing.T) {
	SetTrackedPlaces([]string{"tokyo", "paris"})
	RecordForecastQuery("Tokyo")
	RecordForecastQuery("unknown-city")
	SetTrackedPlaces(nil) // reset for other tests
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/observability"
)

// TripForecaster is implemented by the service layer to resolve a forecast for a
// trip-like input. Used by CacheWarmer to avoid a circular dependency on the
// service package.
type TripForecaster interface {
	ForecastForDate(ctx context.Context, trip models.Trip, units models.Units) (*models.DailyForecast, error)
}

// CacheWarmer warms the forecast cache by prefetching today's forecast for a
// list of place names, so the first interactive lookup for a popular place hits
// the cache.
type CacheWarmer struct {
	forecaster TripForecaster
	units      models.Units
	logger     *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that prefetches in the given unit system.
func NewCacheWarmer(forecaster TripForecaster, units models.Units, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{forecaster: forecaster, units: units, logger: logger}
}

// Warm resolves today's forecast for each place concurrently, populating the
// place-resolution and forecast caches via the forecaster. Returns an error if
// any place failed (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context, places []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming forecast cache", zap.Int("places", len(places)))
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	var wg sync.WaitGroup
	errCh := make(chan error, len(places))
	for _, place := range places {
		place := place
		wg.Add(1)
		go func() {
			defer wg.Done()
			trip := models.Trip{Name: place, Date: today}
			if _, err := w.forecaster.ForecastForDate(ctx, trip, w.units); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", place, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("forecast cache warming complete", zap.Int("places", len(places)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, places []string, interval time.Duration) error {
	if err := w.Warm(ctx, places); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, places); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-forecast-service/internal/cache"
	"github.com/kjstillabower/trip-forecast-service/internal/forecast"
	"github.com/kjstillabower/trip-forecast-service/internal/geocode"
	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/observability"
)

// ForecastService resolves a trip to a single day's forecast: place resolution,
// cache-aside series lookup, fetch on miss, then local-calendar-day selection.
type ForecastService struct {
	resolver        *geocode.Resolver
	fetcher         forecast.Fetcher
	cache           cache.Cache
	ttl             time.Duration
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil when coalescing disabled
}

// NewForecastService creates a ForecastService. ttl is the forecast cache
// lifetime, applied uniformly regardless of how far out the trip date is.
// coalesceEnabled and coalesceTimeout configure request coalescing across
// concurrent identical cache misses (disabled if timeout is 0).
func NewForecastService(resolver *geocode.Resolver, fetcher forecast.Fetcher, c cache.Cache, ttl time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *ForecastService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &ForecastService{
		resolver:        resolver,
		fetcher:         fetcher,
		cache:           c,
		ttl:             ttl,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// Resolver exposes the place resolver for callers that need forward/reverse
// lookups or the last-resolved coordinate directly.
func (s *ForecastService) Resolver() *geocode.Resolver {
	return s.resolver
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// ForecastForDate returns the forecast for the trip's calendar date at the
// trip's location, or (nil, nil) when the provider's window does not cover that
// date; a missing day is a reportable, non-error outcome. Resolver and fetch failures
// propagate; nothing is cached on a failure path.
func (s *ForecastService) ForecastForDate(ctx context.Context, trip models.Trip, units models.Units) (*models.DailyForecast, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)

	series, cached, err := s.seriesForTrip(ctx, trip, units, logger)
	if err != nil {
		return nil, err
	}
	return s.selectDay(series, trip.AnchorDay(), logger, start, cached), nil
}

// seriesForTrip resolves the trip's coordinate and returns its forecast series,
// from cache when fresh or upstream on a miss. The bool reports whether the
// series came from cache.
func (s *ForecastService) seriesForTrip(ctx context.Context, trip models.Trip, units models.Units, logger *zap.Logger) (models.ForecastSeries, bool, error) {
	coord, err := s.resolver.Resolve(ctx, trip)
	if err != nil {
		observability.ForecastFailuresTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.ForecastSeries{}, false, fmt.Errorf("resolve place: %w", err)
	}

	key := cache.NewKey(coord, units, trip.Date)

	series, ok, cacheErr := s.cache.Get(ctx, key)
	if cacheErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
	}
	if ok {
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		if logger != nil {
			logger.Debug("forecast cache hit", zap.String("key", key.String()))
		}
		return series, true, nil
	}

	concurrentMisses := s.stampedeTracker.RecordMiss(key.String())
	defer s.stampedeTracker.RecordHit(key.String())
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("forecast cache miss, fetching upstream", zap.String("key", key.String()))
	}

	var fetchErr error
	if s.coalescer != nil {
		coalesceStart := time.Now()
		series, fetchErr = s.coalescer.GetOrDo(ctx, key.String(), func() (models.ForecastSeries, error) {
			return s.fetcher.FetchDaily(ctx, coord, units)
		})
		if fetchErr == nil {
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(coalesceStart).Seconds())
		}
	} else {
		series, fetchErr = s.fetcher.FetchDaily(ctx, coord, units)
	}
	if fetchErr != nil {
		observability.ForecastFailuresTotal.WithLabelValues(string(CategorizeError(fetchErr))).Inc()
		return models.ForecastSeries{}, false, fmt.Errorf("fetch forecast for %s: %w", trip.AnchorDay(), fetchErr)
	}

	if setErr := s.cache.Set(ctx, key, series, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		if logger != nil {
			logger.Warn("forecast cache set failed", zap.String("key", key.String()), zap.Error(setErr))
		}
	}
	return series, false, nil
}

// ForecastNearest is ForecastForDate with a first-entry fallback when the
// series does not cover the anchor day. Used by dateless queries that want
// "whatever the soonest forecast for this place is".
func (s *ForecastService) ForecastNearest(ctx context.Context, trip models.Trip, units models.Units) (*models.DailyForecast, error) {
	logger := loggerFromContext(ctx)
	series, _, err := s.seriesForTrip(ctx, trip, units, logger)
	if err != nil {
		return nil, err
	}
	if day, found := series.DayMatchingOrFirst(trip.AnchorDay()); found {
		return &day, nil
	}
	return nil, nil
}

func (s *ForecastService) selectDay(series models.ForecastSeries, anchorDay string, logger *zap.Logger, start time.Time, cached bool) *models.DailyForecast {
	day, found := series.DayMatching(anchorDay)
	if logger != nil {
		logger.Debug("forecast served",
			zap.String("day", anchorDay),
			zap.Bool("cached", cached),
			zap.Bool("found", found),
			zap.Duration("duration", time.Since(start)))
	}
	if !found {
		return nil
	}
	return &day
}

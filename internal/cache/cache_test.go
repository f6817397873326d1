package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TestInMemoryCache_GetSet verifies that Set stores a series and Get retrieves
// it with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	key := NewKey(models.Coordinate{Lat: 35.6762, Lon: 139.6503}, models.UnitsMetric, day(2025, 10, 6))
	series := models.ForecastSeries{
		UTCOffsetSeconds: 32400,
		Days:             []models.DailyForecast{{Date: day(2025, 10, 6), High: 24.1, Low: 17.3, Pop: 0.3}},
	}
	if err := c.Set(ctx, key, series, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got.Days) != 1 || got.Days[0].High != 24.1 || got.UTCOffsetSeconds != 32400 {
		t.Errorf("Get() = %+v, want %+v", got, series)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	key := NewKey(models.Coordinate{Lat: 1, Lon: 2}, models.UnitsMetric, day(2025, 10, 6))
	_, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	key := NewKey(models.Coordinate{Lat: 47.6, Lon: -122.33}, models.UnitsMetric, day(2025, 10, 6))
	if err := c.Set(ctx, key, models.ForecastSeries{}, 1*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(2 * time.Millisecond)

	_, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}

	c.mu.RLock()
	_, present := c.data[key]
	c.mu.RUnlock()
	if present {
		t.Error("Expired entry should be deleted from cache")
	}
}

// TestInMemoryCache_Set_Overwrite verifies that a second Set replaces the
// entry and refreshes its TTL clock.
func TestInMemoryCache_Set_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	key := NewKey(models.Coordinate{Lat: 1, Lon: 1}, models.UnitsImperial, day(2025, 10, 6))
	first := models.ForecastSeries{Days: []models.DailyForecast{{High: 10}}}
	second := models.ForecastSeries{Days: []models.DailyForecast{{High: 20}}}

	if err := c.Set(ctx, key, first, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(ctx, key, second, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, _ := c.Get(ctx, key)
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Days[0].High != 20 {
		t.Errorf("Get() High = %v, want 20", got.Days[0].High)
	}
}

package cache

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
)

// Key identifies one cached forecast series. Coordinates are bucketed to two
// decimal degrees (~1 km) so floating-point jitter between lookups for the
// same place does not fragment the cache.
type Key struct {
	Day       string // anchor day, "2006-01-02"
	LatBucket int
	LonBucket int
	Units     models.Units
}

// NewKey builds a Key from a coordinate, unit system and anchor date.
// The anchor date's calendar day is used; time-of-day is discarded.
func NewKey(coord models.Coordinate, units models.Units, anchor time.Time) Key {
	return Key{
		Day:       anchor.Format(models.DayFormat),
		LatBucket: bucket(coord.Lat),
		LonBucket: bucket(coord.Lon),
		Units:     units,
	}
}

// bucket rounds a degree value to a 0.01-degree-scaled integer.
func bucket(deg float64) int {
	return int(math.Round(deg * 100))
}

// String renders the key for string-keyed backends (memcached).
func (k Key) String() string {
	return fmt.Sprintf("trip-forecast:%s:%d:%d:%s", k.Day, k.LatBucket, k.LonBucket, k.Units)
}

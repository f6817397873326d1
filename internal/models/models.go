package models

import (
	"math"
	"time"
)

// Units selects the temperature unit system forwarded to the forecast provider.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// Valid reports whether u is a supported unit system.
func (u Units) Valid() bool {
	return u == UnitsMetric || u == UnitsImperial
}

// Coordinate is a WGS 84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Finite reports whether both components are finite numbers.
// No range validation is performed; equality is exact, cache bucketing rounds.
func (c Coordinate) Finite() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}

// Trip carries the fields forecast resolution needs from a trip record.
// At least one of Coordinate or a non-empty name field must be present,
// or resolution fails. Date is a calendar date; time-of-day is ignored.
type Trip struct {
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	CustomName string      `json:"customName,omitempty"` // user-edited label, highest query priority
	City       string      `json:"city,omitempty"`
	Name       string      `json:"name,omitempty"` // raw location name, lowest priority
	Date       time.Time   `json:"date"`
}

// AnchorDay returns the trip's calendar day as a date-only string.
func (t Trip) AnchorDay() string {
	return t.Date.Format(DayFormat)
}

// DayFormat is the date-only layout used for anchor days and cache keys.
const DayFormat = "2006-01-02"

// DailyForecast is one day of a normalized forecast series. Temperatures are in
// the unit system that was requested from the provider. Pop is a precipitation
// probability fraction clamped to [0, 1].
type DailyForecast struct {
	Date time.Time `json:"date"` // local midnight at the forecast location
	High float64   `json:"high"`
	Low  float64   `json:"low"`
	Pop  float64   `json:"pop"`
}

// Day returns the forecast entry's local calendar day as a date-only string.
func (d DailyForecast) Day() string {
	return d.Date.Format(DayFormat)
}

// ForecastSeries is a short-range daily forecast for one coordinate.
// Days are ordered as returned by the provider, with Date already shifted
// into the location's local time using UTCOffsetSeconds.
type ForecastSeries struct {
	UTCOffsetSeconds int             `json:"utcOffsetSeconds"`
	Days             []DailyForecast `json:"days"`
}

// DayMatching returns the entry whose local calendar day equals anchorDay
// ("2006-01-02"). Providers serve only ~7 days ahead, so a missing day is a
// normal outcome, reported via ok=false rather than an error.
func (s ForecastSeries) DayMatching(anchorDay string) (DailyForecast, bool) {
	for _, d := range s.Days {
		if d.Day() == anchorDay {
			return d, true
		}
	}
	return DailyForecast{}, false
}

// DayMatchingOrFirst is DayMatching with a first-entry fallback for callers
// that want "the nearest available day" rather than an exact date.
func (s ForecastSeries) DayMatchingOrFirst(anchorDay string) (DailyForecast, bool) {
	if d, ok := s.DayMatching(anchorDay); ok {
		return d, true
	}
	if len(s.Days) > 0 {
		return s.Days[0], true
	}
	return DailyForecast{}, false
}

// Place is a resolved place from the geocoding backend.
type Place struct {
	Name       string     `json:"name"`
	State      string     `json:"state,omitempty"`
	Country    string     `json:"country,omitempty"`
	Coordinate Coordinate `json:"coordinate"`
}

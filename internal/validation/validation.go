package validation

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
)

// ErrQueryEmpty is returned when the place query is empty or whitespace-only after trim.
var ErrQueryEmpty = errors.New("place query is required")

// ErrQueryTooShort is returned when the place query length is below the minimum.
var ErrQueryTooShort = errors.New("place query too short")

// ErrQueryTooLong is returned when the place query length exceeds the maximum.
var ErrQueryTooLong = errors.New("place query too long")

// ErrQueryInvalidChars is returned when the place query contains disallowed characters.
var ErrQueryInvalidChars = errors.New("place query contains invalid characters")

// ErrInvalidDate is returned when a date parameter is not a valid YYYY-MM-DD day.
var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

// ErrInvalidUnits is returned when the units parameter is not metric or imperial.
var ErrInvalidUnits = errors.New("units must be metric or imperial")

// ErrInvalidCoordinate is returned when lat/lon parameters do not parse to finite degrees.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ValidatePlaceQuery trims the input, enforces length bounds (minLen, maxLen in
// runes), and restricts to allowed characters: letters (Unicode), digits, space,
// comma, hyphen, apostrophe, period. Returns the trimmed string or an error
// suitable for 400 INVALID_QUERY responses. Normalization (e.g. lowercase) is
// left to the resolver.
func ValidatePlaceQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrQueryEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

// isAllowedQueryRune returns true for letters (Unicode), digits, space, comma,
// hyphen, apostrophe, period.
func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// ValidateDate parses a YYYY-MM-DD calendar date. The returned time is midnight UTC.
func ValidateDate(input string) (time.Time, error) {
	s := strings.TrimSpace(input)
	t, err := time.Parse(models.DayFormat, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// ValidateUnits parses the units parameter; empty defaults to metric.
func ValidateUnits(input string) (models.Units, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return models.UnitsMetric, nil
	}
	u := models.Units(s)
	if !u.Valid() {
		return "", ErrInvalidUnits
	}
	return u, nil
}

// ValidateCoordinate parses lat/lon strings into a finite coordinate.
func ValidateCoordinate(latStr, lonStr string) (models.Coordinate, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return models.Coordinate{}, ErrInvalidCoordinate
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return models.Coordinate{}, ErrInvalidCoordinate
	}
	coord := models.Coordinate{Lat: lat, Lon: lon}
	if !coord.Finite() {
		return models.Coordinate{}, ErrInvalidCoordinate
	}
	return coord, nil
}

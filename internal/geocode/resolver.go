package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
	"github.com/kjstillabower/trip-forecast-service/internal/observability"
)

// ErrSuperseded is returned when a lookup was replaced by a newer one on the
// same resolver before it completed. Callers driving interactive input should
// discard the result silently.
var ErrSuperseded = errors.New("lookup superseded")

// Resolver turns trip-like input into a single coordinate.
//
// Results are memoized by normalized query text for the resolver's lifetime;
// place names rarely move, so no TTL is applied and the memo is bounded only by
// distinct-query cardinality. Forward searches for different queries run
// independently; only a repeat of the same query cancels its predecessor, and a
// per-slot generation counter checked after the call keeps a superseded lookup
// from overwriting fresher state. Safe for concurrent use across trips.
type Resolver struct {
	searcher PlaceSearcher
	debounce time.Duration // delay before reverse lookups fire (map panning)

	mu           sync.Mutex
	memo         map[string]models.Coordinate
	lastResolved *models.Coordinate

	searches  map[string]*searchSlot
	revGen    uint64
	revCancel context.CancelFunc
}

// searchSlot tracks the in-flight forward search for one normalized query.
type searchSlot struct {
	gen    uint64
	cancel context.CancelFunc
}

// NewResolver creates a Resolver backed by the given searcher. debounce applies
// to ReverseNearest only; zero disables it.
func NewResolver(searcher PlaceSearcher, debounce time.Duration) *Resolver {
	return &Resolver{
		searcher: searcher,
		debounce: debounce,
		memo:     make(map[string]models.Coordinate),
		searches: make(map[string]*searchSlot),
	}
}

// Resolve produces exactly one coordinate for the trip or fails.
//
// A trip that already carries a coordinate is returned as-is with no network
// call and no cache interaction. Otherwise one query string is chosen by
// priority (custom name, then city, then raw name) and resolved against the
// search backend, memoized by its normalized form. The chosen field is not
// retried against lower-priority fields on failure.
func (r *Resolver) Resolve(ctx context.Context, trip models.Trip) (models.Coordinate, error) {
	if trip.Coordinate != nil {
		return *trip.Coordinate, nil
	}

	query := selectQuery(trip)
	norm := normalizeQuery(query)
	if norm == "" {
		return models.Coordinate{}, fmt.Errorf("%w: trip has no coordinate and no usable name", ErrInvalidQuery)
	}

	r.mu.Lock()
	if coord, ok := r.memo[norm]; ok {
		r.mu.Unlock()
		observability.PlaceCacheHitsTotal.Inc()
		return coord, nil
	}

	// Claim the in-flight slot for this query, cancelling a predecessor for
	// the same query only. Lookups for different queries run independently.
	slot, ok := r.searches[norm]
	if !ok {
		slot = &searchSlot{}
		r.searches[norm] = slot
	}
	slot.gen++
	gen := slot.gen
	if slot.cancel != nil {
		slot.cancel()
	}
	lookupCtx, cancel := context.WithCancel(ctx)
	slot.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	places, err := r.searcher.Search(lookupCtx, query)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != slot.gen {
		// A newer lookup for this query owns the slot; this result must not
		// touch state.
		return models.Coordinate{}, fmt.Errorf("%w: %q", ErrSuperseded, query)
	}
	delete(r.searches, norm)

	if err != nil {
		return models.Coordinate{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	if len(places) == 0 {
		return models.Coordinate{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}

	coord := places[0].Coordinate
	r.memo[norm] = coord
	last := coord
	r.lastResolved = &last
	return coord, nil
}

// ReverseNearest resolves a coordinate to the nearest place label after the
// configured debounce delay. A newer call cancels a pending one, matching the
// interactive map-panning pattern where only the latest position matters.
func (r *Resolver) ReverseNearest(ctx context.Context, coord models.Coordinate) (models.Place, error) {
	r.mu.Lock()
	r.revGen++
	gen := r.revGen
	if r.revCancel != nil {
		r.revCancel()
	}
	lookupCtx, cancel := context.WithCancel(ctx)
	r.revCancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.debounce > 0 {
		timer := time.NewTimer(r.debounce)
		select {
		case <-lookupCtx.Done():
			timer.Stop()
			return models.Place{}, fmt.Errorf("%w: reverse lookup", ErrSuperseded)
		case <-timer.C:
		}
	}

	place, err := r.searcher.Nearest(lookupCtx, coord)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.revGen {
		return models.Place{}, fmt.Errorf("%w: reverse lookup", ErrSuperseded)
	}
	r.revCancel = nil

	if err != nil {
		return models.Place{}, fmt.Errorf("reverse lookup %.4f,%.4f: %w", coord.Lat, coord.Lon, err)
	}
	return place, nil
}

// LastResolved returns the coordinate of the most recent successful forward
// search, or nil if none. Map-picker UIs use it as a starting position.
func (r *Resolver) LastResolved() *models.Coordinate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastResolved == nil {
		return nil
	}
	c := *r.lastResolved
	return &c
}

// SetLastResolved overrides the most-recent-coordinate slot, e.g. after the
// user confirms a position in a map picker.
func (r *Resolver) SetLastResolved(coord models.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := coord
	r.lastResolved = &c
}

// selectQuery picks the single query string for a trip without a coordinate.
func selectQuery(trip models.Trip) string {
	if s := strings.TrimSpace(trip.CustomName); s != "" {
		return s
	}
	if s := strings.TrimSpace(trip.City); s != "" {
		return s
	}
	return strings.TrimSpace(trip.Name)
}

// normalizeQuery lowercases a trimmed query for memo keys. The original casing
// is what gets sent upstream.
func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

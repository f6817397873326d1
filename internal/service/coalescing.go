package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/trip-forecast-service/internal/models"
)

// inFlightFetch tracks a single upstream fetch that multiple callers may wait for.
type inFlightFetch struct {
	mu      sync.Mutex
	series  models.ForecastSeries
	err     error
	done    bool
	waiters []chan struct{} // closed to notify waiters when the result is ready
}

// requestCoalescer collapses concurrent fetches for the same cache key into one
// upstream call, preventing a stampede when a popular key expires.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer with the specified wait timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// GetOrDo checks if a fetch for key is already in flight. If yes, waits for its
// result. If no, executes fn and registers the fetch. Respects context
// cancellation and the coalescer timeout to prevent indefinite blocking.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.ForecastSeries, error)) (models.ForecastSeries, error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if exists {
		notify := make(chan struct{})
		req.mu.Lock()
		if req.done {
			series := req.series
			err := req.err
			req.mu.Unlock()
			rc.mu.Unlock()
			return series, err
		}
		req.waiters = append(req.waiters, notify)
		req.mu.Unlock()
		rc.mu.Unlock()

		return rc.wait(ctx, req, notify)
	}

	req = &inFlightFetch{
		waiters: make([]chan struct{}, 0),
	}
	rc.inFlight[key] = req
	rc.mu.Unlock()

	go func() {
		series, err := fn()

		req.mu.Lock()
		req.series = series
		req.err = err
		req.done = true
		waiters := req.waiters
		req.waiters = nil
		req.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		rc.cleanup(key)
	}()

	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		series := req.series
		err := req.err
		req.mu.Unlock()
		return series, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	return rc.wait(ctx, req, notify)
}

func (rc *requestCoalescer) wait(ctx context.Context, req *inFlightFetch, notify chan struct{}) (models.ForecastSeries, error) {
	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		series := req.series
		err := req.err
		req.mu.Unlock()
		return series, err
	case <-waitCtx.Done():
		return models.ForecastSeries{}, waitCtx.Err()
	}
}

// cleanup removes the in-flight entry for key. Called after the fetch completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}

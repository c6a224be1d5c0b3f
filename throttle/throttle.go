// Package throttle limits how many connections a single remote host may open
// within a fixed time window.
package throttle

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Throttle counts connection attempts per host in fixed windows backed by an
// expiring in-memory cache. Safe for concurrent use.
type Throttle struct {
	limit  int
	window time.Duration
	counts *cache.Cache
}

// New creates a Throttle admitting at most limit connections per host in
// each window. A limit <= 0 disables throttling.
//
// Parameters:
//   - limit: Maximum connections per host per window
//   - window: Length of the counting window
//
// Returns:
//   - A new Throttle
func New(limit int, window time.Duration) *Throttle {
	if window <= 0 {
		window = time.Minute
	}

	return &Throttle{
		limit:  limit,
		window: window,
		counts: cache.New(window, 2*window),
	}
}

// Allow records one attempt from host and reports whether it is within the limit.
//
// Parameters:
//   - host: The remote host (without port)
//
// Returns:
//   - true if the connection should be accepted
func (t *Throttle) Allow(host string) bool {
	if t.limit <= 0 {
		return true
	}

	if err := t.counts.Add(host, 1, t.window); err == nil {
		return true
	}

	n, err := t.counts.IncrementInt(host, 1)
	if err != nil {
		// expired between Add and IncrementInt; this attempt opens a new window
		t.counts.Set(host, 1, t.window)
		return true
	}

	return n <= t.limit
}

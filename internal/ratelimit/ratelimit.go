// Package ratelimit implements per-subscriber fixed-window admission
// control. The window resets lazily on the first check after it expires;
// denials never increment the counter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of messages admitted per window.
	DefaultLimit = 30
	// DefaultWindow is the fixed admission window.
	DefaultWindow = 24 * time.Hour
)

// Decision reports the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
}

// Limiter is the admission-control interface consumed by the pipeline.
// Implementations must be atomic per subscriber: concurrent checks for the
// same subscriber must never admit more than the limit within one window.
type Limiter interface {
	CheckAndAdmit(ctx context.Context, subscriberID string) (Decision, error)
}

type window struct {
	count       int
	windowStart time.Time
}

// Store is an in-memory Limiter suitable for a single process instance.
type Store struct {
	mu       sync.Mutex
	limit    int
	duration time.Duration
	windows  map[string]*window
	now      func() time.Time
}

// NewStore creates a Store. Non-positive arguments fall back to the
// defaults.
func NewStore(limit int, duration time.Duration) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if duration <= 0 {
		duration = DefaultWindow
	}
	return &Store{
		limit:    limit,
		duration: duration,
		windows:  make(map[string]*window),
		now:      time.Now,
	}
}

// CheckAndAdmit resets the subscriber's window if it has expired, then
// admits the request iff the counter is below the limit. The counter is
// only incremented on admission.
func (s *Store) CheckAndAdmit(_ context.Context, subscriberID string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[subscriberID]
	if !ok {
		w = &window{windowStart: now}
		s.windows[subscriberID] = w
	}

	if now.Sub(w.windowStart) >= s.duration {
		w.count = 0
		w.windowStart = now
	}

	if w.count >= s.limit {
		return Decision{Allowed: false, Count: w.count, Limit: s.limit}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count, Limit: s.limit}, nil
}

// Package ratelimit implements sliding-window request limiting keyed by
// caller identity (API-key ID or client IP).
//
// The limiter keeps a time-sorted slice of accepted request timestamps per
// identity and counts entries inside trailing minute, hour, and day windows.
// Rejected requests are never recorded, so a rejection can never consume
// quota. Eviction is lazy: each access drops entries older than the retention
// horizon, and no background sweep is required.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// WindowMinute is the trailing minute window.
	WindowMinute = time.Minute
	// WindowHour is the trailing hour window.
	WindowHour = time.Hour
	// WindowDay is the trailing day window, which is also the retention
	// horizon for recorded timestamps.
	WindowDay = 24 * time.Hour
)

type (
	// Limits bundles the per-window ceilings applied on each check. A zero
	// ceiling disables the corresponding window.
	Limits struct {
		PerMinute int
		PerHour   int
		PerDay    int
	}

	// Remaining reports the unused quota per window.
	Remaining struct {
		Minute int
		Hour   int
		Day    int
	}

	// ResetTimes reports, per window, the instant at which the oldest counted
	// request leaves the window. Zero values mean the identity has no history.
	ResetTimes struct {
		Minute time.Time
		Hour   time.Time
		Day    time.Time
	}

	// Limiter is the multi-window limiter used by the guardrail layer. It is
	// safe for concurrent use; the mutex bounds only map and slice mutation.
	Limiter struct {
		mu      sync.Mutex
		now     func() time.Time
		history map[string][]time.Time
	}

	// Option configures a Limiter or KeyLimiter.
	Option func(*options)

	options struct {
		now func() time.Time
	}
)

// WithClock overrides the time source. Tests use it to drive window expiry
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// New returns an empty multi-window Limiter.
func New(opts ...Option) *Limiter {
	o := buildOptions(opts)
	return &Limiter{
		now:     o.now,
		history: make(map[string][]time.Time),
	}
}

// Check applies limits to identity. It returns true and records the request
// when every window has headroom; it returns false and records nothing when
// any window count has reached its ceiling.
func (l *Limiter) Check(identity string, limits Limits) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.history[identity], now)

	if exceeded(kept, now, WindowMinute, limits.PerMinute) ||
		exceeded(kept, now, WindowHour, limits.PerHour) ||
		exceeded(kept, now, WindowDay, limits.PerDay) {
		l.history[identity] = kept
		return false
	}
	l.history[identity] = append(kept, now)
	return true
}

// Remaining returns the per-window headroom for identity under limits. An
// identity with no history reports the full quota.
func (l *Limiter) Remaining(identity string, limits Limits) Remaining {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.history[identity], now)
	l.history[identity] = kept

	return Remaining{
		Minute: headroom(kept, now, WindowMinute, limits.PerMinute),
		Hour:   headroom(kept, now, WindowHour, limits.PerHour),
		Day:    headroom(kept, now, WindowDay, limits.PerDay),
	}
}

// ResetAt returns, per window, when the oldest counted request expires.
func (l *Limiter) ResetAt(identity string) ResetTimes {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.history[identity], now)
	l.history[identity] = kept

	return ResetTimes{
		Minute: resetAt(kept, now, WindowMinute),
		Hour:   resetAt(kept, now, WindowHour),
		Day:    resetAt(kept, now, WindowDay),
	}
}

// Reset clears all recorded history. Tests use it for isolation.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = make(map[string][]time.Time)
}

// prune drops timestamps outside the retention horizon. Entries in the future
// relative to now are kept (clock regressions are tolerated) but never
// counted by the window helpers.
func prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-WindowDay)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	kept := make([]time.Time, len(ts)-i)
	copy(kept, ts[i:])
	return kept
}

// countWindow counts entries inside (now-window, now]. A timestamp after now
// contributes nothing, which makes a regressed clock observe empty windows.
func countWindow(ts []time.Time, now time.Time, window time.Duration) int {
	start := now.Add(-window)
	n := 0
	for _, t := range ts {
		if t.After(start) && !t.After(now) {
			n++
		}
	}
	return n
}

func exceeded(ts []time.Time, now time.Time, window time.Duration, limit int) bool {
	if limit <= 0 {
		return false
	}
	return countWindow(ts, now, window) >= limit
}

func headroom(ts []time.Time, now time.Time, window time.Duration, limit int) int {
	if limit <= 0 {
		return 0
	}
	r := limit - countWindow(ts, now, window)
	if r < 0 {
		return 0
	}
	return r
}

func resetAt(ts []time.Time, now time.Time, window time.Duration) time.Time {
	start := now.Add(-window)
	for _, t := range ts {
		if t.After(start) && !t.After(now) {
			return t.Add(window)
		}
	}
	return time.Time{}
}

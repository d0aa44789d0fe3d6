package ratelimit

import (
	"sync"
	"time"
)

// KeyLimiter is the single-window variant used by the API-key middleware. It
// tracks only the trailing minute and accepts the ceiling per call, so a key
// with a custom rate limit overrides its organization default without
// separate limiter instances.
type KeyLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	history map[string][]time.Time
}

// NewKeyLimiter returns an empty per-key minute limiter.
func NewKeyLimiter(opts ...Option) *KeyLimiter {
	o := buildOptions(opts)
	return &KeyLimiter{
		now:     o.now,
		history: make(map[string][]time.Time),
	}
}

// Allow records and admits the request when fewer than limit requests were
// accepted in the trailing minute; otherwise it rejects without recording.
// A non-positive limit admits everything.
func (k *KeyLimiter) Allow(keyID string, limit int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	kept := pruneWindow(k.history[keyID], now, WindowMinute)
	if limit > 0 && countWindow(kept, now, WindowMinute) >= limit {
		k.history[keyID] = kept
		return false
	}
	k.history[keyID] = append(kept, now)
	return true
}

// Remaining reports the unused minute quota for keyID under limit.
func (k *KeyLimiter) Remaining(keyID string, limit int) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	kept := pruneWindow(k.history[keyID], now, WindowMinute)
	k.history[keyID] = kept
	return headroom(kept, now, WindowMinute, limit)
}

// ResetAt reports when the oldest counted request leaves the minute window.
// The zero time means the key has no recorded history.
func (k *KeyLimiter) ResetAt(keyID string) time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	kept := pruneWindow(k.history[keyID], now, WindowMinute)
	k.history[keyID] = kept
	return resetAt(kept, now, WindowMinute)
}

// Reset clears all recorded history.
func (k *KeyLimiter) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.history = make(map[string][]time.Time)
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
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

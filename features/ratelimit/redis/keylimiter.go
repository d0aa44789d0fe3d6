package redis

import (
	"context"
	"time"

	"goa.design/clue/log"
)

// KeyLimiter adapts Client to the synchronous per-key limiter contract the
// authentication middleware consumes. Redis errors fail open: an unreachable
// store admits the request rather than blocking all traffic.
type KeyLimiter struct {
	c Client
}

// NewKeyLimiter wraps c for use as an apikey middleware limiter.
func NewKeyLimiter(c Client) *KeyLimiter {
	return &KeyLimiter{c: c}
}

// Allow admits the request when the key has headroom under limit. Errors are
// logged and admit.
func (l *KeyLimiter) Allow(keyID string, limit int) bool {
	ctx := log.Context(context.Background())
	ok, err := l.c.Allow(ctx, keyID, limit)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "rate limit check failed, admitting"}, log.KV{K: "key", V: keyID})
		return true
	}
	return ok
}

// Remaining reports the unused minute quota. Errors report zero.
func (l *KeyLimiter) Remaining(keyID string, limit int) int {
	n, err := l.c.Remaining(context.Background(), keyID, limit)
	if err != nil {
		return 0
	}
	return n
}

// ResetAt reports when the oldest counted request leaves the window.
func (l *KeyLimiter) ResetAt(keyID string) time.Time {
	at, err := l.c.ResetAt(context.Background(), keyID)
	if err != nil {
		return time.Time{}
	}
	return at
}

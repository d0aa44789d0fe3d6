// Package redis implements a Redis-backed sliding-window rate limiter for
// multi-process deployments. Each identity maps to a sorted set of request
// timestamps; admission counts members inside the trailing minute. The
// check-then-record sequence is pipelined but not transactional, so admission
// is a soft guarantee across processes.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/clue/health"
)

const (
	defaultPrefix  = "switchboard:ratelimit:"
	defaultTimeout = 2 * time.Second
	clientName     = "ratelimit-redis"
	window         = time.Minute
)

// Client exposes the Redis-backed per-key minute limiter.
type Client interface {
	health.Pinger

	// Allow admits the request when fewer than limit requests were accepted
	// in the trailing minute, recording it on admission. A non-positive
	// limit admits everything.
	Allow(ctx context.Context, keyID string, limit int) (bool, error)
	// Remaining reports the unused minute quota for keyID under limit.
	Remaining(ctx context.Context, keyID string, limit int) (int, error)
	// ResetAt reports when the oldest counted request leaves the window. The
	// zero time means no history.
	ResetAt(ctx context.Context, keyID string) (time.Time, error)
}

// Options configures the Redis client implementation.
type Options struct {
	Client *redis.Client
	// Prefix namespaces limiter keys, default "switchboard:ratelimit:".
	Prefix  string
	Timeout time.Duration
	// Now overrides the time source for tests.
	Now func() time.Time
}

type client struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// New returns a Client backed by the provided Redis client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &client{rdb: opts.Client, prefix: prefix, timeout: timeout, now: now}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *client) Allow(ctx context.Context, keyID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	key := c.prefix + keyID
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := c.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if card.Val() >= int64(limit) {
		return false, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	record := c.rdb.Pipeline()
	record.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	record.Expire(ctx, key, window+time.Second)
	_, err := record.Exec(ctx)
	return err == nil, err
}

func (c *client) Remaining(ctx context.Context, keyID string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	n, err := c.rdb.ZCount(ctx, c.prefix+keyID, "("+cutoff, "+inf").Result()
	if err != nil {
		return 0, err
	}
	r := limit - int(n)
	if r < 0 {
		r = 0
	}
	return r, nil
}

func (c *client) ResetAt(ctx context.Context, keyID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vals, err := c.rdb.ZRangeWithScores(ctx, c.prefix+keyID, 0, 0).Result()
	if err != nil || len(vals) == 0 {
		return time.Time{}, err
	}
	oldest := time.Unix(0, int64(vals[0].Score))
	return oldest.Add(window), nil
}

// Package middleware provides reusable model.Client middlewares. The rate
// limiter protects the small-LLM intent tier from request storms: the
// deterministic tiers keep serving while the limiter smooths provider
// traffic.
package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/switchboard-ai/switchboard/runtime/intent/model"
)

type limitedClient struct {
	next    model.Client
	limiter *rate.Limiter
}

// RateLimit returns a middleware that admits at most rpm completions per
// minute with a burst of burst. Callers block until capacity is available or
// their context expires. Non-positive rpm disables the limiter.
func RateLimit(rpm, burst int) model.Middleware {
	return func(next model.Client) model.Client {
		if next == nil || rpm <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		return &limitedClient{
			next:    next,
			limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		}
	}
}

// Complete waits for limiter capacity before delegating.
func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Response{}, fmt.Errorf("model rate limit: %w", err)
	}
	return c.next.Complete(ctx, req)
}

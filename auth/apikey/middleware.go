package apikey

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"
)

type ctxKey struct{}

// WithAuthContext returns a context carrying ac.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext extracts the AuthContext attached by the middleware.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(AuthContext)
	return ac, ok
}

// DefaultPublicPaths are exempt from authentication.
var DefaultPublicPaths = []string{"/health", "/", "/docs", "/openapi.json", "/redoc"}

type (
	// RateLimiter is the per-key minute limiter the middleware enforces.
	// *ratelimit.KeyLimiter implements it in-process; the Redis-backed
	// variant implements it across replicas.
	RateLimiter interface {
		// Allow admits and records the request when the key has headroom
		// under limit.
		Allow(keyID string, limit int) bool
		// Remaining reports the unused minute quota.
		Remaining(keyID string, limit int) int
		// ResetAt reports when the oldest counted request leaves the window.
		ResetAt(keyID string) time.Time
	}

	// Middleware authenticates requests, enforces per-key rate and monthly
	// quota, and records usage after the response is written.
	Middleware struct {
		svc     *Service
		limiter RateLimiter
		public  map[string]struct{}
	}

	// MiddlewareOption configures the Middleware.
	MiddlewareOption func(*Middleware)

	// statusRecorder captures the response status for usage tracking.
	statusRecorder struct {
		http.ResponseWriter
		status int
	}
)

// WithPublicPaths replaces the exempt path set.
func WithPublicPaths(paths ...string) MiddlewareOption {
	return func(m *Middleware) {
		m.public = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			m.public[p] = struct{}{}
		}
	}
}

// NewMiddleware builds the authentication middleware over svc and limiter.
func NewMiddleware(svc *Service, limiter RateLimiter, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{svc: svc, limiter: limiter}
	WithPublicPaths(DefaultPublicPaths...)(m)
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Handler wraps next with authentication, rate limiting, quota enforcement,
// rate-limit headers, and fire-and-forget usage tracking.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.public[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		plaintext, ok := bearerKey(r)
		if !ok {
			NewError(KindMissingKey, "missing API key").WriteHTTP(w)
			return
		}
		ac, err := m.svc.Validate(r.Context(), plaintext)
		if err != nil {
			AsError(err).WriteHTTP(w)
			return
		}

		if !m.limiter.Allow(ac.KeyID, ac.RateLimit) {
			e := NewError(KindRateLimitExceeded, "rate limit exceeded")
			m.setRateHeaders(w, ac)
			e.WriteHTTP(w)
			return
		}
		if _, err := m.svc.CheckMonthlyQuota(r.Context(), ac.OrganizationID); err != nil {
			AsError(err).WriteHTTP(w)
			return
		}

		m.setRateHeaders(w, ac)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(WithAuthContext(r.Context(), ac)))

		m.trackUsage(r, ac, rec.status, time.Since(start))
	})
}

// setRateHeaders exposes the effective limit, remaining quota, and the reset
// instant of the minute window.
func (m *Middleware) setRateHeaders(w http.ResponseWriter, ac AuthContext) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(ac.RateLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.limiter.Remaining(ac.KeyID, ac.RateLimit)))
	if reset := m.limiter.ResetAt(ac.KeyID); !reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}

// trackUsage records the request asynchronously. Failures are logged and
// never surfaced to the client.
func (m *Middleware) trackUsage(r *http.Request, ac AuthContext, status int, elapsed time.Duration) {
	u := Usage{
		KeyID:          ac.KeyID,
		OrganizationID: ac.OrganizationID,
		Endpoint:       r.URL.Path,
		Method:         r.Method,
		StatusCode:     status,
		ResponseTimeMS: int(elapsed.Milliseconds()),
		IP:             ClientIP(r),
		UserAgent:      r.UserAgent(),
	}
	ctx := log.Context(context.Background())
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Infof(ctx, "usage tracking panic: %v", rec)
			}
		}()
		if err := m.svc.TrackUsage(ctx, u); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "usage tracking failed"}, log.KV{K: "key", V: ac.KeyID})
		}
	}()
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// bearerKey extracts the API key from the Authorization header. Both
// "Bearer <key>" and a bare "<key>" are accepted.
func bearerKey(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	if rest, found := strings.CutPrefix(h, "Bearer "); found {
		return strings.TrimSpace(rest), true
	}
	return h, true
}

// ClientIP honors X-Forwarded-For (first entry), then X-Real-IP, then the
// socket peer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

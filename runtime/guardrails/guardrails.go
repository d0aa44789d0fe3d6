// Package guardrails validates user input before routing and agent output
// before emission. Input checks run in a fixed order (length, rate limit,
// blocked content, PII detection, injection, prompt-preamble markers) and
// each rejection carries a stable user-facing reason. PII is detected and
// audited but never rejected on input; output is redacted instead.
package guardrails

import (
	"context"

	"github.com/switchboard-ai/switchboard/auth/audit"
	"github.com/switchboard-ai/switchboard/auth/ratelimit"
)

// DefaultMaxMessageLength bounds accepted input text.
const DefaultMaxMessageLength = 10000

// Stable rejection reasons. The test suite pins these strings.
const (
	ReasonEmpty           = "message is empty"
	ReasonTooLong         = "message exceeds maximum length"
	ReasonRateLimited     = "rate limit exceeded"
	ReasonBlockedContent  = "message contains blocked content"
	ReasonInjection       = "message contains potential injection"
	ReasonPromptMarkers   = "message contains prompt injection markers"
	ReasonOutputPII       = "response contains sensitive information"
	ReasonOutputInjection = "response contains potential injection"
)

type (
	// Verdict is the outcome of a validation pass.
	Verdict struct {
		OK bool
		// Reason is set on rejection; it is one of the Reason constants.
		Reason string
	}

	// Guardrails bundles the validation state shared across requests.
	Guardrails struct {
		limiter *ratelimit.Limiter
		limits  ratelimit.Limits
		audit   *audit.Logger
		maxLen  int
	}

	// Option configures Guardrails.
	Option func(*Guardrails)
)

// WithMaxMessageLength overrides the input length ceiling.
func WithMaxMessageLength(n int) Option {
	return func(g *Guardrails) {
		if n > 0 {
			g.maxLen = n
		}
	}
}

// WithRateLimits sets the per-identity input limits. Zero limits disable the
// rate step.
func WithRateLimits(limits ratelimit.Limits) Option {
	return func(g *Guardrails) {
		g.limits = limits
	}
}

// New builds Guardrails. limiter and auditLogger may be nil, which disables
// the corresponding steps.
func New(limiter *ratelimit.Limiter, auditLogger *audit.Logger, opts ...Option) *Guardrails {
	g := &Guardrails{
		limiter: limiter,
		audit:   auditLogger,
		maxLen:  DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func accept() Verdict              { return Verdict{OK: true} }
func reject(reason string) Verdict { return Verdict{Reason: reason} }

// ValidateInput runs the input checks in order under the caller's identity.
func (g *Guardrails) ValidateInput(ctx context.Context, identity, text string) Verdict {
	if len(text) == 0 {
		return reject(ReasonEmpty)
	}
	if len(text) > g.maxLen {
		return reject(ReasonTooLong)
	}

	if g.limiter != nil && !limitsZero(g.limits) {
		if !g.limiter.Check(identity, g.limits) {
			if g.audit != nil {
				g.audit.RateLimitExceeded(ctx, identity, "input")
			}
			return reject(ReasonRateLimited)
		}
	}

	if pattern, ok := matchBlocked(text); ok {
		if g.audit != nil {
			g.audit.BlockedContent(ctx, identity, pattern)
		}
		return reject(ReasonBlockedContent)
	}

	if kinds := DetectPII(text); len(kinds) > 0 && g.audit != nil {
		g.audit.PIIDetected(ctx, identity, kinds)
	}

	if matchInjection(text) {
		return reject(ReasonInjection)
	}
	if matchPromptMarkers(text) {
		return reject(ReasonPromptMarkers)
	}
	return accept()
}

// ValidateOutput checks an already-sanitized response. It rejects remaining
// PII and injection fragments.
func (g *Guardrails) ValidateOutput(_ context.Context, text string) Verdict {
	if len(DetectPII(text)) > 0 {
		return reject(ReasonOutputPII)
	}
	if matchInjection(text) {
		return reject(ReasonOutputInjection)
	}
	return accept()
}

func limitsZero(l ratelimit.Limits) bool {
	return l.PerMinute <= 0 && l.PerHour <= 0 && l.PerDay <= 0
}

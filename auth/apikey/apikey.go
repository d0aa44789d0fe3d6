// Package apikey implements API-key authentication: the domain model, the
// repository contracts, the validation service, and the HTTP middleware that
// derives a per-request AuthContext from a bearer key.
package apikey

import (
	"context"
	"time"
)

type (
	// Organization owns API keys and usage quotas.
	Organization struct {
		ID     string `json:"id" bson:"_id"`
		Slug   string `json:"slug" bson:"slug"`
		Email  string `json:"email" bson:"email"`
		Plan   string `json:"plan" bson:"plan"`
		Active bool   `json:"is_active" bson:"is_active"`
		// MonthlyLimit caps requests per calendar month.
		MonthlyLimit int `json:"monthly_limit" bson:"monthly_limit"`
		// RateLimit is the default per-minute rate for the org's keys.
		RateLimit int `json:"rate_limit" bson:"rate_limit"`
		// MaxKeys caps concurrently active keys.
		MaxKeys   int       `json:"max_api_keys" bson:"max_api_keys"`
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
	}

	// Key is the persisted API-key record. The plaintext never appears here.
	Key struct {
		ID             string `json:"id" bson:"_id"`
		OrganizationID string `json:"organization_id" bson:"organization_id"`
		// Prefix is the environment prefix, e.g. "pk_live_".
		Prefix string `json:"key_prefix" bson:"key_prefix"`
		// Hash is the lowercase hex SHA-256 of the plaintext.
		Hash string `json:"-" bson:"key_hash"`
		// Hint is the last four token characters, for display.
		Hint        string   `json:"key_hint" bson:"key_hint"`
		Name        string   `json:"name" bson:"name"`
		Environment string   `json:"environment" bson:"environment"`
		Scopes      []string `json:"scopes" bson:"scopes"`
		// CustomRateLimit overrides the org default when set.
		CustomRateLimit *int       `json:"custom_rate_limit,omitempty" bson:"custom_rate_limit,omitempty"`
		Active          bool       `json:"is_active" bson:"is_active"`
		CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
		LastUsedAt      *time.Time `json:"last_used_at,omitempty" bson:"last_used_at,omitempty"`
		ExpiresAt       *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
		RevokedAt       *time.Time `json:"revoked_at,omitempty" bson:"revoked_at,omitempty"`
		RevokedReason   string     `json:"revoked_reason,omitempty" bson:"revoked_reason,omitempty"`
		RevokedBy       string     `json:"revoked_by,omitempty" bson:"revoked_by,omitempty"`
		TotalRequests   int64      `json:"total_requests" bson:"total_requests"`
	}

	// Usage is one immutable request record.
	Usage struct {
		ID             string    `json:"id" bson:"_id"`
		KeyID          string    `json:"api_key_id" bson:"api_key_id"`
		OrganizationID string    `json:"organization_id" bson:"organization_id"`
		Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
		Endpoint       string    `json:"endpoint" bson:"endpoint"`
		Method         string    `json:"method" bson:"method"`
		StatusCode     int       `json:"status_code" bson:"status_code"`
		ResponseTimeMS int       `json:"response_time_ms,omitempty" bson:"response_time_ms,omitempty"`
		TokensUsed     int       `json:"tokens_used" bson:"tokens_used"`
		CostUSD        float64   `json:"cost_usd" bson:"cost_usd"`
		IP             string    `json:"ip,omitempty" bson:"ip,omitempty"`
		UserAgent      string    `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
		ErrorCode      string    `json:"error_code,omitempty" bson:"error_code,omitempty"`
		ErrorMessage   string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	}

	// AuthContext is the request-scoped identity derived from a validated
	// key. It is attached to the request context and never persisted.
	AuthContext struct {
		KeyID          string
		OrganizationID string
		Scopes         []string
		// RateLimit is the effective per-minute rate: the key's custom limit
		// when set, the org default otherwise.
		RateLimit    int
		Environment  string
		MonthlyLimit int
	}

	// OrganizationRepository persists organizations.
	OrganizationRepository interface {
		Insert(ctx context.Context, org Organization) error
		ByID(ctx context.Context, id string) (Organization, bool, error)
		BySlug(ctx context.Context, slug string) (Organization, bool, error)
		List(ctx context.Context) ([]Organization, error)
	}

	// APIKeyRepository persists key records. ByHash is the hot path; it must
	// be indexed by the unique key hash.
	APIKeyRepository interface {
		Insert(ctx context.Context, key Key) error
		ByID(ctx context.Context, id string) (Key, bool, error)
		ByHash(ctx context.Context, hash string) (Key, bool, error)
		ByOrganization(ctx context.Context, orgID string) ([]Key, error)
		CountActive(ctx context.Context, orgID string) (int, error)
		Update(ctx context.Context, key Key) error
		// Touch records an authenticated use by updating last_used_at.
		Touch(ctx context.Context, id string, when time.Time) error
		// IncrementRequests bumps the key's total-requests counter.
		IncrementRequests(ctx context.Context, id string) error
	}

	// UsageRepository persists usage rows.
	UsageRepository interface {
		Insert(ctx context.Context, u Usage) error
		CountMonth(ctx context.Context, orgID string, year int, month time.Month) (int, error)
		ListMonth(ctx context.Context, orgID string, year int, month time.Month) ([]Usage, error)
	}
)

// HasScope reports whether scopes satisfies required. The wildcard "*"
// satisfies everything.
func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == "*" || s == required {
			return true
		}
	}
	return false
}

// HasAnyScope reports whether scopes satisfies at least one required scope.
// An empty required set is satisfied.
func HasAnyScope(scopes []string, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if HasScope(scopes, r) {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether scopes satisfies every required scope.
func HasAllScopes(scopes []string, required ...string) bool {
	for _, r := range required {
		if !HasScope(scopes, r) {
			return false
		}
	}
	return true
}

package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-ai/switchboard/auth/audit"
	"github.com/switchboard-ai/switchboard/auth/keygen"
)

// DefaultScopes is applied when a key is created without explicit scopes.
var DefaultScopes = []string{"*"}

type (
	// Service owns the high-level API-key operations over the repositories.
	Service struct {
		orgs  OrganizationRepository
		keys  APIKeyRepository
		usage UsageRepository
		audit *audit.Logger
		now   func() time.Time
	}

	// ServiceOption configures a Service.
	ServiceOption func(*Service)

	// OrgParams are the inputs to CreateOrganization.
	OrgParams struct {
		Slug  string
		Email string
		// Plan defaults to "free".
		Plan string
		// MonthlyLimit of zero means unlimited.
		MonthlyLimit int
		// RateLimit defaults to DefaultOrgRateLimit requests per minute.
		RateLimit int
		// MaxKeys defaults to DefaultOrgMaxKeys.
		MaxKeys int
	}

	// CreateParams are the inputs to Create.
	CreateParams struct {
		OrganizationID string
		Name           string
		Environment    string
		// Scopes defaults to DefaultScopes when empty.
		Scopes          []string
		CustomRateLimit *int
		// ExpiresInDays leaves the key non-expiring when zero.
		ExpiresInDays int
	}
)

// WithAudit records authentication outcomes to the audit log.
func WithAudit(l *audit.Logger) ServiceOption {
	return func(s *Service) { s.audit = l }
}

// WithNow overrides the time source for tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service over the given repositories.
func NewService(orgs OrganizationRepository, keys APIKeyRepository, usage UsageRepository, opts ...ServiceOption) *Service {
	s := &Service{orgs: orgs, keys: keys, usage: usage, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Organization defaults.
const (
	DefaultOrgPlan      = "free"
	DefaultOrgRateLimit = 60
	DefaultOrgMaxKeys   = 5
)

// CreateOrganization registers a new active organization. The slug must be
// unique.
func (s *Service) CreateOrganization(ctx context.Context, p OrgParams) (Organization, error) {
	if p.Slug == "" {
		return Organization{}, NewError(KindOrgInactive, "organization slug is required")
	}
	if _, found, err := s.orgs.BySlug(ctx, p.Slug); err != nil {
		return Organization{}, WrapError(KindStorage, "organization lookup failed", err)
	} else if found {
		return Organization{}, NewError(KindOrgInactive,
			fmt.Sprintf("organization %q already exists", p.Slug))
	}
	org := Organization{
		ID:           uuid.NewString(),
		Slug:         p.Slug,
		Email:        p.Email,
		Plan:         p.Plan,
		Active:       true,
		MonthlyLimit: p.MonthlyLimit,
		RateLimit:    p.RateLimit,
		MaxKeys:      p.MaxKeys,
		CreatedAt:    s.now(),
	}
	if org.Plan == "" {
		org.Plan = DefaultOrgPlan
	}
	if org.RateLimit <= 0 {
		org.RateLimit = DefaultOrgRateLimit
	}
	if org.MaxKeys <= 0 {
		org.MaxKeys = DefaultOrgMaxKeys
	}
	if err := s.orgs.Insert(ctx, org); err != nil {
		return Organization{}, WrapError(KindStorage, "organization persistence failed", err)
	}
	return org, nil
}

// Organization fetches one organization by id.
func (s *Service) Organization(ctx context.Context, id string) (Organization, bool, error) {
	org, found, err := s.orgs.ByID(ctx, id)
	if err != nil {
		return Organization{}, false, WrapError(KindStorage, "organization lookup failed", err)
	}
	return org, found, nil
}

// Organizations lists every organization.
func (s *Service) Organizations(ctx context.Context) ([]Organization, error) {
	orgs, err := s.orgs.List(ctx)
	if err != nil {
		return nil, WrapError(KindStorage, "organization listing failed", err)
	}
	return orgs, nil
}

// Validate authenticates a plaintext key and derives the AuthContext. Every
// failure path returns a typed *Error with its fixed status.
func (s *Service) Validate(ctx context.Context, plaintext string) (AuthContext, error) {
	fail := func(e *Error) (AuthContext, error) {
		if s.audit != nil {
			s.audit.Authentication(ctx, "", false, string(e.Kind))
		}
		return AuthContext{}, e
	}

	if !keygen.ValidateFormat(plaintext) {
		return fail(NewError(KindInvalidKey, "invalid API key"))
	}
	key, found, err := s.keys.ByHash(ctx, keygen.Hash(plaintext))
	if err != nil {
		return AuthContext{}, WrapError(KindStorage, "key lookup failed", err)
	}
	if !found || !key.Active {
		return fail(NewError(KindInvalidKey, "invalid API key"))
	}
	if key.RevokedAt != nil {
		return fail(NewError(KindRevokedKey, "API key has been revoked"))
	}
	now := s.now()
	if key.ExpiresAt != nil && key.ExpiresAt.Before(now) {
		return fail(NewError(KindExpiredKey, "API key has expired"))
	}
	org, found, err := s.orgs.ByID(ctx, key.OrganizationID)
	if err != nil {
		return AuthContext{}, WrapError(KindStorage, "organization lookup failed", err)
	}
	if !found || !org.Active {
		return fail(NewError(KindOrgInactive, "organization is inactive"))
	}
	if err := s.keys.Touch(ctx, key.ID, now); err != nil {
		return AuthContext{}, WrapError(KindStorage, "key touch failed", err)
	}
	if s.audit != nil {
		s.audit.Authentication(ctx, key.ID, true, "")
	}

	rate := org.RateLimit
	if key.CustomRateLimit != nil {
		rate = *key.CustomRateLimit
	}
	return AuthContext{
		KeyID:          key.ID,
		OrganizationID: org.ID,
		Scopes:         key.Scopes,
		RateLimit:      rate,
		Environment:    key.Environment,
		MonthlyLimit:   org.MonthlyLimit,
	}, nil
}

// Create generates a key for an active organization under its key budget.
// The plaintext is returned exactly once and never persisted.
func (s *Service) Create(ctx context.Context, p CreateParams) (Key, string, error) {
	org, found, err := s.orgs.ByID(ctx, p.OrganizationID)
	if err != nil {
		return Key{}, "", WrapError(KindStorage, "organization lookup failed", err)
	}
	if !found {
		return Key{}, "", NewError(KindOrgInactive, "organization not found")
	}
	if !org.Active {
		return Key{}, "", NewError(KindOrgInactive, "organization is inactive")
	}
	active, err := s.keys.CountActive(ctx, org.ID)
	if err != nil {
		return Key{}, "", WrapError(KindStorage, "key count failed", err)
	}
	if active >= org.MaxKeys {
		return Key{}, "", NewError(KindKeyLimitExceeded,
			fmt.Sprintf("organization already has %d active keys", active))
	}

	gen, err := keygen.New(p.Environment)
	if err != nil {
		return Key{}, "", WrapError(KindGeneration, "key generation failed", err)
	}
	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), DefaultScopes...)
	}
	now := s.now()
	key := Key{
		ID:              uuid.NewString(),
		OrganizationID:  org.ID,
		Prefix:          gen.KeyPrefix,
		Hash:            gen.KeyHash,
		Hint:            gen.KeyHint,
		Name:            p.Name,
		Environment:     p.Environment,
		Scopes:          scopes,
		CustomRateLimit: p.CustomRateLimit,
		Active:          true,
		CreatedAt:       now,
	}
	if p.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, p.ExpiresInDays)
		key.ExpiresAt = &exp
	}
	if err := s.keys.Insert(ctx, key); err != nil {
		return Key{}, "", WrapError(KindStorage, "key persistence failed", err)
	}
	return key, gen.FullKey, nil
}

// Revoke terminates a key. Revoking an already-revoked key is a no-op that
// returns the existing terminal state without touching revoked_at.
func (s *Service) Revoke(ctx context.Context, keyID, reason, revokedBy string) (Key, error) {
	key, found, err := s.keys.ByID(ctx, keyID)
	if err != nil {
		return Key{}, WrapError(KindStorage, "key lookup failed", err)
	}
	if !found {
		return Key{}, NewError(KindInvalidKey, "unknown API key")
	}
	if key.RevokedAt != nil {
		return key, nil
	}
	now := s.now()
	key.RevokedAt = &now
	key.RevokedReason = reason
	key.RevokedBy = revokedBy
	key.Active = false
	if err := s.keys.Update(ctx, key); err != nil {
		return Key{}, WrapError(KindStorage, "key update failed", err)
	}
	if s.audit != nil {
		s.audit.DataAccess(ctx, revokedBy, "api_key:"+keyID, "revoke")
	}
	return key, nil
}

// List returns the organization's key records. Records are already redacted:
// the plaintext is never stored.
func (s *Service) List(ctx context.Context, orgID string) ([]Key, error) {
	keys, err := s.keys.ByOrganization(ctx, orgID)
	if err != nil {
		return nil, WrapError(KindStorage, "key listing failed", err)
	}
	return keys, nil
}

// CheckMonthlyQuota verifies the organization's calendar-month usage against
// its limit and returns the current count.
func (s *Service) CheckMonthlyQuota(ctx context.Context, orgID string) (int, error) {
	org, found, err := s.orgs.ByID(ctx, orgID)
	if err != nil {
		return 0, WrapError(KindStorage, "organization lookup failed", err)
	}
	if !found {
		return 0, NewError(KindOrgInactive, "organization not found")
	}
	now := s.now()
	used, err := s.usage.CountMonth(ctx, orgID, now.Year(), now.Month())
	if err != nil {
		return 0, WrapError(KindStorage, "usage count failed", err)
	}
	if org.MonthlyLimit > 0 && used >= org.MonthlyLimit {
		return used, NewError(KindMonthlyQuotaExceeded,
			fmt.Sprintf("monthly quota of %d requests exhausted", org.MonthlyLimit))
	}
	return used, nil
}

// TrackUsage appends a usage row and bumps the key's request counter.
func (s *Service) TrackUsage(ctx context.Context, u Usage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = s.now()
	}
	if err := s.usage.Insert(ctx, u); err != nil {
		return WrapError(KindStorage, "usage persistence failed", err)
	}
	if err := s.keys.IncrementRequests(ctx, u.KeyID); err != nil {
		return WrapError(KindStorage, "key counter update failed", err)
	}
	return nil
}

// UsageForMonth lists an organization's usage rows for a given month.
func (s *Service) UsageForMonth(ctx context.Context, orgID string, year int, month time.Month) ([]Usage, error) {
	rows, err := s.usage.ListMonth(ctx, orgID, year, month)
	if err != nil {
		return nil, WrapError(KindStorage, "usage listing failed", err)
	}
	return rows, nil
}

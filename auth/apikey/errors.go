package apikey

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind identifies an authentication failure class. Each kind carries a fixed
// machine code and HTTP status.
type Kind string

const (
	KindMissingKey           Kind = "missing_api_key"
	KindInvalidKey           Kind = "invalid_api_key"
	KindExpiredKey           Kind = "expired_api_key"
	KindRevokedKey           Kind = "revoked_api_key"
	KindOrgInactive          Kind = "organization_inactive"
	KindInsufficientScope    Kind = "insufficient_scope"
	KindKeyLimitExceeded     Kind = "api_key_limit_exceeded"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindMonthlyQuotaExceeded Kind = "monthly_quota_exceeded"
	KindStorage              Kind = "storage_error"
	KindGeneration           Kind = "generation_error"
)

// statusOf maps kinds to their fixed HTTP status.
var statusOf = map[Kind]int{
	KindMissingKey:           http.StatusUnauthorized,
	KindInvalidKey:           http.StatusUnauthorized,
	KindExpiredKey:           http.StatusUnauthorized,
	KindRevokedKey:           http.StatusUnauthorized,
	KindOrgInactive:          http.StatusForbidden,
	KindInsufficientScope:    http.StatusForbidden,
	KindKeyLimitExceeded:     http.StatusForbidden,
	KindRateLimitExceeded:    http.StatusTooManyRequests,
	KindMonthlyQuotaExceeded: http.StatusTooManyRequests,
	KindStorage:              http.StatusInternalServerError,
	KindGeneration:           http.StatusInternalServerError,
}

// Error is the typed authentication error surfaced at the middleware
// boundary.
type Error struct {
	// Kind classifies the failure.
	Kind Kind `json:"error"`
	// Message is the user-facing description.
	Message string `json:"message"`
	// Status is the HTTP status the middleware responds with.
	Status int `json:"status_code"`
	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind with its fixed status.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Status: statusOf[kind]}
}

// WrapError builds an Error of the given kind wrapping cause.
func WrapError(kind Kind, message string, cause error) *Error {
	e := NewError(kind, message)
	e.Err = cause
	return e
}

// AsError extracts a typed Error from err. Untyped errors map to a storage
// error so the boundary never leaks internals.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindStorage, "internal error")
}

// WriteHTTP serializes e as {error, message, status_code} with its status.
func (e *Error) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(e) //nolint:errcheck // response already committed
}

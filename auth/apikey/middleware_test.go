package apikey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/auth/keygen"
	"github.com/switchboard-ai/switchboard/auth/ratelimit"
)

func newTestMiddleware(t *testing.T) (*Middleware, string, *InmemUsage) {
	t.Helper()
	svc, orgs, _, usage := newTestService(t)
	org := seedOrg(t, orgs, Organization{Active: true, RateLimit: 2, MonthlyLimit: 100})
	_, plaintext, err := svc.Create(context.Background(), CreateParams{
		OrganizationID: org.ID,
		Environment:    keygen.EnvironmentTest,
	})
	require.NoError(t, err)
	return NewMiddleware(svc, ratelimit.NewKeyLimiter(), WithPublicPaths("/health")), plaintext, usage
}

func echoAuth(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		require.True(t, ok)
		require.NotEmpty(t, ac.KeyID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewarePublicPathSkipsAuth(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareMissingKey(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	h := m.Handler(echoAuth(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Status  int    `json:"status_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "missing_api_key", body.Error)
	require.Equal(t, 401, body.Status)
}

func TestMiddlewareInvalidKey(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	h := m.Handler(echoAuth(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer pk_live_wrong")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareSuccessAndHeaders(t *testing.T) {
	m, plaintext, usage := newTestMiddleware(t)
	h := m.Handler(echoAuth(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "switchboard-test")
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	// Usage is recorded asynchronously.
	require.Eventually(t, func() bool {
		rows, err := usage.ListMonth(context.Background(), "org-1", time.Now().Year(), time.Now().Month())
		return err == nil && len(rows) == 1
	}, time.Second, 10*time.Millisecond)

	rows, err := usage.ListMonth(context.Background(), "org-1", time.Now().Year(), time.Now().Month())
	require.NoError(t, err)
	require.Equal(t, "/v1/messages", rows[0].Endpoint)
	require.Equal(t, "POST", rows[0].Method)
	require.Equal(t, http.StatusOK, rows[0].StatusCode)
	require.Equal(t, "203.0.113.9", rows[0].IP)
	require.Equal(t, "switchboard-test", rows[0].UserAgent)
}

func TestMiddlewareBareKeyAccepted(t *testing.T) {
	m, plaintext, _ := newTestMiddleware(t)
	h := m.Handler(echoAuth(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("Authorization", plaintext)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRateLimit(t *testing.T) {
	m, plaintext, _ := newTestMiddleware(t)
	h := m.Handler(echoAuth(t))

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/messages", nil)
		req.Header.Set("Authorization", "Bearer "+plaintext)
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, do().Code)
	require.Equal(t, http.StatusOK, do().Code)

	rec := do()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestClientIPFallbacks(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, "198.51.100.7", ClientIP(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.4:5123"
	require.Equal(t, "192.0.2.4", ClientIP(req))
}

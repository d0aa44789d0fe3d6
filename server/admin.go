package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"goa.design/clue/log"

	"github.com/switchboard-ai/switchboard/auth/apikey"
)

// AdminScope is the scope required by the admin surface.
const AdminScope = "admin"

type (
	createOrgRequest struct {
		Slug         string `json:"slug"`
		Email        string `json:"email"`
		Plan         string `json:"plan"`
		MonthlyLimit int    `json:"monthly_limit"`
		RateLimit    int    `json:"rate_limit"`
		MaxKeys      int    `json:"max_api_keys"`
	}

	createKeyRequest struct {
		Name            string   `json:"name"`
		Environment     string   `json:"environment"`
		Scopes          []string `json:"scopes,omitempty"`
		CustomRateLimit *int     `json:"custom_rate_limit,omitempty"`
		ExpiresInDays   int      `json:"expires_in_days,omitempty"`
	}

	// createKeyResponse is the only place the plaintext key ever appears.
	createKeyResponse struct {
		apikey.Key
		FullKey string `json:"full_key"`
	}

	revokeKeyRequest struct {
		Reason string `json:"reason,omitempty"`
	}

	usageResponse struct {
		OrganizationID string         `json:"organization_id"`
		Year           int            `json:"year"`
		Month          int            `json:"month"`
		TotalRequests  int            `json:"total_requests"`
		Requests       []apikey.Usage `json:"requests"`
	}
)

// requireScope gates a route subtree on an authenticated scope.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := apikey.FromContext(r.Context())
			if !ok || !apikey.HasScope(ac.Scopes, scope) {
				apikey.NewError(apikey.KindInsufficientScope, "scope "+scope+" required").WriteHTTP(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	org, err := s.keys.CreateOrganization(r.Context(), apikey.OrgParams{
		Slug:         req.Slug,
		Email:        req.Email,
		Plan:         req.Plan,
		MonthlyLimit: req.MonthlyLimit,
		RateLimit:    req.RateLimit,
		MaxKeys:      req.MaxKeys,
	})
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.keys.Organizations(r.Context())
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, found, err := s.keys.Organization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	key, plaintext, err := s.keys.Create(r.Context(), apikey.CreateParams{
		OrganizationID:  chi.URLParam(r, "id"),
		Name:            req.Name,
		Environment:     req.Environment,
		Scopes:          req.Scopes,
		CustomRateLimit: req.CustomRateLimit,
		ExpiresInDays:   req.ExpiresInDays,
	})
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	log.Info(r.Context(), log.KV{K: "msg", V: "api key created"}, log.KV{K: "org", V: key.OrganizationID}, log.KV{K: "key", V: key.ID})
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: key, FullKey: plaintext})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	var req revokeKeyRequest
	if r.Body != nil {
		// The reason body is optional; decode errors fall back to empty.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	revokedBy := ""
	if ac, ok := apikey.FromContext(r.Context()); ok {
		revokedBy = ac.KeyID
	}
	key, err := s.keys.Revoke(r.Context(), chi.URLParam(r, "keyID"), req.Reason, revokedBy)
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) organizationUsage(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	year := queryInt(r, "year", now.Year())
	month := queryInt(r, "month", int(now.Month()))
	if month < 1 || month > 12 {
		writeJSONError(w, http.StatusBadRequest, "invalid_month", "month must be 1..12")
		return
	}
	orgID := chi.URLParam(r, "id")
	rows, err := s.keys.UsageForMonth(r.Context(), orgID, year, time.Month(month))
	if err != nil {
		apikey.AsError(err).WriteHTTP(w)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		OrganizationID: orgID,
		Year:           year,
		Month:          month,
		TotalRequests:  len(rows),
		Requests:       rows,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf(log.Context(context.Background()), err, "encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":       code,
		"message":     message,
		"status_code": status,
	})
}

package apikey

import (
	"context"
	"sync"
	"time"
)

// InmemOrganizations is a map-backed OrganizationRepository used in tests and
// single-process deployments.
type InmemOrganizations struct {
	mu   sync.RWMutex
	byID map[string]Organization
}

// NewInmemOrganizations returns an empty repository.
func NewInmemOrganizations() *InmemOrganizations {
	return &InmemOrganizations{byID: make(map[string]Organization)}
}

func (r *InmemOrganizations) Insert(_ context.Context, org Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[org.ID] = org
	return nil
}

func (r *InmemOrganizations) ByID(_ context.Context, id string) (Organization, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.byID[id]
	return org, ok, nil
}

func (r *InmemOrganizations) BySlug(_ context.Context, slug string) (Organization, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, org := range r.byID {
		if org.Slug == slug {
			return org, true, nil
		}
	}
	return Organization{}, false, nil
}

func (r *InmemOrganizations) List(_ context.Context) ([]Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Organization, 0, len(r.byID))
	for _, org := range r.byID {
		out = append(out, org)
	}
	return out, nil
}

// InmemKeys is a map-backed APIKeyRepository.
type InmemKeys struct {
	mu     sync.RWMutex
	byID   map[string]Key
	byHash map[string]string
}

// NewInmemKeys returns an empty repository.
func NewInmemKeys() *InmemKeys {
	return &InmemKeys{byID: make(map[string]Key), byHash: make(map[string]string)}
}

func (r *InmemKeys) Insert(_ context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[key.ID] = key
	r.byHash[key.Hash] = key.ID
	return nil
}

func (r *InmemKeys) ByID(_ context.Context, id string) (Key, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byID[id]
	return key, ok, nil
}

func (r *InmemKeys) ByHash(_ context.Context, hash string) (Key, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[hash]
	if !ok {
		return Key{}, false, nil
	}
	key, ok := r.byID[id]
	return key, ok, nil
}

func (r *InmemKeys) ByOrganization(_ context.Context, orgID string) ([]Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Key
	for _, key := range r.byID {
		if key.OrganizationID == orgID {
			out = append(out, key)
		}
	}
	return out, nil
}

func (r *InmemKeys) CountActive(_ context.Context, orgID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, key := range r.byID {
		if key.OrganizationID == orgID && key.Active {
			n++
		}
	}
	return n, nil
}

func (r *InmemKeys) Update(_ context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[key.ID] = key
	return nil
}

func (r *InmemKeys) Touch(_ context.Context, id string, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[id]
	if !ok {
		return nil
	}
	key.LastUsedAt = &when
	r.byID[id] = key
	return nil
}

func (r *InmemKeys) IncrementRequests(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[id]
	if !ok {
		return nil
	}
	key.TotalRequests++
	r.byID[id] = key
	return nil
}

// InmemUsage is a slice-backed UsageRepository.
type InmemUsage struct {
	mu   sync.RWMutex
	rows []Usage
}

// NewInmemUsage returns an empty repository.
func NewInmemUsage() *InmemUsage {
	return &InmemUsage{}
}

func (r *InmemUsage) Insert(_ context.Context, u Usage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, u)
	return nil
}

func (r *InmemUsage) CountMonth(_ context.Context, orgID string, year int, month time.Month) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.rows {
		if u.OrganizationID == orgID && u.Timestamp.Year() == year && u.Timestamp.Month() == month {
			n++
		}
	}
	return n, nil
}

func (r *InmemUsage) ListMonth(_ context.Context, orgID string, year int, month time.Month) ([]Usage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Usage
	for _, u := range r.rows {
		if u.OrganizationID == orgID && u.Timestamp.Year() == year && u.Timestamp.Month() == month {
			out = append(out, u)
		}
	}
	return out, nil
}

var (
	_ OrganizationRepository = (*InmemOrganizations)(nil)
	_ APIKeyRepository       = (*InmemKeys)(nil)
	_ UsageRepository        = (*InmemUsage)(nil)
)

// Package registry maintains the in-memory set of agent cards known to the
// runtime. Cards arrive from three sources, applied in order: environment
// variables (AGENT_<NAME>_URL / AGENT_<NAME>_CAPABILITIES), a JSON
// configuration file, and programmatic registration. The registry is
// read-mostly: lookups take the read lock and writers are rare.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
)

// DefaultConfigPaths are tried in order when no explicit file is configured.
var DefaultConfigPaths = []string{
	"agents.json",
	"config/agents.json",
	"/etc/switchboard/agents.json",
}

const (
	envPrefix           = "AGENT_"
	envURLSuffix        = "_URL"
	envCapsSuffix       = "_CAPABILITIES"
	capabilitySeparator = ","
)

type (
	// Registry is a name → AgentCard map safe for concurrent use.
	Registry struct {
		mu     sync.RWMutex
		cards  map[string]types.AgentCard
		mirror Mirror
	}

	// Mirror observes dynamic registration changes. The Pulse-backed
	// implementation replicates them across process replicas; the registry
	// works identically without one.
	Mirror interface {
		Registered(card types.AgentCard)
		Unregistered(name string)
	}

	// Option configures a Registry.
	Option func(*Registry)

	configFile struct {
		Agents []types.AgentCard `json:"agents"`
	}
)

// WithMirror attaches a registration mirror.
func WithMirror(m Mirror) Option {
	return func(r *Registry) {
		r.mirror = m
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{cards: make(map[string]types.AgentCard)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ErrMissingName is returned when a card has no name.
var ErrMissingName = errors.New("agent card requires a name")

// Register adds or replaces the card under its name and notifies the mirror.
func (r *Registry) Register(card types.AgentCard) error {
	if card.Name == "" {
		return ErrMissingName
	}
	r.mu.Lock()
	r.cards[card.Name] = card
	mirror := r.mirror
	r.mu.Unlock()

	if mirror != nil {
		mirror.Registered(card)
	}
	return nil
}

// Unregister removes the named card. It reports whether a card was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.cards[name]
	delete(r.cards, name)
	mirror := r.mirror
	r.mu.Unlock()

	if ok && mirror != nil {
		mirror.Unregistered(name)
	}
	return ok
}

// apply stores a card without mirror notification. Used by loaders and by
// mirrors applying remote changes.
func (r *Registry) apply(card types.AgentCard) {
	r.mu.Lock()
	r.cards[card.Name] = card
	r.mu.Unlock()
}

// ApplyRemote stores a card originating from a replica without re-publishing
// it, breaking the replication loop.
func (r *Registry) ApplyRemote(card types.AgentCard) {
	if card.Name == "" {
		return
	}
	r.apply(card)
}

// RemoveRemote removes a card unregistered on a replica.
func (r *Registry) RemoveRemote(name string) {
	r.mu.Lock()
	delete(r.cards, name)
	r.mu.Unlock()
}

// LoadFromEnv scans environ (os.Environ format) for AGENT_<NAME>_URL entries
// and registers one card per match. Names are lowercased; capabilities come
// from the matching AGENT_<NAME>_CAPABILITIES entry, comma-separated. It
// returns the number of cards loaded.
func (r *Registry) LoadFromEnv(environ []string) int {
	urls := make(map[string]string)
	caps := make(map[string]string)
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		switch {
		case strings.HasSuffix(key, envURLSuffix):
			name := key[len(envPrefix) : len(key)-len(envURLSuffix)]
			if name != "" && value != "" {
				urls[strings.ToLower(name)] = value
			}
		case strings.HasSuffix(key, envCapsSuffix):
			name := key[len(envPrefix) : len(key)-len(envCapsSuffix)]
			if name != "" {
				caps[strings.ToLower(name)] = value
			}
		}
	}

	for name, url := range urls {
		r.apply(types.AgentCard{
			Name:         name,
			URL:          url,
			Capabilities: splitCapabilities(caps[name]),
		})
	}
	return len(urls)
}

func splitCapabilities(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, capabilitySeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LoadFromFile reads a JSON file of shape {"agents":[AgentCard, …]} and
// registers every card. Cards without a name are skipped.
func (r *Registry) LoadFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	n := 0
	for _, card := range cfg.Agents {
		if card.Name == "" {
			continue
		}
		r.apply(card)
		n++
	}
	return n, nil
}

// LoadConfig loads from path when non-empty, otherwise from the first
// existing default path. A missing file is not an error when no explicit
// path was given.
func (r *Registry) LoadConfig(path string) (int, error) {
	if path != "" {
		return r.LoadFromFile(path)
	}
	for _, candidate := range DefaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return r.LoadFromFile(candidate)
		}
	}
	return 0, nil
}

// ByName returns the card registered under name. Lookup is case-sensitive.
func (r *Registry) ByName(name string) (types.AgentCard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[name]
	return card, ok
}

// FirstByCapability returns the first card (by name order) advertising the
// capability.
func (r *Registry) FirstByCapability(capability string) (types.AgentCard, bool) {
	for _, card := range r.List() {
		if card.HasCapability(capability) {
			return card, true
		}
	}
	return types.AgentCard{}, false
}

// AllByCapability returns every card advertising the capability, in name
// order.
func (r *Registry) AllByCapability(capability string) []types.AgentCard {
	var out []types.AgentCard
	for _, card := range r.List() {
		if card.HasCapability(capability) {
			out = append(out, card)
		}
	}
	return out
}

// List returns a snapshot of all cards sorted by name.
func (r *Registry) List() []types.AgentCard {
	r.mu.RLock()
	out := make([]types.AgentCard, 0, len(r.cards))
	for _, card := range r.cards {
		out = append(out, card)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted registered agent names.
func (r *Registry) Names() []string {
	cards := r.List()
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.Name
	}
	return names
}

// Capabilities returns the sorted union of all advertised capabilities.
func (r *Registry) Capabilities() []string {
	set := make(map[string]struct{})
	r.mu.RLock()
	for _, card := range r.cards {
		for _, c := range card.Capabilities {
			set[c] = struct{}{}
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of registered cards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cards)
}

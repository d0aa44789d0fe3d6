// Package breaker implements a per-upstream circuit breaker with the classic
// Closed / Open / Half-Open state machine.
//
// The breaker lock is held only across state checks and counter updates and
// is always released before the wrapped call runs, so a slow upstream never
// blocks other callers on breaker state.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State identifies the breaker state.
type State int

const (
	// Closed admits every call and counts consecutive failures.
	Closed State = iota
	// Open fails fast without invoking the wrapped call.
	Open
	// HalfOpen admits a single probe at a time.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOpen is returned when the breaker rejects a call without invoking it.
var ErrOpen = errors.New("circuit breaker open")

type (
	// Config tunes a Breaker. Zero values select the defaults.
	Config struct {
		// FailureThreshold is the number of consecutive failures in Closed
		// that trips the breaker. Default 5.
		FailureThreshold int
		// SuccessThreshold is the number of consecutive Half-Open successes
		// required to close the breaker. Default 2.
		SuccessThreshold int
		// Timeout is how long the breaker stays Open before admitting a
		// probe. Default 60s.
		Timeout time.Duration
		// Clock overrides the time source for tests.
		Clock func() time.Time
	}

	// Breaker guards a single named upstream.
	Breaker struct {
		name string
		cfg  Config

		mu          sync.Mutex
		state       State
		failures    int
		successes   int
		lastFailure time.Time
		probing     bool
	}

	// Snapshot is a point-in-time view of breaker state for observability.
	Snapshot struct {
		Name        string
		State       State
		Failures    int
		Successes   int
		LastFailure time.Time
	}

	// Manager hands out one Breaker per upstream name, creating breakers on
	// first use with a shared configuration.
	Manager struct {
		mu       sync.Mutex
		cfg      Config
		breakers map[string]*Breaker
	}
)

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultTimeout          = 60 * time.Second
)

// New returns a Closed breaker for the named upstream.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

// Name returns the upstream name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Call runs fn under the breaker. In Open it returns ErrOpen without invoking
// fn. In Half-Open at most one caller probes at a time; concurrent callers
// fail fast with ErrOpen.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.after(probe, err)
	return err
}

// before decides admission and transitions Open to Half-Open after the
// timeout. It reports whether the admitted call is a Half-Open probe.
func (b *Breaker) before() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		if b.cfg.Clock().Sub(b.lastFailure) < b.cfg.Timeout {
			return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.state = HalfOpen
		b.successes = 0
		b.probing = true
		return true, nil
	default: // HalfOpen
		if b.probing {
			return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.probing = true
		return true, nil
	}
}

func (b *Breaker) after(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if callErr == nil {
		b.onSuccess()
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Open:
		// A success observed while Open can only come from a call admitted
		// before the trip; it does not change state.
	}
}

func (b *Breaker) onFailure() {
	now := b.cfg.Clock()
	switch b.state {
	case Closed:
		b.failures++
		b.lastFailure = now
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
		b.successes = 0
		b.lastFailure = now
	case Open:
		b.lastFailure = now
	}
}

// Reset forces the breaker back to Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.probing = false
}

// ForceOpen trips the breaker immediately.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Open
	b.lastFailure = b.cfg.Clock()
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// NewManager returns a Manager that builds breakers with cfg on first use.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it if needed.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, m.cfg)
	m.breakers[name] = b
	return b
}

// Snapshots returns a snapshot per known breaker.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

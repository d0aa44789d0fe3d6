// Package audit records security-relevant events as append-only structured
// entries. Events go to a per-day JSONL file under a single writer lock and,
// when configured, to a Store. Audit failures never break the request
// path: write errors are logged out-of-band and swallowed.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"goa.design/clue/log"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event types recorded by the runtime.
const (
	TypeBlockedContent    = "blocked_content"
	TypePIIDetected       = "pii_detected"
	TypeSecurityEvent     = "security_event"
	TypeToolExecution     = "tool_execution"
	TypeRateLimitExceeded = "rate_limit_exceeded"
	TypeAuthentication    = "authentication"
	TypeDataAccess        = "data_access"
	TypeCircuitBreaker    = "circuit_breaker"
	TypeCompliance        = "compliance"
)

type (
	// Event is a single audit record.
	Event struct {
		Timestamp time.Time      `json:"timestamp"`
		Type      string         `json:"event_type"`
		Severity  Severity       `json:"severity"`
		UserID    string         `json:"user_id,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
	}

	// Store mirrors events to durable storage. Implementations must be safe
	// for concurrent use.
	Store interface {
		Append(ctx context.Context, ev Event) error
	}

	// Logger appends events to daily files and an optional Store.
	Logger struct {
		dir   string
		store Store
		now   func() time.Time

		mu sync.Mutex
	}

	// Option configures a Logger.
	Option func(*Logger)
)

// WithStore mirrors every event to the given store.
func WithStore(s Store) Option {
	return func(l *Logger) {
		l.store = s
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New returns a Logger writing daily files under dir. The directory is
// created on first write.
func New(dir string, opts ...Option) *Logger {
	l := &Logger{dir: dir, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Record appends ev, stamping the timestamp when unset. Failures are logged
// and swallowed.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	if err := l.appendFile(ev); err != nil {
		log.Errorf(ctx, err, "audit: file append failed")
	}
	if l.store != nil {
		if err := l.store.Append(ctx, ev); err != nil {
			log.Errorf(ctx, err, "audit: store append failed")
		}
	}
}

// appendFile writes one JSONL line to today's file. The handle is short-lived
// on purpose: a crash can lose at most the line being written.
func (l *Logger) appendFile(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}
	f, err := os.OpenFile(l.path(ev.Timestamp), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (l *Logger) path(ts time.Time) string {
	return filepath.Join(l.dir, "audit_"+ts.Format("20060102")+".jsonl")
}

// Recent returns up to limit events from today's file, newest last, filtered
// by severity and event type when non-empty. Older days are not consulted.
func (l *Logger) Recent(limit int, severity Severity, eventType string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(l.now().UTC()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // skip torn lines
		}
		if severity != "" && ev.Severity != severity {
			continue
		}
		if eventType != "" && ev.Type != eventType {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// BlockedContent records a guardrail content rejection.
func (l *Logger) BlockedContent(ctx context.Context, userID, pattern string) {
	l.Record(ctx, Event{
		Type:     TypeBlockedContent,
		Severity: SeverityWarning,
		UserID:   userID,
		Details:  map[string]any{"pattern": pattern},
	})
}

// PIIDetected records PII found in user content. Only the PII type is
// recorded, never the matched text.
func (l *Logger) PIIDetected(ctx context.Context, userID string, kinds []string) {
	l.Record(ctx, Event{
		Type:     TypePIIDetected,
		Severity: SeverityWarning,
		UserID:   userID,
		Details:  map[string]any{"types": kinds},
	})
}

// SecurityEvent records a generic security observation.
func (l *Logger) SecurityEvent(ctx context.Context, userID, description string, severity Severity) {
	l.Record(ctx, Event{
		Type:     TypeSecurityEvent,
		Severity: severity,
		UserID:   userID,
		Details:  map[string]any{"description": description},
	})
}

// ToolExecution records invocation of a task handler or remote agent.
func (l *Logger) ToolExecution(ctx context.Context, userID, tool string, ok bool) {
	l.Record(ctx, Event{
		Type:     TypeToolExecution,
		Severity: SeverityInfo,
		UserID:   userID,
		Details:  map[string]any{"tool": tool, "success": ok},
	})
}

// RateLimitExceeded records a sliding-window rejection.
func (l *Logger) RateLimitExceeded(ctx context.Context, identity, window string) {
	l.Record(ctx, Event{
		Type:     TypeRateLimitExceeded,
		Severity: SeverityWarning,
		UserID:   identity,
		Details:  map[string]any{"window": window},
	})
}

// Authentication records an authentication outcome.
func (l *Logger) Authentication(ctx context.Context, keyID string, ok bool, reason string) {
	sev := SeverityInfo
	if !ok {
		sev = SeverityWarning
	}
	l.Record(ctx, Event{
		Type:     TypeAuthentication,
		Severity: sev,
		UserID:   keyID,
		Details:  map[string]any{"success": ok, "reason": reason},
	})
}

// DataAccess records access to persisted records.
func (l *Logger) DataAccess(ctx context.Context, userID, resource, action string) {
	l.Record(ctx, Event{
		Type:     TypeDataAccess,
		Severity: SeverityInfo,
		UserID:   userID,
		Details:  map[string]any{"resource": resource, "action": action},
	})
}

// CircuitBreaker records a breaker state transition.
func (l *Logger) CircuitBreaker(ctx context.Context, upstream, state string) {
	l.Record(ctx, Event{
		Type:     TypeCircuitBreaker,
		Severity: SeverityWarning,
		Details:  map[string]any{"upstream": upstream, "state": state},
	})
}

// Compliance records a retention or policy action.
func (l *Logger) Compliance(ctx context.Context, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["action"] = action
	l.Record(ctx, Event{
		Type:     TypeCompliance,
		Severity: SeverityInfo,
		Details:  details,
	})
}

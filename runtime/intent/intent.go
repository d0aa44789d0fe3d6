// Package intent classifies user text into a closed intent set using three
// tiers: a TTL cache, deterministic phrase and keyword tables with
// confidence, and a small LLM consulted only when the deterministic tier is
// uncertain.
package intent

import "sync"

// Intent is the classifier output.
type Intent string

const (
	Tickets  Intent = "tickets"
	Account  Intent = "account"
	Payments Intent = "payments"
	General  Intent = "general"
	Unknown  Intent = "unknown"
)

// Precedence is the fixed tie-break order applied when several intents match
// with equal strength.
var Precedence = []Intent{Tickets, Account, Payments, General}

// All lists every recognized intent, Unknown last.
var All = []Intent{Tickets, Account, Payments, General, Unknown}

// Valid reports whether s names a known intent.
func Valid(s string) bool {
	for _, it := range All {
		if Intent(s) == it {
			return true
		}
	}
	return false
}

// Source identifies which tier produced a classification.
type Source string

const (
	SourceCache         Source = "cache"
	SourceDeterministic Source = "deterministic"
	SourceLLM           Source = "llm"
)

// Result is a terminal classification.
type Result struct {
	Intent     Intent
	Confidence float64
	Source     Source
	// UsedLLM reports whether the LLM tier produced the intent.
	UsedLLM bool
	// Provider names the LLM provider when UsedLLM is true.
	Provider string
}

// Metrics counts classifier activity. All methods are safe for concurrent
// use.
type Metrics struct {
	mu                          sync.Mutex
	totalRequests               int64
	cacheHits                   int64
	deterministicHighConfidence int64
	deterministicLowConfidence  int64
	llmCalls                    int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalRequests               int64
	CacheHits                   int64
	DeterministicHighConfidence int64
	DeterministicLowConfidence  int64
	LLMCalls                    int64
}

func (m *Metrics) incTotal()    { m.mu.Lock(); m.totalRequests++; m.mu.Unlock() }
func (m *Metrics) incCacheHit() { m.mu.Lock(); m.cacheHits++; m.mu.Unlock() }
func (m *Metrics) incHigh()     { m.mu.Lock(); m.deterministicHighConfidence++; m.mu.Unlock() }
func (m *Metrics) incLow()      { m.mu.Lock(); m.deterministicLowConfidence++; m.mu.Unlock() }
func (m *Metrics) incLLM()      { m.mu.Lock(); m.llmCalls++; m.mu.Unlock() }

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalRequests:               m.totalRequests,
		CacheHits:                   m.cacheHits,
		DeterministicHighConfidence: m.deterministicHighConfidence,
		DeterministicLowConfidence:  m.deterministicLowConfidence,
		LLMCalls:                    m.llmCalls,
	}
}

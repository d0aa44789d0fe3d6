// Package memory keeps short-lived per-conversation message logs. The
// in-memory map is authoritative for the request path; when a Store is
// configured every append is mirrored to it and reads fall back to it for
// conversations this process has not seen. Store failures are logged and
// never block the in-memory path.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"
)

// DefaultMaxMessages is the per-conversation tail kept in memory.
const DefaultMaxMessages = 10

// DefaultMaxAge is the idle age after which CleanupOld drops a conversation.
const DefaultMaxAge = 24 * time.Hour

type (
	// Message is one conversational turn.
	Message struct {
		// Role is "user", "agent", or "system".
		Role string `json:"role"`
		// Content is the message text.
		Content string `json:"content"`
		// Metadata carries classification metadata on agent turns.
		Metadata map[string]any `json:"metadata,omitempty"`
		// CreatedAt orders messages within a conversation.
		CreatedAt time.Time `json:"created_at"`
	}

	// Store mirrors conversation messages to durable storage.
	Store interface {
		SaveMessage(ctx context.Context, conversationID string, msg Message) error
		RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	}

	// Memory is the in-process conversation log.
	Memory struct {
		mu    sync.Mutex
		convs map[string]*conversation
		max   int
		store Store
		now   func() time.Time
	}

	conversation struct {
		createdAt   time.Time
		lastUpdated time.Time
		messages    []Message
	}

	// Option configures Memory.
	Option func(*Memory)
)

// WithMaxMessages bounds the in-memory tail per conversation.
func WithMaxMessages(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.max = n
		}
	}
}

// WithStore mirrors appends to a durable store.
func WithStore(s Store) Option {
	return func(m *Memory) {
		m.store = s
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// New returns an empty Memory.
func New(opts ...Option) *Memory {
	m := &Memory{
		convs: make(map[string]*conversation),
		max:   DefaultMaxMessages,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Add appends a message, creating the conversation lazily and trimming the
// tail to the configured window.
func (m *Memory) Add(ctx context.Context, conversationID, role, content string, metadata map[string]any) {
	now := m.now()
	msg := Message{Role: role, Content: content, Metadata: metadata, CreatedAt: now}

	m.mu.Lock()
	conv, ok := m.convs[conversationID]
	if !ok {
		conv = &conversation{createdAt: now}
		m.convs[conversationID] = conv
	}
	conv.messages = append(conv.messages, msg)
	if len(conv.messages) > m.max {
		conv.messages = conv.messages[len(conv.messages)-m.max:]
	}
	conv.lastUpdated = now
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveMessage(ctx, conversationID, msg); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "memory: mirror append failed"}, log.KV{K: "conversation", V: conversationID})
		}
	}
}

// History returns up to max messages in chronological order. When the
// conversation is unknown in memory and a store is configured, the store is
// consulted. max <= 0 returns the full in-memory tail.
func (m *Memory) History(ctx context.Context, conversationID string, max int) []Message {
	m.mu.Lock()
	conv, ok := m.convs[conversationID]
	var tail []Message
	if ok {
		tail = append([]Message(nil), conv.messages...)
	}
	m.mu.Unlock()

	if !ok && m.store != nil {
		limit := max
		if limit <= 0 {
			limit = m.max
		}
		stored, err := m.store.RecentMessages(ctx, conversationID, limit)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "memory: store read failed"}, log.KV{K: "conversation", V: conversationID})
			return nil
		}
		tail = stored
	}
	if max > 0 && len(tail) > max {
		tail = tail[len(tail)-max:]
	}
	return tail
}

// ContextSummary renders the tail as "User:"/"Agent:" lines for handler
// prompts.
func (m *Memory) ContextSummary(ctx context.Context, conversationID string) string {
	var b strings.Builder
	for _, msg := range m.History(ctx, conversationID, 0) {
		switch msg.Role {
		case "user":
			b.WriteString("User: ")
		case "agent":
			b.WriteString("Agent: ")
		default:
			b.WriteString("System: ")
		}
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// CleanupOld drops conversations idle longer than maxAge (DefaultMaxAge when
// non-positive) and reports how many were removed.
func (m *Memory) CleanupOld(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, conv := range m.convs {
		if conv.lastUpdated.Before(cutoff) {
			delete(m.convs, id)
			n++
		}
	}
	return n
}

// Len reports the number of tracked conversations.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

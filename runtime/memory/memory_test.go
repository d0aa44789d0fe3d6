package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	messages map[string][]Message
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string][]Message)}
}

func (s *memStore) SaveMessage(_ context.Context, conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

func (s *memStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func TestAddAndHistory(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.Add(ctx, "c1", "user", "hello", nil)
	m.Add(ctx, "c1", "agent", "hi there", map[string]any{"intent": "general"})

	hist := m.History(ctx, "c1", 0)
	require.Len(t, hist, 2)
	require.Equal(t, "user", hist[0].Role)
	require.Equal(t, "hello", hist[0].Content)
	require.Equal(t, "general", hist[1].Metadata["intent"])

	require.Empty(t, m.History(ctx, "unknown", 0))
}

func TestTailTrimming(t *testing.T) {
	m := New(WithMaxMessages(3))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		m.Add(ctx, "c1", "user", fmt.Sprintf("msg-%d", i), nil)
	}
	hist := m.History(ctx, "c1", 0)
	require.Len(t, hist, 3)
	require.Equal(t, "msg-4", hist[0].Content)
	require.Equal(t, "msg-6", hist[2].Content)

	require.Len(t, m.History(ctx, "c1", 2), 2)
}

func TestContextSummary(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.Add(ctx, "c1", "user", "create a ticket", nil)
	m.Add(ctx, "c1", "agent", "done", nil)

	require.Equal(t, "User: create a ticket\nAgent: done", m.ContextSummary(ctx, "c1"))
	require.Empty(t, m.ContextSummary(ctx, "none"))
}

func TestCleanupOld(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	m.Add(ctx, "old", "user", "x", nil)
	now = now.Add(25 * time.Hour)
	m.Add(ctx, "fresh", "user", "y", nil)

	require.Equal(t, 1, m.CleanupOld(0))
	require.Equal(t, 1, m.Len())
	require.Empty(t, m.History(ctx, "old", 0))
	require.Len(t, m.History(ctx, "fresh", 0), 1)
}

func TestStoreMirroringAndFallback(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	m1 := New(WithStore(store))
	m1.Add(ctx, "c1", "user", "hello", nil)
	m1.Add(ctx, "c1", "agent", "hi", nil)
	require.Len(t, store.messages["c1"], 2)

	// A second process sees the conversation through the store.
	m2 := New(WithStore(store))
	hist := m2.History(ctx, "c1", 5)
	require.Len(t, hist, 2)
	require.Equal(t, "hello", hist[0].Content)
}

func TestStoreErrorsDoNotBlock(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("mongo down")
	m := New(WithStore(store))
	ctx := context.Background()

	m.Add(ctx, "c1", "user", "hello", nil)
	require.Len(t, m.History(ctx, "c1", 0), 1)
}

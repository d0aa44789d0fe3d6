package intent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/runtime/intent/model"
)

type fakeLLM struct {
	calls atomic.Int32
	reply string
	err   error
}

func (f *fakeLLM) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return model.Response{}, f.err
	}
	return model.Response{Text: f.reply}, nil
}

func TestDeterministicStrongPhrases(t *testing.T) {
	cases := map[string]Intent{
		"Please create a ticket for my login problem": Tickets,
		"show me my account":                          Account,
		"I want to make a payment now":                Payments,
		"hello there":                                 General,
	}
	c := New()
	for text, want := range cases {
		res := c.Classify(context.Background(), text)
		require.Equal(t, want, res.Intent, text)
		require.Equal(t, SourceDeterministic, res.Source)
		require.GreaterOrEqual(t, res.Confidence, 0.95)
	}
}

func TestStrongWinsOverWeak(t *testing.T) {
	// "payment" is a weak payments keyword but "create ticket" is strong.
	res := New().Classify(context.Background(), "create ticket about a payment")
	require.Equal(t, Tickets, res.Intent)
}

func TestPrecedenceAmongStrong(t *testing.T) {
	// Both tickets and payments strong phrases match; tickets precedes.
	res := New().Classify(context.Background(), "create ticket and make payment")
	require.Equal(t, Tickets, res.Intent)
}

func TestUnknownWithoutLLM(t *testing.T) {
	res := New().Classify(context.Background(), "zorp the frobnicator")
	require.Equal(t, Unknown, res.Intent)
	require.InDelta(t, 0.30, res.Confidence, 0.001)
	require.False(t, res.UsedLLM)
}

func TestLLMTierOnLowConfidence(t *testing.T) {
	llm := &fakeLLM{reply: "The intent is: payments"}
	c := New(WithLLM(llm, "ollama"))

	res := c.Classify(context.Background(), "zorp the frobnicator")
	require.Equal(t, Payments, res.Intent)
	require.Equal(t, SourceLLM, res.Source)
	require.True(t, res.UsedLLM)
	require.Equal(t, "ollama", res.Provider)
	require.EqualValues(t, 1, llm.calls.Load())
}

func TestLLMNotCalledOnHighConfidence(t *testing.T) {
	llm := &fakeLLM{reply: "general"}
	c := New(WithLLM(llm, "openai"))

	res := c.Classify(context.Background(), "create a ticket")
	require.Equal(t, Tickets, res.Intent)
	require.EqualValues(t, 0, llm.calls.Load())
}

func TestLLMGibberishFallsBackToUnknown(t *testing.T) {
	llm := &fakeLLM{reply: "I cannot determine that"}
	res := New(WithLLM(llm, "openai")).Classify(context.Background(), "zorp")
	require.Equal(t, Unknown, res.Intent)
	require.True(t, res.UsedLLM)
}

func TestLLMErrorFallsThroughToDeterministic(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider down")}
	c := New(WithLLM(llm, "anthropic"))

	// Weak keyword only: deterministic says tickets at 0.60.
	res := c.Classify(context.Background(), "something about an issue maybe")
	require.Equal(t, Tickets, res.Intent)
	require.Equal(t, SourceDeterministic, res.Source)
	require.False(t, res.UsedLLM)
}

func TestCacheStability(t *testing.T) {
	llm := &fakeLLM{reply: "account"}
	c := New(WithLLM(llm, "openai"))
	ctx := context.Background()

	first := c.Classify(ctx, "zorp zorp")
	require.EqualValues(t, 1, llm.calls.Load())

	// Same text within TTL: same intent, no second LLM call.
	for i := 0; i < 5; i++ {
		again := c.Classify(ctx, "zorp zorp")
		require.Equal(t, first.Intent, again.Intent)
		require.Equal(t, SourceCache, again.Source)
	}
	require.EqualValues(t, 1, llm.calls.Load())

	m := c.Metrics()
	require.EqualValues(t, 6, m.TotalRequests)
	require.EqualValues(t, 5, m.CacheHits)
	require.EqualValues(t, 1, m.LLMCalls)
}

func TestCacheNormalizesText(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Classify(ctx, "Create a Ticket")
	res := c.Classify(ctx, "  create a ticket  ")
	require.Equal(t, SourceCache, res.Source)
}

func TestCacheTTLExpiry(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return now }), WithCacheTTL(time.Hour))
	ctx := context.Background()

	c.Classify(ctx, "create a ticket")
	now = now.Add(2 * time.Hour)
	res := c.Classify(ctx, "create a ticket")
	require.Equal(t, SourceDeterministic, res.Source)
}

func TestMetricsCounters(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Classify(ctx, "create a ticket") // high confidence
	c.Classify(ctx, "an issue")        // weak, low confidence
	c.Classify(ctx, "create a ticket") // cache hit

	m := c.Metrics()
	require.EqualValues(t, 3, m.TotalRequests)
	require.EqualValues(t, 1, m.DeterministicHighConfidence)
	require.EqualValues(t, 1, m.DeterministicLowConfidence)
	require.EqualValues(t, 1, m.CacheHits)
	require.EqualValues(t, 0, m.LLMCalls)
}

func TestClassifyStream(t *testing.T) {
	c := New()
	var progress []string
	var final *Result
	for u := range c.ClassifyStream(context.Background(), "create a ticket") {
		if u.Result != nil {
			final = u.Result
			continue
		}
		progress = append(progress, u.Message)
	}
	require.NotEmpty(t, progress)
	require.NotNil(t, final)
	require.Equal(t, Tickets, final.Intent)
}

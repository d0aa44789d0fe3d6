package intent

import (
	"context"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/switchboard-ai/switchboard/runtime/intent/model"
)

// DefaultConfidenceThreshold is the deterministic confidence at or above
// which the LLM tier is skipped.
const DefaultConfidenceThreshold = 0.80

const llmSystemPrompt = "You classify customer support requests. " +
	"Reply with exactly one word: tickets, account, payments, general, or unknown."

type (
	// Classifier runs the three-tier classification.
	Classifier struct {
		cache     *cache
		threshold float64
		llm       model.Client
		provider  string
		useLLM    bool
		metrics   *Metrics
	}

	// Option configures a Classifier.
	Option func(*classifierOptions)

	classifierOptions struct {
		threshold float64
		ttl       time.Duration
		llm       model.Client
		provider  string
		now       func() time.Time
	}

	// StreamUpdate is one item of the streaming classification. Progress
	// updates carry only Message; the terminal update carries Result.
	StreamUpdate struct {
		Message string
		Result  *Result
	}
)

// WithThreshold overrides the deterministic confidence threshold.
func WithThreshold(t float64) Option {
	return func(o *classifierOptions) {
		if t > 0 {
			o.threshold = t
		}
	}
}

// WithCacheTTL overrides the cache entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *classifierOptions) {
		o.ttl = ttl
	}
}

// WithLLM enables the LLM tier with the given client and provider name.
func WithLLM(c model.Client, provider string) Option {
	return func(o *classifierOptions) {
		o.llm = c
		o.provider = provider
	}
}

// WithClock overrides the cache time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *classifierOptions) {
		o.now = now
	}
}

// New builds a Classifier. Without WithLLM the deterministic result is always
// terminal.
func New(opts ...Option) *Classifier {
	o := classifierOptions{
		threshold: DefaultConfidenceThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Classifier{
		cache:     newCache(o.ttl, o.now),
		threshold: o.threshold,
		llm:       o.llm,
		provider:  o.provider,
		useLLM:    o.llm != nil,
		metrics:   &Metrics{},
	}
}

// Metrics returns a snapshot of the classifier counters.
func (c *Classifier) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Classify runs the tiers in order and returns a terminal classification.
// Every terminal result is written to the cache, whichever tier produced it.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	c.metrics.incTotal()

	if cached, ok := c.cache.get(text); ok {
		c.metrics.incCacheHit()
		cached.Source = SourceCache
		return cached
	}

	it, conf := classifyDeterministic(text)
	res := Result{Intent: it, Confidence: conf, Source: SourceDeterministic}
	if conf >= c.threshold {
		c.metrics.incHigh()
		c.cache.put(text, res)
		return res
	}
	c.metrics.incLow()

	if c.useLLM {
		if llmRes, err := c.classifyLLM(ctx, text); err == nil {
			c.cache.put(text, llmRes)
			return llmRes
		} else {
			log.Error(ctx, err, log.KV{K: "msg", V: "intent: llm tier failed, using deterministic result"},
				log.KV{K: "provider", V: c.provider})
		}
	}
	c.cache.put(text, res)
	return res
}

func (c *Classifier) classifyLLM(ctx context.Context, text string) (Result, error) {
	c.metrics.incLLM()
	resp, err := c.llm.Complete(ctx, model.Request{
		System:    llmSystemPrompt,
		Prompt:    "Message: " + text,
		MaxTokens: 8,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Intent:     parseLLMIntent(resp.Text),
		Confidence: 1,
		Source:     SourceLLM,
		UsedLLM:    true,
		Provider:   c.provider,
	}, nil
}

// parseLLMIntent scans the completion for an intent name. Absent any match
// the classification is Unknown.
func parseLLMIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, it := range All {
		if strings.Contains(lower, string(it)) {
			return it
		}
	}
	return Unknown
}

// ClassifyStream emits progress updates followed by exactly one terminal
// update carrying the Result, then closes the channel. Consumers stop at the
// first update with a non-nil Result.
func (c *Classifier) ClassifyStream(ctx context.Context, text string) <-chan StreamUpdate {
	out := make(chan StreamUpdate, 3)
	go func() {
		defer close(out)
		send := func(u StreamUpdate) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(StreamUpdate{Message: "🤔 Analyzing your request..."}) {
			return
		}
		res := c.Classify(ctx, text)
		if res.UsedLLM {
			if !send(StreamUpdate{Message: "🧠 Consulting language model..."}) {
				return
			}
		}
		send(StreamUpdate{Result: &res})
	}()
	return out
}

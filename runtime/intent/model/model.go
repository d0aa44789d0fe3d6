// Package model defines the minimal completion contract consumed by the
// intent classifier's LLM tier. Provider adapters (Anthropic, OpenAI,
// Ollama via the OpenAI-compatible API) implement Client; middlewares wrap
// it.
package model

import "context"

type (
	// Request is a single small-model completion request.
	Request struct {
		// System is the optional system prompt.
		System string
		// Prompt is the user prompt.
		Prompt string
		// MaxTokens caps the completion length. Zero selects the adapter
		// default.
		MaxTokens int
	}

	// Response carries the completion text.
	Response struct {
		Text string
	}

	// Client produces completions. Implementations must be safe for
	// concurrent use.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Middleware wraps a Client with additional behavior.
	Middleware func(Client) Client
)

// Chain applies middlewares to c, outermost first.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			c = mws[i](c)
		}
	}
	return c
}

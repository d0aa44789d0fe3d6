// Package provider selects the intent classifier's LLM backend from the
// environment. Preference order runs local-free to most expensive: Ollama,
// then OpenAI, then Anthropic. LLM_PROVIDER or INTENT_LLM_PROVIDER pins a
// provider explicitly; selection failures downgrade the classifier to its
// deterministic tiers instead of failing startup.
package provider

import (
	"fmt"
	"strings"

	"github.com/switchboard-ai/switchboard/features/model/anthropic"
	"github.com/switchboard-ai/switchboard/features/model/openai"
	"github.com/switchboard-ai/switchboard/runtime/intent/model"
)

// Provider names.
const (
	Ollama    = "ollama"
	OpenAI    = "openai"
	Anthropic = "anthropic"
)

// Env is the subset of the environment the selector reads.
type Env struct {
	Provider        string // LLM_PROVIDER / INTENT_LLM_PROVIDER
	AnthropicAPIKey string // ANTHROPIC_API_KEY
	OpenAIAPIKey    string // OPENAI_API_KEY
	OllamaBaseURL   string // OLLAMA_BASE_URL
	OllamaModel     string // OLLAMA_MODEL
}

// Select returns the configured provider client and its name. When no
// provider is usable it returns (nil, "", error); callers treat that as
// "deterministic only".
func Select(env Env) (model.Client, string, error) {
	switch strings.ToLower(env.Provider) {
	case Ollama:
		return buildOllama(env)
	case OpenAI:
		return buildOpenAI(env)
	case Anthropic:
		return buildAnthropic(env)
	case "":
		// Preference order: local free, then cheapest hosted, then the rest.
		if env.OllamaBaseURL != "" && env.OllamaModel != "" {
			return buildOllama(env)
		}
		if env.OpenAIAPIKey != "" {
			return buildOpenAI(env)
		}
		if env.AnthropicAPIKey != "" {
			return buildAnthropic(env)
		}
		return nil, "", fmt.Errorf("no llm provider configured")
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", env.Provider)
	}
}

func buildOllama(env Env) (model.Client, string, error) {
	c, err := openai.NewOllama(env.OllamaBaseURL, env.OllamaModel)
	if err != nil {
		return nil, "", fmt.Errorf("ollama: %w", err)
	}
	return c, Ollama, nil
}

func buildOpenAI(env Env) (model.Client, string, error) {
	c, err := openai.NewFromAPIKey(env.OpenAIAPIKey, "")
	if err != nil {
		return nil, "", fmt.Errorf("openai: %w", err)
	}
	return c, OpenAI, nil
}

func buildAnthropic(env Env) (model.Client, string, error) {
	c, err := anthropic.NewFromAPIKey(env.AnthropicAPIKey, "")
	if err != nil {
		return nil, "", fmt.Errorf("anthropic: %w", err)
	}
	return c, Anthropic, nil
}

// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API via github.com/sashabaranov/go-openai. Pointing the
// base URL at an Ollama server (/v1) yields a local, free provider with the
// same adapter.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/switchboard-ai/switchboard/runtime/intent/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

type (
	// ChatClient captures the subset of the go-openai client used by the
	// adapter.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
			openai.ChatCompletionResponse, error)
	}

	// Options configures the adapter.
	Options struct {
		Client ChatClient
		Model  string
	}

	// Client implements model.Client via Chat Completions.
	Client struct {
		chat  ChatClient
		model string
	}
)

// New builds an OpenAI-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = DefaultModel
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client against api.openai.com.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), Model: modelID})
}

// NewOllama constructs a client against an Ollama server's OpenAI-compatible
// endpoint. baseURL is the Ollama root, e.g. "http://localhost:11434".
func NewOllama(baseURL, modelID string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("ollama base url is required")
	}
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	if modelID == "" {
		return nil, errors.New("ollama model is required")
	}
	return New(Options{Client: openai.NewClientWithConfig(cfg), Model: modelID})
}

var _ model.Client = (*Client)(nil)

// Complete renders a single chat completion.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if req.Prompt == "" {
		return model.Response{}, errors.New("openai: prompt is required")
	}
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	ccReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		ccReq.MaxTokens = req.MaxTokens
	}
	resp, err := c.chat.CreateChatCompletion(ctx, ccReq)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: empty choices")
	}
	return model.Response{Text: resp.Choices[0].Message.Content}, nil
}

// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. The intent tier only needs tiny single-turn
// completions, so the adapter maps one prompt to one Messages.New call using
// github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/switchboard-ai/switchboard/runtime/intent/model"
)

// DefaultModel is the small Claude model used when none is configured.
const DefaultModel = "claude-3-5-haiku-latest"

const defaultMaxTokens = 64

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter. *sdk.MessageService satisfies it; tests pass a mock.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the Claude model identifier. Empty selects DefaultModel.
		Model string
		// MaxTokens is the default completion cap when a request does not
		// set one.
		MaxTokens int
	}

	// Client implements model.Client on top of Claude Messages.
	Client struct {
		msg       MessagesClient
		model     string
		maxTokens int
	}
)

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{msg: msg, model: modelID, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: modelID})
}

var _ model.Client = (*Client)(nil)

// Complete issues a single Messages.New call and concatenates the text
// blocks of the reply.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if req.Prompt == "" {
		return model.Response{}, errors.New("anthropic: prompt is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return model.Response{Text: b.String()}, nil
}

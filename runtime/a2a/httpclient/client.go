// Package httpclient implements the a2a.Caller interface over JSON-RPC 2.0
// HTTP POST with bounded retry. Retries apply only to network timeouts and
// HTTP 5xx responses; 4xx responses and JSON-RPC error objects fail fast.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
	healthCheckTimeout = 5 * time.Second
)

type (
	// Option configures the client.
	Option func(*Client)

	// Client speaks JSON-RPC 2.0 to a single agent endpoint.
	Client struct {
		url        string
		http       *http.Client
		maxRetries int
		retryDelay time.Duration
		id         uint64
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
		ID      uint64 `json:"id"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		ID      uint64          `json:"id"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	messageParams struct {
		Message types.Message `json:"message"`
	}

	// httpStatusError marks an HTTP-level failure so the retry loop can
	// distinguish 5xx (retryable) from 4xx (terminal).
	httpStatusError struct {
		status int
	}
)

func (e *rpcError) callerError() *a2a.Error {
	if e == nil {
		return nil
	}
	return &a2a.Error{Code: e.Code, Message: e.Message}
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.status)
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// WithRetry sets the retry budget and base delay. Attempt n sleeps
// delay × (n+1) before retrying.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(cl *Client) {
		if maxRetries >= 0 {
			cl.maxRetries = maxRetries
		}
		if delay > 0 {
			cl.retryDelay = delay
		}
	}
}

// New constructs a client for the given agent endpoint.
func New(url string, opts ...Option) *Client {
	cl := &Client{
		url:        url,
		http:       &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl
}

// Ensure Client implements a2a.Caller.
var _ a2a.Caller = (*Client)(nil)

// URL returns the endpoint this client targets.
func (c *Client) URL() string { return c.url }

func (c *Client) nextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

// SendMessage invokes method with the given message and decodes the result
// message. It retries on network timeout and HTTP 5xx with linearly growing
// delay; every other failure is terminal.
func (c *Client) SendMessage(ctx context.Context, method string, msg types.Message) (types.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return types.Message{}, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		reply, err := c.send(ctx, method, msg)
		if err == nil {
			return reply, nil
		}
		if !retryable(err) {
			return types.Message{}, err
		}
		lastErr = err
	}
	return types.Message{}, &a2a.CommunicationError{URL: c.url, Err: lastErr}
}

func (c *Client) send(ctx context.Context, method string, msg types.Message) (types.Message, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  messageParams{Message: msg},
		ID:      c.nextID(),
	})
	if err != nil {
		return types.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return types.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Message{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return types.Message{}, &httpStatusError{status: resp.StatusCode}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return types.Message{}, err
	}
	if rpcResp.Error != nil {
		return types.Message{}, rpcResp.Error.callerError()
	}
	if len(rpcResp.Result) == 0 {
		return types.Message{}, errors.New("response carries neither result nor error")
	}
	var reply types.Message
	if err := json.Unmarshal(rpcResp.Result, &reply); err != nil {
		return types.Message{}, fmt.Errorf("decode result: %w", err)
	}
	return reply, nil
}

// DelegateTask wraps text in a single-part user message, sends it, and
// returns the concatenated text of the reply.
func (c *Client) DelegateTask(ctx context.Context, text, taskID string) (string, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	reply, err := c.SendMessage(ctx, a2a.MethodSendMessage, types.UserMessage(text, taskID))
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

// HealthCheck issues a GET against the agent base URL with a 5s timeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < http.StatusInternalServerError
}

// retryable reports whether err warrants another attempt: network timeouts
// and HTTP 5xx only.
func retryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

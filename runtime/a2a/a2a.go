// Package a2a defines the agent-to-agent JSON-RPC contract used by the
// principal router and the workflow orchestrator. Transport-specific clients
// (see httpclient) implement the Caller interface; the router and
// orchestrator depend only on this package.
package a2a

import (
	"context"
	"fmt"
)

const (
	// JSON-RPC canonical error codes per spec.
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MethodSendMessage is the JSON-RPC method used for single-turn delegation.
const MethodSendMessage = "message/send"

// Caller delegates a task to a remote agent and returns its textual reply.
type Caller interface {
	// DelegateTask sends text to the remote agent and returns the
	// concatenation of all text parts in the reply.
	DelegateTask(ctx context.Context, text, taskID string) (string, error)
	// HealthCheck reports whether the remote agent answers its base URL.
	HealthCheck(ctx context.Context) bool
}

// Error represents a JSON-RPC error object returned by a remote agent. RPC
// errors are terminal: the client never retries them.
type Error struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

// CommunicationError wraps a non-recoverable transport failure after all
// retries. The router renders it as a user-visible message naming the agent
// and its URL.
type CommunicationError struct {
	// Agent is the logical agent name when known.
	Agent string
	// URL is the endpoint that could not be reached.
	URL string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CommunicationError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("agent %s unreachable at %s: %v", e.Agent, e.URL, e.Err)
	}
	return fmt.Sprintf("agent unreachable at %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommunicationError) Unwrap() error { return e.Err }

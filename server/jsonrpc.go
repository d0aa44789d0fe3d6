package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/switchboard-ai/switchboard/auth/apikey"
	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
	"github.com/switchboard-ai/switchboard/runtime/orchestrator"
	"github.com/switchboard-ai/switchboard/runtime/router"
)

// MethodExecuteWorkflow is the JSON-RPC method for workflow execution.
const MethodExecuteWorkflow = "workflow/execute"

// Workflow modes accepted by workflow/execute.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
	ModeFallback   = "fallback"
)

var tracer = otel.Tracer("github.com/switchboard-ai/switchboard/server")

type (
	rpcRequest struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
		ID      json.RawMessage `json:"id,omitempty"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  any             `json:"result,omitempty"`
		Error   *rpcError       `json:"error,omitempty"`
		ID      json.RawMessage `json:"id,omitempty"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	messageParams struct {
		Message        types.Message `json:"message"`
		ConversationID string        `json:"conversationId,omitempty"`
	}

	workflowParams struct {
		Mode       string                  `json:"mode"`
		Steps      []orchestrator.StepSpec `json:"steps,omitempty"`
		Agents     []string                `json:"agents,omitempty"`
		Task       string                  `json:"task,omitempty"`
		WorkflowID string                  `json:"workflowId,omitempty"`
	}
)

// handleRPC is the single JSON-RPC entrypoint. JSON-RPC-level failures are
// reported in the error member of a 200 response, never as HTTP errors.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{
			Code: a2a.JSONRPCParseError, Message: "parse error",
		}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
			Code: a2a.JSONRPCInvalidRequest, Message: "invalid request",
		}})
		return
	}

	ctx, span := tracer.Start(r.Context(), "rpc."+req.Method,
		trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer span.End()
	r = r.WithContext(ctx)

	start := time.Now()
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case a2a.MethodSendMessage:
		resp.Result, resp.Error = s.sendMessage(r, req.Params)
	case MethodExecuteWorkflow:
		resp.Result, resp.Error = s.executeWorkflow(r, req.Params)
	default:
		resp.Error = &rpcError{Code: a2a.JSONRPCMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method)}
	}

	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
		span.SetStatus(codes.Error, resp.Error.Message)
	}
	s.metrics.observeRPC(req.Method, outcome, time.Since(start))
	writeRPC(w, resp)
}

// sendMessage routes one user message through the router pipeline.
func (s *Server) sendMessage(r *http.Request, raw json.RawMessage) (any, *rpcError) {
	var params messageParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: a2a.JSONRPCInvalidParams, Message: "invalid params"}
	}
	if len(params.Message.Parts) == 0 {
		return nil, &rpcError{Code: a2a.JSONRPCInvalidParams, Message: "message is required"}
	}
	reply := s.router.HandleMessage(r.Context(), router.Request{
		Identity:       callerIdentity(r),
		ConversationID: params.ConversationID,
		Message:        params.Message,
	})
	return reply, nil
}

// executeWorkflow dispatches workflow/execute to the requested orchestration
// mode.
func (s *Server) executeWorkflow(r *http.Request, raw json.RawMessage) (any, *rpcError) {
	if s.orchestrator == nil {
		return nil, &rpcError{Code: a2a.JSONRPCMethodNotFound, Message: "workflows are not enabled"}
	}
	var params workflowParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: a2a.JSONRPCInvalidParams, Message: "invalid params"}
	}

	ctx := r.Context()
	switch params.Mode {
	case ModeSequential, ModeParallel:
		if len(params.Steps) == 0 {
			return nil, &rpcError{Code: a2a.JSONRPCInvalidParams, Message: "steps are required"}
		}
		var (
			res *orchestrator.Result
			err error
		)
		if params.Mode == ModeSequential {
			res, err = s.orchestrator.ExecuteSequential(ctx, params.WorkflowID, params.Steps)
		} else {
			res, err = s.orchestrator.ExecuteParallel(ctx, params.WorkflowID, params.Steps)
		}
		if err != nil {
			return nil, &rpcError{Code: a2a.JSONRPCInvalidParams, Message: err.Error()}
		}
		s.metrics.observeWorkflow(params.Mode, res.Status)
		return res, nil
	case ModeFallback:
		if params.Task == "" || len(params.Agents) == 0 {
			return nil, &rpcError{Code: a2a.JSONRPCInvalidParams, Message: "task and agents are required"}
		}
		text, err := s.orchestrator.ExecuteFallback(ctx, params.Task, params.Agents)
		if err != nil {
			s.metrics.observeWorkflow(params.Mode, orchestrator.StatusFailed)
			return nil, &rpcError{Code: a2a.JSONRPCInternalError, Message: err.Error()}
		}
		s.metrics.observeWorkflow(params.Mode, orchestrator.StatusCompleted)
		return map[string]any{"result": text}, nil
	default:
		return nil, &rpcError{Code: a2a.JSONRPCInvalidParams,
			Message: fmt.Sprintf("unknown workflow mode %q", params.Mode)}
	}
}

// callerIdentity is the rate-limit identity for guardrails: the API-key id
// when the request is authenticated, the client IP otherwise.
func callerIdentity(r *http.Request) string {
	if ac, ok := apikey.FromContext(r.Context()); ok {
		return ac.KeyID
	}
	return apikey.ClientIP(r)
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck // response already committed
}

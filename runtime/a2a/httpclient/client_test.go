package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
)

func rpcResult(t *testing.T, w http.ResponseWriter, id uint64, msg types.Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": json.RawMessage(raw)}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func decodeRequest(t *testing.T, r *http.Request) (method string, msg types.Message, id uint64) {
	t.Helper()
	var req struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  struct {
			Message types.Message `json:"message"`
		} `json:"params"`
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	require.Equal(t, "2.0", req.JSONRPC)
	return req.Method, req.Params.Message, req.ID
}

func TestDelegateTaskRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, msg, id := decodeRequest(t, r)
		require.Equal(t, a2a.MethodSendMessage, method)
		require.Equal(t, types.RoleUser, msg.Role)
		require.Equal(t, "check the weather", msg.Text())
		require.Equal(t, "task-1", msg.MessageID)
		rpcResult(t, w, id, types.Message{
			Role: types.RoleAgent,
			Parts: []types.Part{
				types.TextPart("Sunny,"),
				{Kind: "data"},
				types.TextPart("22C"),
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	out, err := c.DelegateTask(context.Background(), "check the weather", "task-1")
	require.NoError(t, err)
	require.Equal(t, "Sunny, 22C", out)
}

func TestDelegateTaskGeneratesTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, msg, id := decodeRequest(t, r)
		require.NotEmpty(t, msg.MessageID)
		rpcResult(t, w, id, types.AgentMessage("ok", ""))
	}))
	defer srv.Close()

	_, err := New(srv.URL).DelegateTask(context.Background(), "hello", "")
	require.NoError(t, err)
}

func TestRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _, id := decodeRequest(t, r)
		rpcResult(t, w, id, types.AgentMessage("recovered", ""))
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	out, err := c.DelegateTask(context.Background(), "hi", "t")
	require.NoError(t, err)
	require.Equal(t, "recovered", out)
	require.EqualValues(t, 3, calls.Load())
}

func TestRetriesExhaustedWrapsCommunicationError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(2, time.Millisecond))
	_, err := c.DelegateTask(context.Background(), "hi", "t")
	require.Error(t, err)
	var commErr *a2a.CommunicationError
	require.ErrorAs(t, err, &commErr)
	require.Equal(t, srv.URL, commErr.URL)
	require.EqualValues(t, 3, calls.Load()) // initial + 2 retries
}

func TestNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	_, err := c.DelegateTask(context.Background(), "hi", "t")
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestRPCErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": a2a.JSONRPCMethodNotFound, "message": "no such method"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetry(3, time.Millisecond))
	_, err := c.DelegateTask(context.Background(), "hi", "t")
	var rpcErr *a2a.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, a2a.JSONRPCMethodNotFound, rpcErr.Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestMissingResultAndErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).DelegateTask(context.Background(), "hi", "t")
	require.ErrorContains(t, err, "neither result nor error")
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.True(t, New(srv.URL).HealthCheck(context.Background()))
	require.False(t, New("http://127.0.0.1:1").HealthCheck(context.Background()))
}

func TestRequestIDsIncrement(t *testing.T) {
	var ids []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, id := decodeRequest(t, r)
		ids = append(ids, id)
		rpcResult(t, w, id, types.AgentMessage("ok", ""))
	}))
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := c.DelegateTask(context.Background(), "hi", "t")
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestPoolSharesClientsByURL(t *testing.T) {
	p := NewPool()
	a := p.Get("http://agents.internal/analytics")
	require.Same(t, a, p.Get("http://agents.internal/analytics"))
	require.NotSame(t, a, p.Get("http://agents.internal/security"))
	require.Equal(t, 2, p.Len())

	p.CloseAll()
	require.Equal(t, 0, p.Len())
}

func TestGlobalPoolReset(t *testing.T) {
	ResetGlobalPool()
	p := GlobalPool()
	require.Same(t, p, GlobalPool())
	p.Get("http://agents.internal/analytics")
	ResetGlobalPool()
	require.Equal(t, 0, GlobalPool().Len())
}

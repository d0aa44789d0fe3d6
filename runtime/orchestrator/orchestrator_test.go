package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
	"github.com/switchboard-ai/switchboard/runtime/registry"
)

// fakeCaller scripts per-agent responses and records invocation order.
type fakeCaller struct {
	mu    sync.Mutex
	name  string
	reply string
	err   error
	calls *[]string
}

func (f *fakeCaller) DelegateTask(_ context.Context, text, _ string) (string, error) {
	f.mu.Lock()
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name+":"+text)
	}
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCaller) HealthCheck(context.Context) bool { return f.err == nil }

type harness struct {
	reg     *registry.Registry
	callers map[string]*fakeCaller
	calls   []string
	mu      sync.Mutex
}

func newHarness(t *testing.T, agents ...string) *harness {
	t.Helper()
	h := &harness{reg: registry.New(), callers: make(map[string]*fakeCaller)}
	for _, name := range agents {
		require.NoError(t, h.reg.Register(types.AgentCard{
			Name:         name,
			URL:          "http://" + name + ".test",
			Capabilities: []string{name + "-cap"},
		}))
		h.callers[name] = &fakeCaller{name: name, reply: name + " done", calls: &h.calls}
	}
	return h
}

func (h *harness) callerFor(card types.AgentCard) a2a.Caller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callers[card.Name]
}

func TestSequentialAllComplete(t *testing.T) {
	h := newHarness(t, "researcher", "writer")
	o := New(h.reg, h.callerFor, WithPollInterval(time.Millisecond))

	res, err := o.ExecuteSequential(context.Background(), "", []StepSpec{
		{Agent: "researcher", Task: "gather facts"},
		{Agent: "writer", Task: "draft summary", DependsOn: []int{0}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.WorkflowID)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, StepCompleted, res.Steps[0].Status)
	require.Equal(t, "researcher done", res.Steps[0].Result)
	require.Equal(t, StepCompleted, res.Steps[1].Status)
	require.Equal(t, []string{"researcher:gather facts", "writer:draft summary"}, h.calls)
}

func TestSequentialFailedDependency(t *testing.T) {
	h := newHarness(t, "flaky", "writer")
	h.callers["flaky"].err = errors.New("boom")
	o := New(h.reg, h.callerFor, WithPollInterval(time.Millisecond))

	res, err := o.ExecuteSequential(context.Background(), "wf-1", []StepSpec{
		{Agent: "flaky", Task: "t0"},
		{Agent: "writer", Task: "t1", DependsOn: []int{0}},
	})
	require.NoError(t, err)
	require.Equal(t, "wf-1", res.WorkflowID)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, StepFailed, res.Steps[0].Status)
	require.Equal(t, StepFailed, res.Steps[1].Status)
	require.Equal(t, ErrDependencyFailed, res.Steps[1].Error)
	// The dependent step never ran.
	require.Equal(t, []string{"flaky:t0"}, h.calls)
}

func TestSequentialRejectsForwardDependency(t *testing.T) {
	h := newHarness(t, "a")
	o := New(h.reg, h.callerFor)

	_, err := o.ExecuteSequential(context.Background(), "", []StepSpec{
		{Agent: "a", Task: "t0", DependsOn: []int{1}},
		{Agent: "a", Task: "t1"},
	})
	require.Error(t, err)
}

func TestSequentialResolvesByCapability(t *testing.T) {
	h := newHarness(t, "weather-bot")
	o := New(h.reg, h.callerFor)

	res, err := o.ExecuteSequential(context.Background(), "", []StepSpec{
		{Agent: "weather-bot-cap", Task: "forecast"},
	})
	require.NoError(t, err)
	require.Equal(t, StepCompleted, res.Steps[0].Status)
}

func TestSequentialUnknownAgent(t *testing.T) {
	h := newHarness(t, "a")
	o := New(h.reg, h.callerFor)

	res, err := o.ExecuteSequential(context.Background(), "", []StepSpec{
		{Agent: "ghost", Task: "t"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Steps[0].Error, "ghost")
}

func TestParallelCollectsAll(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	h.callers["b"].err = errors.New("b down")
	o := New(h.reg, h.callerFor)

	res, err := o.ExecuteParallel(context.Background(), "", []StepSpec{
		{Agent: "a", Task: "t"},
		{Agent: "b", Task: "t"},
		{Agent: "c", Task: "t"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	// A failing sibling never cancels the others.
	require.Equal(t, StepCompleted, res.Steps[0].Status)
	require.Equal(t, StepFailed, res.Steps[1].Status)
	require.Equal(t, StepCompleted, res.Steps[2].Status)
	require.Len(t, h.calls, 3)
}

func TestParallelRejectsDependencies(t *testing.T) {
	h := newHarness(t, "a")
	o := New(h.reg, h.callerFor)

	_, err := o.ExecuteParallel(context.Background(), "", []StepSpec{
		{Agent: "a", Task: "t", DependsOn: []int{0}},
	})
	require.Error(t, err)
}

func TestFallbackFirstSuccess(t *testing.T) {
	h := newHarness(t, "primary", "secondary")
	h.callers["primary"].err = errors.New("primary down")
	o := New(h.reg, h.callerFor)

	out, err := o.ExecuteFallback(context.Background(), "do it", []string{"primary", "secondary"})
	require.NoError(t, err)
	require.Equal(t, "secondary done", out)
	require.Equal(t, []string{"primary:do it", "secondary:do it"}, h.calls)
}

func TestFallbackAllFail(t *testing.T) {
	h := newHarness(t, "primary", "secondary")
	h.callers["primary"].err = errors.New("primary down")
	h.callers["secondary"].err = errors.New("secondary down")
	o := New(h.reg, h.callerFor)

	_, err := o.ExecuteFallback(context.Background(), "do it", []string{"primary", "secondary"})
	var commErr *a2a.CommunicationError
	require.ErrorAs(t, err, &commErr)
	require.Equal(t, "secondary", commErr.Agent)
	require.ErrorContains(t, err, "secondary down")
}

func TestStatusAndListActive(t *testing.T) {
	h := newHarness(t, "slow")
	release := make(chan struct{})
	started := make(chan struct{})
	h.callers["slow"].reply = "ok"
	slow := &blockingCaller{inner: h.callers["slow"], started: started, release: release}
	o := New(h.reg, func(types.AgentCard) a2a.Caller { return slow })

	done := make(chan *Result, 1)
	go func() {
		res, _ := o.ExecuteSequential(context.Background(), "wf-live", []StepSpec{{Agent: "slow", Task: "t"}})
		done <- res
	}()

	<-started
	snap, ok := o.Status("wf-live")
	require.True(t, ok)
	require.Equal(t, StatusRunning, snap.Status)
	require.Contains(t, o.ListActive(), "wf-live")

	close(release)
	res := <-done
	require.Equal(t, StatusCompleted, res.Status)

	// Finished workflows are cleared from the active map.
	_, ok = o.Status("wf-live")
	require.False(t, ok)
	require.Empty(t, o.ListActive())
}

type blockingCaller struct {
	inner   a2a.Caller
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingCaller) DelegateTask(ctx context.Context, text, taskID string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.inner.DelegateTask(ctx, text, taskID)
}

func (b *blockingCaller) HealthCheck(ctx context.Context) bool { return b.inner.HealthCheck(ctx) }

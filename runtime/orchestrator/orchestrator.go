// Package orchestrator executes multi-agent workflows over the agent
// registry and the pooled JSON-RPC clients. Three modes are supported:
// sequential with index-based dependencies, parallel fan-out, and an ordered
// fallback chain. Workflow state is in-memory only and does not survive a
// restart.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
	"github.com/switchboard-ai/switchboard/runtime/registry"
)

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	// StepCancelled is reserved for future cooperative cancellation. No
	// transition currently produces it.
	StepCancelled StepStatus = "cancelled"
)

// Workflow aggregate statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Defaults for dependency waiting.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStepTimeout  = 300 * time.Second
)

// ErrDependencyFailed is the step error recorded when a dependency did not
// complete. The string is user-visible and pinned by tests.
const ErrDependencyFailed = "Dependency failed"

type (
	// StepSpec describes one step of a sequential workflow. DependsOn holds
	// indices of earlier steps; every entry must be strictly less than the
	// step's own index.
	StepSpec struct {
		Agent     string `json:"agent"`
		Task      string `json:"task"`
		DependsOn []int  `json:"depends_on,omitempty"`
	}

	// StepResult is the terminal record of one step.
	StepResult struct {
		Agent  string     `json:"agent"`
		Task   string     `json:"task"`
		Status StepStatus `json:"status"`
		Result string     `json:"result,omitempty"`
		Error  string     `json:"error,omitempty"`
	}

	// Result is the aggregate outcome of a workflow run.
	Result struct {
		WorkflowID string       `json:"workflow_id"`
		Status     string       `json:"status"`
		Steps      []StepResult `json:"steps"`
		StartedAt  time.Time    `json:"started_at"`
		FinishedAt time.Time    `json:"finished_at"`
	}

	// CallerFor resolves a pooled client for an agent card.
	CallerFor func(card types.AgentCard) a2a.Caller

	// Orchestrator runs workflows against the registry.
	Orchestrator struct {
		registry  *registry.Registry
		callerFor CallerFor

		pollInterval time.Duration
		stepTimeout  time.Duration

		mu     sync.Mutex
		active map[string]*Result

		clock func() time.Time
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)
)

// WithPollInterval overrides the dependency poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithStepTimeout overrides the total dependency wait bound.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = now
	}
}

// New returns an Orchestrator resolving agents through reg and calling them
// through callerFor.
func New(reg *registry.Registry, callerFor CallerFor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:     reg,
		callerFor:    callerFor,
		pollInterval: DefaultPollInterval,
		stepTimeout:  DefaultStepTimeout,
		active:       make(map[string]*Result),
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// resolve finds the agent card for name, trying exact name first and then
// treating name as a capability.
func (o *Orchestrator) resolve(name string) (types.AgentCard, bool) {
	if card, ok := o.registry.ByName(name); ok {
		return card, true
	}
	return o.registry.FirstByCapability(name)
}

// ExecuteSequential runs steps in order, waiting for each step's declared
// dependencies before it starts. A failed dependency fails the step with
// ErrDependencyFailed but never halts the run, so step indices stay aligned
// with the input.
func (o *Orchestrator) ExecuteSequential(ctx context.Context, workflowID string, steps []StepSpec) (*Result, error) {
	if err := validateDependencies(steps); err != nil {
		return nil, err
	}
	res := o.begin(ctx, workflowID, steps)
	defer o.finish(res)

	for i := range steps {
		if failed, err := o.waitDependencies(ctx, res, steps[i].DependsOn); err != nil {
			o.setStep(res, i, StepFailed, "", err.Error())
			continue
		} else if failed {
			o.setStep(res, i, StepFailed, "", ErrDependencyFailed)
			continue
		}
		o.runStep(ctx, res, i, steps[i].Agent, steps[i].Task)
	}

	o.settle(res)
	return res, nil
}

// ExecuteParallel runs all steps concurrently and collects every result. A
// failing step never cancels its siblings.
func (o *Orchestrator) ExecuteParallel(ctx context.Context, workflowID string, steps []StepSpec) (*Result, error) {
	for i, s := range steps {
		if len(s.DependsOn) > 0 {
			return nil, fmt.Errorf("parallel step %d declares dependencies", i)
		}
	}
	res := o.begin(ctx, workflowID, steps)
	defer o.finish(res)

	var wg sync.WaitGroup
	for i := range steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o.runStep(ctx, res, i, steps[i].Agent, steps[i].Task)
		}(i)
	}
	wg.Wait()

	o.settle(res)
	return res, nil
}

// ExecuteFallback tries task against each named agent in order and returns
// the first success. When every agent fails it returns a CommunicationError
// wrapping the last failure.
func (o *Orchestrator) ExecuteFallback(ctx context.Context, task string, agents []string) (string, error) {
	if len(agents) == 0 {
		return "", fmt.Errorf("fallback requires at least one agent")
	}
	var lastErr error
	var lastCard types.AgentCard
	for _, name := range agents {
		card, ok := o.resolve(name)
		if !ok {
			lastErr = fmt.Errorf("agent %q not registered", name)
			lastCard = types.AgentCard{Name: name}
			continue
		}
		out, err := o.callerFor(card).DelegateTask(ctx, task, "")
		if err == nil {
			return out, nil
		}
		log.Infof(ctx, "fallback: agent %s failed, trying next", card.Name)
		lastErr = err
		lastCard = card
	}
	return "", &a2a.CommunicationError{Agent: lastCard.Name, URL: lastCard.URL, Err: lastErr}
}

// Status returns a snapshot of a workflow by id. It covers both in-flight and
// recently finished runs until finish clears them.
func (o *Orchestrator) Status(workflowID string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.active[workflowID]
	if !ok {
		return Result{}, false
	}
	return snapshot(res), true
}

// ListActive returns the ids of workflows currently executing.
func (o *Orchestrator) ListActive() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func validateDependencies(steps []StepSpec) error {
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= i {
				return fmt.Errorf("step %d: dependency index %d must be an earlier step", i, dep)
			}
		}
	}
	return nil
}

func (o *Orchestrator) begin(ctx context.Context, workflowID string, steps []StepSpec) *Result {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	res := &Result{
		WorkflowID: workflowID,
		Status:     StatusRunning,
		Steps:      make([]StepResult, len(steps)),
		StartedAt:  o.clock(),
	}
	for i, s := range steps {
		res.Steps[i] = StepResult{Agent: s.Agent, Task: s.Task, Status: StepPending}
	}
	o.mu.Lock()
	o.active[workflowID] = res
	o.mu.Unlock()
	log.Infof(ctx, "workflow %s started with %d steps", workflowID, len(steps))
	return res
}

// finish stamps the end time and clears the active entry.
func (o *Orchestrator) finish(res *Result) {
	o.mu.Lock()
	res.FinishedAt = o.clock()
	delete(o.active, res.WorkflowID)
	o.mu.Unlock()
}

// settle derives the aggregate status from the step statuses.
func (o *Orchestrator) settle(res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := StatusCompleted
	for i := range res.Steps {
		if res.Steps[i].Status == StepFailed {
			status = StatusFailed
			break
		}
	}
	res.Status = status
}

func (o *Orchestrator) setStep(res *Result, i int, status StepStatus, result, errMsg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res.Steps[i].Status = status
	res.Steps[i].Result = result
	res.Steps[i].Error = errMsg
}

func (o *Orchestrator) stepStatus(res *Result, i int) StepStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return res.Steps[i].Status
}

// waitDependencies polls the status of each dependency until all are
// terminal or the timeout elapses. It reports whether any dependency failed.
func (o *Orchestrator) waitDependencies(ctx context.Context, res *Result, deps []int) (failed bool, err error) {
	if len(deps) == 0 {
		return false, nil
	}
	deadline := time.NewTimer(o.stepTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		pending := false
		for _, dep := range deps {
			switch o.stepStatus(res, dep) {
			case StepFailed:
				return true, nil
			case StepCompleted:
			default:
				pending = true
			}
		}
		if !pending {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, fmt.Errorf("timed out waiting for dependencies")
		case <-ticker.C:
		}
	}
}

// runStep resolves the agent and delegates the task, recording the terminal
// step state.
func (o *Orchestrator) runStep(ctx context.Context, res *Result, i int, agent, task string) {
	o.setStep(res, i, StepRunning, "", "")

	card, ok := o.resolve(agent)
	if !ok {
		o.setStep(res, i, StepFailed, "", fmt.Sprintf("agent %q not registered", agent))
		return
	}
	out, err := o.callerFor(card).DelegateTask(ctx, task, "")
	if err != nil {
		o.setStep(res, i, StepFailed, "", err.Error())
		return
	}
	o.setStep(res, i, StepCompleted, out, "")
}

func snapshot(res *Result) Result {
	out := *res
	out.Steps = make([]StepResult, len(res.Steps))
	copy(out.Steps, res.Steps)
	return out
}

// Package router implements the request pipeline that owns one message from
// text extraction to response emission: conversation memory, guardrails,
// delegation, intent classification, dispatch to local handlers or remote
// agents, and output sanitization. The router never retries a handler; all
// failures surface as user-visible text, not transport errors.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/switchboard-ai/switchboard/runtime/a2a"
	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
	"github.com/switchboard-ai/switchboard/runtime/guardrails"
	"github.com/switchboard-ai/switchboard/runtime/intent"
	"github.com/switchboard-ai/switchboard/runtime/memory"
	"github.com/switchboard-ai/switchboard/runtime/registry"
	"github.com/switchboard-ai/switchboard/runtime/tasks"
)

// OutputRejected replaces any response that fails the output guardrail.
const OutputRejected = "I generated a response but it did not pass safety checks. Please rephrase your request."

// HelpText answers messages whose intent could not be determined.
const HelpText = "I'm not sure how to help with that. I can assist with: support tickets, account questions, payments, and general information."

// DefaultChunkWords is the streaming chunk size in words.
const DefaultChunkWords = 5

type (
	// ExternalRoute maps a classified intent to a remote agent.
	ExternalRoute struct {
		// Agent is the registered agent name to call.
		Agent string
		// Emoji prefixes the agent's reply.
		Emoji string
	}

	// CallerFor resolves a pooled (and breaker-wrapped) client for a card.
	CallerFor func(card types.AgentCard) a2a.Caller

	// Request is one routed message.
	Request struct {
		// Identity is the caller identity used for guardrail rate limiting
		// (API-key id or client IP).
		Identity string
		// ConversationID scopes memory. When empty the id derives from the
		// message task id, then the message id, then "default", so turns
		// sharing a task or message id share history.
		ConversationID string
		// Message is the inbound user message.
		Message types.Message
	}

	// Chunk is one item of the streaming response. Progress chunks carry
	// intermediate text; the chunk with Final set closes the response.
	Chunk struct {
		Text  string
		Final bool
	}

	// Router is the pipeline. All fields are set at construction and
	// immutable afterwards.
	Router struct {
		memory     *memory.Memory
		guard      *guardrails.Guardrails
		classifier *intent.Classifier
		registry   *registry.Registry
		handlers   tasks.Set
		callerFor  CallerFor

		a2aEnabled bool
		external   map[string]ExternalRoute
		chunkWords int
		chunkDelay time.Duration
	}

	// Option configures a Router.
	Option func(*Router)
)

// DefaultExternalRoutes is the fixed intent to remote-agent mapping.
func DefaultExternalRoutes() map[string]ExternalRoute {
	return map[string]ExternalRoute{
		"insurance": {Agent: "insurance-agent", Emoji: "🏥"},
		"weather":   {Agent: "weather-agent", Emoji: "🌤️"},
	}
}

// WithA2A enables delegation and external-agent dispatch through callerFor.
func WithA2A(reg *registry.Registry, callerFor CallerFor) Option {
	return func(r *Router) {
		r.registry = reg
		r.callerFor = callerFor
		r.a2aEnabled = reg != nil && callerFor != nil
	}
}

// WithExternalRoutes overrides the intent to external-agent mapping.
func WithExternalRoutes(routes map[string]ExternalRoute) Option {
	return func(r *Router) {
		r.external = routes
	}
}

// WithChunking overrides the streaming chunk size and inter-chunk delay.
func WithChunking(words int, delay time.Duration) Option {
	return func(r *Router) {
		if words > 0 {
			r.chunkWords = words
		}
		r.chunkDelay = delay
	}
}

// New builds a Router over the given collaborators. mem, guard, classifier
// and handlers are required.
func New(mem *memory.Memory, guard *guardrails.Guardrails, classifier *intent.Classifier, handlers tasks.Set, opts ...Option) *Router {
	r := &Router{
		memory:     mem,
		guard:      guard,
		classifier: classifier,
		handlers:   handlers,
		external:   DefaultExternalRoutes(),
		chunkWords: DefaultChunkWords,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// conversationID resolves the memory scope for a request: the explicit
// override, then the message task id, then the message id, then "default".
func conversationID(req Request) string {
	switch {
	case req.ConversationID != "":
		return req.ConversationID
	case req.Message.TaskID != "":
		return req.Message.TaskID
	case req.Message.MessageID != "":
		return req.Message.MessageID
	default:
		return "default"
	}
}

// HandleMessage runs the full pipeline and returns a single agent message.
func (r *Router) HandleMessage(ctx context.Context, req Request) types.Message {
	convID := conversationID(req)
	text := req.Message.Text()

	r.memory.Add(ctx, convID, types.RoleUser, text, nil)
	history := r.memory.History(ctx, convID, 5)

	if v := r.guard.ValidateInput(ctx, req.Identity, text); !v.OK {
		r.memory.Add(ctx, convID, types.RoleAgent, v.Reason, nil)
		return types.AgentMessage(v.Reason, uuid.NewString())
	}

	reply, meta := r.dispatch(ctx, text, history)
	final := r.finalize(ctx, reply)

	r.memory.Add(ctx, convID, types.RoleAgent, final, meta)
	msg := types.AgentMessage(final, uuid.NewString())
	msg.Metadata = meta
	return msg
}

// HandleMessageStream runs the pipeline in streaming mode. The returned
// channel yields classifier progress, an execution marker, and the final text
// in word chunks; it is closed after the chunk with Final set.
func (r *Router) HandleMessageStream(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		convID := conversationID(req)
		text := req.Message.Text()

		r.memory.Add(ctx, convID, types.RoleUser, text, nil)
		history := r.memory.History(ctx, convID, 5)

		if v := r.guard.ValidateInput(ctx, req.Identity, text); !v.OK {
			r.memory.Add(ctx, convID, types.RoleAgent, v.Reason, nil)
			send(Chunk{Text: v.Reason, Final: true})
			return
		}

		if r.a2aEnabled {
			if card, task, ok := r.delegationTarget(text); ok {
				reply, meta := r.delegate(ctx, card, task)
				r.emitFinal(ctx, convID, reply, meta, send)
				return
			}
		}

		var res intent.Result
		for upd := range r.classifier.ClassifyStream(ctx, text) {
			if upd.Result != nil {
				res = *upd.Result
				break
			}
			if !send(Chunk{Text: upd.Message}) {
				return
			}
		}
		if res.Intent != intent.Unknown {
			if !send(Chunk{Text: fmt.Sprintf("⚙️ Executing %s task...", res.Intent)}) {
				return
			}
		}

		reply, meta := r.dispatchClassified(ctx, text, history, res)
		r.emitFinal(ctx, convID, reply, meta, send)
	}()
	return out
}

// emitFinal sanitizes, persists, and chunk-delivers the terminal text.
func (r *Router) emitFinal(ctx context.Context, convID, reply string, meta map[string]any, send func(Chunk) bool) {
	final := r.finalize(ctx, reply)
	r.memory.Add(ctx, convID, types.RoleAgent, final, meta)

	words := strings.Fields(final)
	for i := 0; i < len(words); i += r.chunkWords {
		end := i + r.chunkWords
		if end > len(words) {
			end = len(words)
		}
		if !send(Chunk{Text: strings.Join(words[i:end], " "), Final: end == len(words)}) {
			return
		}
		if r.chunkDelay > 0 && end < len(words) {
			select {
			case <-time.After(r.chunkDelay):
			case <-ctx.Done():
				return
			}
		}
	}
	if len(words) == 0 {
		send(Chunk{Final: true})
	}
}

// dispatch runs delegation when enabled, then classification and intent
// dispatch. It returns the raw reply and the classification metadata.
func (r *Router) dispatch(ctx context.Context, text string, history []memory.Message) (string, map[string]any) {
	if r.a2aEnabled {
		if card, task, ok := r.delegationTarget(text); ok {
			return r.delegate(ctx, card, task)
		}
	}
	return r.dispatchClassified(ctx, text, history, r.classifier.Classify(ctx, text))
}

func (r *Router) dispatchClassified(ctx context.Context, text string, history []memory.Message, res intent.Result) (string, map[string]any) {
	meta := map[string]any{
		"intent":   string(res.Intent),
		"used_llm": res.UsedLLM,
	}
	if res.Provider != "" {
		meta["provider"] = res.Provider
	}

	if route, ok := r.external[string(res.Intent)]; ok && r.a2aEnabled {
		return r.callExternal(ctx, route, text), meta
	}

	h, ok := r.handlers[string(res.Intent)]
	if !ok {
		return HelpText, meta
	}
	out, err := invoke(ctx, h, tasks.Input{Text: text, History: history})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "router: handler failed"}, log.KV{K: "intent", V: string(res.Intent)})
		return "❌ " + err.Error(), meta
	}
	return h.DisplayName() + ": " + out, meta
}

// callExternal resolves the mapped agent and delegates the full text.
func (r *Router) callExternal(ctx context.Context, route ExternalRoute, text string) string {
	card, ok := r.registry.ByName(route.Agent)
	if !ok {
		return fmt.Sprintf("❌ Agent %s is not available right now.", route.Agent)
	}
	out, err := r.callerFor(card).DelegateTask(ctx, text, "")
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "router: external agent call failed"}, log.KV{K: "agent", V: card.Name})
		return unreachable(card)
	}
	return fmt.Sprintf("%s %s: %s", route.Emoji, displayName(card), out)
}

// delegate calls the named agent with the stripped task.
func (r *Router) delegate(ctx context.Context, card types.AgentCard, task string) (string, map[string]any) {
	meta := map[string]any{"delegated_to": card.Name}
	out, err := r.callerFor(card).DelegateTask(ctx, task, "")
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "router: delegation failed"}, log.KV{K: "agent", V: card.Name})
		return unreachable(card), meta
	}
	return fmt.Sprintf("🤝 %s: %s", displayName(card), out), meta
}

// invoke shields the pipeline from handler panics; a panic becomes an error
// like any other handler failure.
func invoke(ctx context.Context, h tasks.Handler, in tasks.Input) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Invoke(ctx, in)
}

// finalize applies output sanitization and the output guardrail.
func (r *Router) finalize(ctx context.Context, reply string) string {
	clean := guardrails.SanitizeOutput(reply, true)
	if v := r.guard.ValidateOutput(ctx, clean); !v.OK {
		log.Infof(ctx, "router: output rejected: %s", v.Reason)
		return OutputRejected
	}
	return clean
}

func unreachable(card types.AgentCard) string {
	return fmt.Sprintf("❌ Could not reach agent %s at %s. Please try again later.", displayName(card), card.URL)
}

// displayName prefers an explicit display_name in the card metadata and falls
// back to the registered name.
func displayName(card types.AgentCard) string {
	if v, ok := card.Metadata["display_name"].(string); ok && v != "" {
		return v
	}
	return card.Name
}

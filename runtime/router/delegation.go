package router

import (
	"regexp"
	"strings"

	"github.com/switchboard-ai/switchboard/runtime/a2a/types"
)

// delegationVerbs trigger the delegation heuristic. Matching is
// case-insensitive on the raw text.
var delegationVerbs = []string{
	"ask the",
	"check with",
	"consult",
	"delegate to",
	"get help from",
	"forward to",
	"send to",
	"talk to",
}

// hasDelegationVerb reports whether text contains any delegation verb.
func hasDelegationVerb(text string) bool {
	lower := strings.ToLower(text)
	for _, verb := range delegationVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// delegationTarget finds the registered agent named in text. Names match by
// case-insensitive substring; the longest matching name wins so that
// "weather-agent-v2" is preferred over "weather-agent" when both are
// registered. The returned task is text with delegation phrases and the
// agent name stripped.
func (r *Router) delegationTarget(text string) (types.AgentCard, string, bool) {
	if !hasDelegationVerb(text) {
		return types.AgentCard{}, "", false
	}
	lower := strings.ToLower(text)
	var best types.AgentCard
	found := false
	for _, card := range r.registry.List() {
		name := strings.ToLower(card.Name)
		if name == "" || !strings.Contains(lower, name) {
			continue
		}
		if !found || len(card.Name) > len(best.Name) {
			best = card
			found = true
		}
	}
	if !found {
		return types.AgentCard{}, "", false
	}
	return best, stripDelegation(text, best.Name), true
}

// fillerAfterVerb drops connective words left dangling once the verb and
// agent name are removed ("ask the X about Y" leaves "about Y").
var fillerAfterVerb = regexp.MustCompile(`(?i)^\s*(?:about|to|for|that|if|whether)\s+`)

// stripDelegation removes delegation verbs and the agent name from text,
// leaving the task to forward. An empty remainder falls back to the original
// text.
func stripDelegation(text, agentName string) string {
	task := text
	for _, verb := range delegationVerbs {
		task = removeFold(task, verb)
	}
	task = removeFold(task, agentName)
	task = fillerAfterVerb.ReplaceAllString(strings.TrimSpace(task), "")
	task = strings.Trim(strings.TrimSpace(task), ",.;:!? ")
	if task == "" {
		return strings.TrimSpace(text)
	}
	return task
}

// removeFold deletes every case-insensitive occurrence of sub from s.
func removeFold(s, sub string) string {
	if sub == "" {
		return s
	}
	lower := strings.ToLower(s)
	needle := strings.ToLower(sub)
	var b strings.Builder
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		s = s[i+len(needle):]
		lower = lower[i+len(needle):]
	}
}

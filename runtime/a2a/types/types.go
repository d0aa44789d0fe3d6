// Package types defines the A2A wire data types exchanged over JSON-RPC.
// Field names use camelCase JSON tags to conform to the A2A message shape.
package types

import "strings"

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// PartKindText identifies textual message parts. Parts with other kinds are
// ignored at extraction sites.
const PartKindText = "text"

type (
	// Message is a single conversational turn carried in JSON-RPC params and
	// results.
	Message struct {
		// Role is "user", "agent", or "system".
		Role string `json:"role"`
		// Parts are the ordered content parts of the message.
		Parts []Part `json:"parts"`
		// MessageID identifies the message; callers may supply it and the
		// runtime generates one otherwise.
		MessageID string `json:"messageId,omitempty"`
		// TaskID groups messages belonging to one task. When present it
		// scopes conversation memory.
		TaskID string `json:"taskId,omitempty"`
		// Metadata carries optional classification metadata (intent,
		// used_llm, provider) on responses.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// Part is one content part of a message. Only text parts are interpreted
	// by the runtime; other kinds pass through untouched.
	Part struct {
		// Kind identifies the part type ("text", "data", "file").
		Kind string `json:"kind"`
		// Text is the content when Kind == "text".
		Text string `json:"text,omitempty"`
	}

	// AgentCard describes one remote agent known to the registry.
	AgentCard struct {
		// Name is the unique agent name within a registry snapshot.
		Name string `json:"name"`
		// URL is the agent's JSON-RPC endpoint.
		URL string `json:"url"`
		// Capabilities are free-form discovery tags.
		Capabilities []string `json:"capabilities,omitempty"`
		// Description is a human-readable summary of the agent.
		Description string `json:"description,omitempty"`
		// Version is the agent implementation version.
		Version string `json:"version,omitempty"`
		// Metadata carries implementation-defined agent metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
	}
)

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// UserMessage builds a user message with a single text part.
func UserMessage(text, messageID string) Message {
	return Message{
		Role:      RoleUser,
		Parts:     []Part{TextPart(text)},
		MessageID: messageID,
	}
}

// AgentMessage builds an agent message with a single text part.
func AgentMessage(text, messageID string) Message {
	return Message{
		Role:      RoleAgent,
		Parts:     []Part{TextPart(text)},
		MessageID: messageID,
	}
}

// Text concatenates the content of all text parts, joining multiple parts
// with a single space. Non-text parts are ignored.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartKindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// HasCapability reports whether the card advertises the given capability.
func (c AgentCard) HasCapability(capability string) bool {
	for _, cap := range c.Capabilities {
		if cap == capability {
			return true
		}
	}
	return false
}

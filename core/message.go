package core

import (
	"strings"

	"github.com/google/uuid"
)

// Message kinds reported by Message.Kind.
const (
	KindUser     = "user_message"
	KindResponse = "assistant_response"
	KindHandoff  = "handoff_message"
	KindReset    = "reset_message"
)

// SystemVariablesKey is the metadata key holding prompt template variables.
const SystemVariablesKey = "system_variables"

// Message is implemented by every envelope variant travelling on the bus.
// Messages are passed by pointer and mutated in place while they traverse agents.
type Message interface {
	Header() *Envelope
	Kind() string
}

// Envelope carries the routing bookkeeping shared by all message variants.
type Envelope struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Path     []string       `json:"path,omitempty"`   // visited agents, append-only
	Traces   []any          `json:"traces,omitempty"` // free-form trace log
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEnvelope returns an envelope with a fresh ID.
func NewEnvelope(source string) Envelope {
	return Envelope{ID: NewID(), Source: source, Metadata: map[string]any{}}
}

// Header implements Message.
func (e *Envelope) Header() *Envelope { return e }

// AppendPath records a visited agent name.
func (e *Envelope) AppendPath(name string) { e.Path = append(e.Path, name) }

// Visited reports whether name already appears in the path.
func (e *Envelope) Visited(name string) bool {
	for _, p := range e.Path {
		if p == name {
			return true
		}
	}
	return false
}

// SystemVariables returns the prompt variables carried in metadata, or an empty map.
func (e *Envelope) SystemVariables() map[string]any {
	if e.Metadata == nil {
		return map[string]any{}
	}
	if vars, ok := e.Metadata[SystemVariablesKey].(map[string]any); ok {
		return vars
	}
	return map[string]any{}
}

// SetSystemVariables stores prompt variables for downstream agents.
func (e *Envelope) SetSystemVariables(vars map[string]any) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[SystemVariablesKey] = vars
}

// UserMessage carries the ordered conversation turns.
type UserMessage struct {
	Envelope
	Content  []Content `json:"content"`
	SenderID string    `json:"sender_id,omitempty"`
}

// NewUserMessage creates a UserMessage holding a single user text turn.
func NewUserMessage(source, text string) *UserMessage {
	return &UserMessage{
		Envelope: NewEnvelope(source),
		Content:  []Content{NewTextContent(RoleUser, text)},
	}
}

// Kind implements Message.
func (*UserMessage) Kind() string { return KindUser }

// AssistantResponse carries the conversation after an agent produced a terminal turn.
// NextTopic hints the proxy where the next user turn should be routed.
type AssistantResponse struct {
	Envelope
	Content   []Content `json:"content"`
	NextTopic Topic     `json:"next_topic,omitempty"`
}

// Kind implements Message.
func (*AssistantResponse) Kind() string { return KindResponse }

// LastText returns the text of the newest turn, if any.
func (r *AssistantResponse) LastText() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[len(r.Content)-1].Text()
}

// HandoffMessage requests that the target continue the wrapped conversation.
type HandoffMessage struct {
	Envelope
	Target  Topic        `json:"target"`
	Message *UserMessage `json:"message"`
}

// Kind implements Message.
func (*HandoffMessage) Kind() string { return KindHandoff }

// ResetMessage asks the agents of a group to reset. It has no payload.
type ResetMessage struct {
	Envelope
}

// Kind implements Message.
func (*ResetMessage) Kind() string { return KindReset }

// NewResetMessage creates a ResetMessage.
func NewResetMessage(source string) *ResetMessage {
	return &ResetMessage{Envelope: NewEnvelope(source)}
}

// Unwrap returns the user-facing conversation carried by a UserMessage or a
// HandoffMessage. The second result is false for every other variant.
func Unwrap(msg Message) (*UserMessage, bool) {
	switch m := msg.(type) {
	case *UserMessage:
		return m, true
	case *HandoffMessage:
		if m.Message == nil {
			return nil, false
		}
		return m.Message, true
	default:
		return nil, false
	}
}

// NewID generates a 24 character identifier for messages and tasks.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

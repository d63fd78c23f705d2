// Package flow implements the turn loop an agent runs for every inbound
// conversation: render the system prompt, call the model, execute the tool
// calls it requests and stop on natural language content or a handoff.
package flow

import (
	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/tool"
)

// Metadata keys attached to every Result.
const (
	MetaIntent          = "intent"
	MetaNewConversation = "new_conversation"
	MetaResetHistory    = "reset_history"
	MetaToolResults     = "tool_results"
)

// DefaultMaxToolRounds bounds the tool-call rounds of one turn.
const DefaultMaxToolRounds = 10

// Input is one turn of an agent.
type Input struct {
	// Turns is the conversation so far, oldest first.
	Turns []core.Content
	// Variables are rendered into the system prompt templates.
	Variables map[string]any
	// Tools are executed and their results fed back to the model.
	Tools []tool.Tool
	// HandoffTools redirect the conversation. They are offered on the first
	// call only.
	HandoffTools []*tool.HandoffTool
}

// Result is the outcome of a turn: natural language text, or a handoff.
type Result struct {
	Text         string
	FinishReason string
	Usage        *model.TokenUsage
	Cached       bool
	// Metadata holds every key parsed out of the model text plus
	// reset_history and, when enabled, tool_results.
	Metadata map[string]any
	// Handoffs lists the target topics requested this turn in call order.
	Handoffs []core.Topic
	// Turns is the conversation after the turn, including tool call and tool
	// result turns but not the terminal assistant turn.
	Turns []core.Content
	// Variables is the prompt variable mapping after tool results were merged.
	Variables map[string]any
}

// Intent returns the "intent" metadata as a string.
func (r *Result) Intent() string {
	s, _ := r.Metadata[MetaIntent].(string)
	return s
}

// ResetHistory reports whether the model asked to start a new conversation.
func (r *Result) ResetHistory() bool {
	b, _ := r.Metadata[MetaResetHistory].(bool)
	return b
}

// HandedOff reports whether the turn ended with a handoff.
func (r *Result) HandedOff() bool { return len(r.Handoffs) > 0 }

package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/handoffmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the turn loop.
// Messages holds the rendered system turn (if any) followed by the conversation.
type Request struct {
	Messages   []core.Content   `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	JSONOutput bool             `json:"json_output,omitempty"`
	ExtraArgs  map[string]any   `json:"extra_args,omitempty"` // provider specific body fields
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed model turn: natural language text or an ordered
// batch of tool calls.
type Response struct {
	ID           string              `json:"id,omitempty"`
	Text         string              `json:"text,omitempty"`
	ToolCalls    []core.FunctionCall `json:"tool_calls,omitempty"`
	FinishReason string              `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage         `json:"usage,omitempty"`
	Cached       bool                `json:"cached,omitempty"`
}

// HasToolCalls reports whether the response consists of tool invocations only.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 && r.Text == "" }

// Content converts the response into an assistant turn attributed to source.
func (r *Response) Content(source string) core.Content {
	parts := make([]core.Part, 0, len(r.ToolCalls)+1)
	if r.Text != "" {
		parts = append(parts, core.TextPart{Text: r.Text})
	}
	for _, tc := range r.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: tc})
	}
	return core.Content{Role: core.RoleAssistant, Source: source, Parts: parts}
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the turn loop to drive generation.
type Model interface {
	// Create runs one completion. Implementations must honor ctx cancellation.
	Create(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in‑memory Model useful for examples. It answers
// with a canned completion keyed by the newest user text.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Create implements Model.
func (m *MockModel) Create(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var inputText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			inputText = req.Messages[i].Text()
			break
		}
	}
	if inputText == "" {
		return nil, fmt.Errorf("no user message provided")
	}

	m.mu.Lock()
	full := m.responses[inputText]
	m.mu.Unlock()
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}

	return &Response{Text: full, FinishReason: "stop"}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// Package tool implements the capabilities an agent can offer to the model:
// plain Go functions with schema validated arguments, handoff tools that
// redirect the conversation to another topic, and a static registry used by
// declarative configuration to resolve tool references.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/handoffmesh/internal/util"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePanic      = "PANIC"
)

// Tool is a named capability the model can invoke through function calling.
//
// Implementations should:
//   - Provide clear, descriptive names (valid LLM function names)
//   - Define a JSON schema for their parameters
//   - Honor ctx cancellation in Run
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description shown to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any

	// Run executes the tool with decoded arguments.
	Run(ctx context.Context, args map[string]any) (any, error)

	// Render turns a value returned by Run into the text fed back to the model.
	Render(value any) string
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// RenderValue is the default Render: strings pass through, nil renders empty
// and everything else is JSON encoded (falling back to fmt for values that
// cannot be encoded).
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

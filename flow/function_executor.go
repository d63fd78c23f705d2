package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/tool"
)

// CallResult is the outcome of one function call.
type CallResult struct {
	Call  core.FunctionCall
	Tool  tool.Tool // nil when the tool is unknown
	Value any
	Err   error
}

// Response renders the result as the function response fed back to the model.
func (r CallResult) Response() core.FunctionResponse {
	fr := core.FunctionResponse{ID: r.Call.ID, Name: r.Call.Name}
	if r.Err != nil {
		fr.Error = r.Err.Error()
		return fr
	}
	if r.Tool != nil {
		fr.Response = r.Tool.Render(r.Value)
	} else {
		fr.Response = tool.RenderValue(r.Value)
	}
	return fr
}

// FunctionExecutor executes a batch of function calls. Implementations must:
//   - Respect ctx cancellation
//   - Never panic (recover internally and report a PANIC ToolError)
//   - Return exactly one CallResult per incoming FunctionCall, in call order
type FunctionExecutor interface {
	Execute(ctx context.Context, tools map[string]tool.Tool, calls []core.FunctionCall) []CallResult
}

// sequentialFunctionExecutor runs calls one after another. Handoff and
// variable merge semantics depend on call order, so it is the default.
type sequentialFunctionExecutor struct {
	logger logging.Logger
}

// NewSequentialFunctionExecutor constructs the default executor.
func NewSequentialFunctionExecutor(logger logging.Logger) FunctionExecutor {
	return &sequentialFunctionExecutor{logger: logging.OrNoOp(logger)}
}

func (e *sequentialFunctionExecutor) Execute(ctx context.Context, tools map[string]tool.Tool, calls []core.FunctionCall) []CallResult {
	results := make([]CallResult, 0, len(calls))

	batchStart := time.Now()

	for _, fc := range calls {
		if err := ctx.Err(); err != nil {
			results = append(results, CallResult{Call: fc, Err: err})
			continue
		}

		results = append(results, e.executeSingle(ctx, tools, fc))
	}

	e.logger.Debug("flow.functions.batch.complete", "count", len(calls), "duration_ms", time.Since(batchStart).Milliseconds())

	return results
}

func (e *sequentialFunctionExecutor) executeSingle(ctx context.Context, tools map[string]tool.Tool, fc core.FunctionCall) (res CallResult) {
	res.Call = fc

	impl, ok := tools[fc.Name]
	if !ok {
		res.Err = tool.NewToolError(fc.Name, fmt.Sprintf("tool %s not found", fc.Name), tool.CodeNotFound)
		e.logger.Warn("flow.tool.not_found", "tool", fc.Name)
		return res
	}
	res.Tool = impl

	args, err := decodeArguments(fc.Arguments)
	if err != nil {
		res.Err = tool.NewToolError(fc.Name, err.Error(), tool.CodeValidation)
		return res
	}

	start := time.Now()

	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				res.Value = nil
				res.Err = panicError(fc.Name, r)
				e.logger.Error("flow.tool.panic", "tool", fc.Name, "recover", r)
			}
		}()
		res.Value, res.Err = impl.Run(ctx, args)
	}()

	e.logger.Info(
		"flow.tool.executed",
		"tool", fc.Name,
		"function_call_id", fc.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", res.Err != nil,
	)

	return res
}

// panicError converts a recovered panic value into a PANIC ToolError.
func panicError(name string, r any) error {
	return &tool.ToolError{
		Tool:    name,
		Message: fmt.Sprintf("panic recovered: %v", r),
		Code:    tool.CodePanic,
		Details: string(debug.Stack()),
	}
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

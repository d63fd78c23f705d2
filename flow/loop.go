package flow

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/internal/util"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/memory"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/tool"
)

const tracerName = "github.com/hupe1980/handoffmesh/flow"

// Options configures a Loop.
type Options struct {
	// Source is the agent type recorded on assistant turns.
	Source string
	Logger logging.Logger
	Tracer trace.Tracer
	// Memory selects how many turns are sent to the model.
	Memory        memory.Policy
	MaxToolRounds int
	JSONOutput    bool
	ExtraArgs     map[string]any
	// ToolResultAsVariables merges object tool results into the prompt variables.
	ToolResultAsVariables bool
	// SaveToolResults attaches tool_results to the result metadata.
	SaveToolResults bool
	Executor        FunctionExecutor
}

// Loop drives the model and tool execution for one agent.
type Loop struct {
	model     model.Model
	templates []string
	opts      Options
}

// NewLoop creates a loop calling m with the system prompt rendered from templates.
func NewLoop(m model.Model, templates []string, optFns ...func(o *Options)) *Loop {
	opts := Options{
		Logger:                logging.NoOpLogger{},
		Memory:                memory.Default(),
		MaxToolRounds:         DefaultMaxToolRounds,
		ToolResultAsVariables: true,
		SaveToolResults:       true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}

	if opts.Executor == nil {
		opts.Executor = NewSequentialFunctionExecutor(opts.Logger)
	}

	return &Loop{
		model:     m,
		templates: append([]string(nil), templates...),
		opts:      opts,
	}
}

// Run executes one turn.
//
// The model is called with the normal and the handoff tools. If the parsed
// answer asks for a new conversation, every turn but the newest is dropped
// and the model is called once more. While the model answers with tool
// calls only, the calls are executed in order; a failing tool aborts the turn
// with an UpstreamError and an unknown tool is reported back to the model as
// NOT_FOUND. A round that produced a handoff ends the turn and its other
// results are discarded. Otherwise the
// call and result turns are appended and the model is called again with the
// normal tools only.
func (l *Loop) Run(ctx context.Context, in Input) (*Result, error) {
	if l.model == nil {
		return nil, core.NewConfigurationError("flow", "agent %q has no model", l.opts.Source)
	}

	turns := append([]core.Content(nil), in.Turns...)
	// history is what the model sees; the memory policy trims only the
	// inbound turns, the exchange of this turn is always sent in full.
	history := l.opts.Memory.Apply(turns)

	vars := map[string]any{}
	maps.Copy(vars, in.Variables)

	registry := make(map[string]tool.Tool, len(in.Tools)+len(in.HandoffTools))
	handoffNames := make(map[string]bool, len(in.HandoffTools))

	normalDefs := make([]model.ToolDefinition, 0, len(in.Tools))
	for _, t := range in.Tools {
		registry[t.Name()] = t
		normalDefs = append(normalDefs, definition(t))
	}

	allDefs := append([]model.ToolDefinition(nil), normalDefs...)
	for _, h := range in.HandoffTools {
		registry[h.Name()] = h
		handoffNames[h.Name()] = true
		allDefs = append(allDefs, definition(h))
	}

	l.opts.Logger.Debug("flow.turn.start",
		"agent", l.opts.Source,
		"turns", len(turns),
		"tools", len(in.Tools),
		"handoff_tools", len(in.HandoffTools),
	)

	resp, meta, err := l.call(ctx, history, vars, allDefs, 0)
	if err != nil {
		return nil, err
	}

	resetHistory := false
	if truthy(meta[MetaNewConversation]) {
		if len(turns) > 0 {
			turns = turns[len(turns)-1:]
		}
		history = l.opts.Memory.Apply(turns)

		l.opts.Logger.Info("flow.turn.new_conversation", "agent", l.opts.Source)

		resp, meta, err = l.call(ctx, history, vars, allDefs, 0)
		if err != nil {
			return nil, err
		}

		resetHistory = true
	}

	var (
		handoffs    []core.Topic
		toolResults = map[string]any{}
		rounds      int
	)

	for resp.HasToolCalls() {
		if rounds >= l.opts.MaxToolRounds {
			return nil, core.NewUpstreamError("flow", fmt.Errorf("agent %q exceeded %d tool rounds", l.opts.Source, l.opts.MaxToolRounds))
		}
		rounds++

		results := l.opts.Executor.Execute(ctx, registry, resp.ToolCalls)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		responses := make([]core.Part, 0, len(results))
		for _, r := range results {
			if handoffNames[r.Call.Name] {
				if r.Err != nil {
					return nil, core.NewUpstreamError("flow", fmt.Errorf("handoff %s: %w", r.Call.Name, r.Err))
				}
				handoffs = append(handoffs, topicOf(r.Value))
				continue
			}

			if r.Tool != nil && r.Err != nil {
				return nil, core.NewUpstreamError(r.Call.Name, r.Err)
			}

			responses = append(responses, core.FunctionResponsePart{FunctionResponse: r.Response()})

			if r.Tool == nil {
				continue
			}

			toolResults[r.Call.Name] = r.Value

			if l.opts.ToolResultAsVariables {
				if obj, ok := r.Value.(map[string]any); ok {
					util.MergeValues(vars, obj)
				}
			}
		}

		if len(handoffs) > 0 {
			l.opts.Logger.Info("flow.turn.handoff", "agent", l.opts.Source, "targets", handoffs)
			break
		}

		exchange := []core.Content{
			resp.Content(l.opts.Source),
			{Role: core.RoleTool, Source: l.opts.Source, Parts: responses},
		}
		turns = append(turns, exchange...)
		history = append(history, exchange...)

		resp, meta, err = l.call(ctx, history, vars, normalDefs, rounds)
		if err != nil {
			return nil, err
		}
	}

	if l.opts.SaveToolResults {
		meta[MetaToolResults] = toolResults
	}

	meta[MetaResetHistory] = resetHistory

	return &Result{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Cached:       resp.Cached,
		Metadata:     meta,
		Handoffs:     handoffs,
		Turns:        turns,
		Variables:    vars,
	}, nil
}

// call renders the prompt and issues one model request with the given view
// of the conversation. The returned response text has its JSON blocks removed; their keys
// are returned as metadata.
func (l *Loop) call(ctx context.Context, turns []core.Content, vars map[string]any, defs []model.ToolDefinition, round int) (*model.Response, map[string]any, error) {
	if ml := core.ModelLimiterFrom(ctx); ml != nil {
		if err := ml.Increment(); err != nil {
			return nil, nil, core.NewUpstreamError(l.model.Info().Provider, err)
		}
	}

	ctx, span := l.opts.Tracer.Start(ctx, "flow.model.create", trace.WithAttributes(
		attribute.String("agent", l.opts.Source),
		attribute.String("model", l.model.Info().Name),
		attribute.Int("round", round),
		attribute.Int("tools", len(defs)),
	))
	defer span.End()

	messages := make([]core.Content, 0, len(turns)+1)
	if prompt := util.BuildSystemPrompt(l.templates, vars); prompt != "" {
		messages = append(messages, core.NewTextContent(core.RoleSystem, prompt))
	}
	messages = append(messages, turns...)

	l.opts.Logger.Debug("flow.model.call", "agent", l.opts.Source, "round", round, "messages", len(messages), "tools", len(defs))

	resp, err := l.model.Create(ctx, model.Request{
		Messages:   messages,
		Tools:      defs,
		JSONOutput: l.opts.JSONOutput,
		ExtraArgs:  l.opts.ExtraArgs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}

		return nil, nil, core.NewUpstreamError(l.model.Info().Provider, err)
	}

	if resp == nil {
		return nil, nil, core.NewUpstreamError(l.model.Info().Provider, fmt.Errorf("empty model response"))
	}

	meta := map[string]any{}
	if resp.Text != "" {
		out := *resp
		out.Text, meta = util.ParseAssistantMessage(resp.Text)
		resp = &out
	}

	span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))

	return resp, meta, nil
}

func definition(t tool.Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

func topicOf(v any) core.Topic {
	switch t := v.(type) {
	case core.Topic:
		return t
	case string:
		return core.Topic(t)
	default:
		return core.Topic(tool.RenderValue(v))
	}
}

// truthy mirrors how the model's JSON flags are interpreted: false, 0, "",
// "false" and nil are false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(strings.ToLower(val))
		return s != "" && s != "false" && s != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/internal/testutil"
	"github.com/hupe1980/handoffmesh/memory"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/tool"
)

type countingTool struct {
	name   string
	result any
	err    error
	calls  int
	panics bool
}

func (c *countingTool) Name() string               { return c.name }
func (c *countingTool) Description() string        { return "counting tool " + c.name }
func (c *countingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (c *countingTool) Render(v any) string        { return tool.RenderValue(v) }
func (c *countingTool) Run(_ context.Context, _ map[string]any) (any, error) {
	c.calls++
	if c.panics {
		panic("boom")
	}
	return c.result, c.err
}

func TestLoop_ToolRoundTrip(t *testing.T) {
	x := &countingTool{name: "X", result: "x-result"}
	y := &countingTool{name: "Y", result: map[string]any{"plan": "pro"}}

	m := testutil.NewScriptedModel("stub", testutil.Calls("X", "Y"), testutil.Text("done"))
	loop := NewLoop(m, []string{"Plan: {{plan}}"}, func(o *Options) { o.Source = "billing" })

	res, err := loop.Run(context.Background(), Input{
		Turns: testutil.Conversation("I want a refund"),
		Tools: []tool.Tool{x, y},
	})
	require.NoError(t, err)

	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 1, x.calls)
	assert.Equal(t, 1, y.calls)
	assert.Equal(t, 2, m.Calls())
	assert.False(t, res.HandedOff())
	assert.False(t, res.ResetHistory())

	// call turn and result turn were appended
	require.Len(t, res.Turns, 3)
	assert.Equal(t, core.RoleAssistant, res.Turns[1].Role)
	assert.Len(t, res.Turns[1].FunctionCalls(), 2)
	assert.Equal(t, core.RoleTool, res.Turns[2].Role)
	frs := res.Turns[2].FunctionResponses()
	require.Len(t, frs, 2)
	assert.Equal(t, "x-result", frs[0].Response)
	assert.JSONEq(t, `{"plan":"pro"}`, frs[1].Response)

	// object results merged into the prompt variables for the next call
	assert.Equal(t, "pro", res.Variables["plan"])
	reqs := m.Requests()
	assert.Equal(t, core.RoleUser, reqs[0].Messages[0].Role, "segment with missing variable is dropped")
	assert.Equal(t, "Plan: pro", reqs[1].Messages[0].Text())

	toolResults := res.Metadata[MetaToolResults].(map[string]any)
	assert.Equal(t, "x-result", toolResults["X"])
}

func TestLoop_HandoffPriority(t *testing.T) {
	x := &countingTool{name: "X", result: "ignored"}
	billing := tool.NewHandoffTool("billing", "Billing team", "billing")

	m := testutil.NewScriptedModel("stub", testutil.Calls("X", billing.Name()))
	loop := NewLoop(m, nil)

	res, err := loop.Run(context.Background(), Input{
		Turns:        testutil.Conversation("hi"),
		Tools:        []tool.Tool{x},
		HandoffTools: []*tool.HandoffTool{billing},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, []core.Topic{"billing"}, res.Handoffs)
	assert.Len(t, res.Turns, 1, "results of a handoff round are discarded")
	assert.Equal(t, []string{"X", "handoff_to_billing"}, m.ToolNames(0))
}

func TestLoop_HandoffToolsOnlyOnFirstCall(t *testing.T) {
	x := &countingTool{name: "X", result: 1}
	h := tool.NewHandoffTool("support", "Support", "support")

	m := testutil.NewScriptedModel("stub", testutil.Calls("X"), testutil.Text("ok"))
	res, err := NewLoop(m, nil).Run(context.Background(), Input{
		Turns:        testutil.Conversation("hi"),
		Tools:        []tool.Tool{x},
		HandoffTools: []*tool.HandoffTool{h},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, []string{"X", "handoff_to_support"}, m.ToolNames(0))
	assert.Equal(t, []string{"X"}, m.ToolNames(1))
}

func TestLoop_MultipleHandoffsKeepOrder(t *testing.T) {
	a := tool.NewHandoffTool("a", "A", "topic_a")
	b := tool.NewHandoffTool("b", "B", "topic_b")

	m := testutil.NewScriptedModel("stub", testutil.Calls(b.Name(), a.Name()))
	res, err := NewLoop(m, nil).Run(context.Background(), Input{
		Turns:        testutil.Conversation("hi"),
		HandoffTools: []*tool.HandoffTool{a, b},
	})
	require.NoError(t, err)
	assert.Equal(t, []core.Topic{"topic_b", "topic_a"}, res.Handoffs)
}

func TestLoop_NewConversation(t *testing.T) {
	m := testutil.NewScriptedModel("stub",
		testutil.Text(`{"new_conversation": true}`),
		testutil.Text(`Fresh start {"intent": "MAIN_UC"}`),
	)

	res, err := NewLoop(m, nil).Run(context.Background(), Input{
		Turns: testutil.Conversation("old question", "old answer", "new topic"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Fresh start", res.Text)
	assert.True(t, res.ResetHistory())
	assert.Equal(t, "MAIN_UC", res.Intent())
	require.Len(t, res.Turns, 1)
	assert.Equal(t, "new topic", res.Turns[0].Text())

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Messages, 3)
	assert.Len(t, reqs[1].Messages, 1)
}

func TestLoop_UnknownTool(t *testing.T) {
	m := testutil.NewScriptedModel("stub", testutil.Calls("missing"), testutil.Text("sorry"))
	res, err := NewLoop(m, nil).Run(context.Background(), Input{
		Turns: testutil.Conversation("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Text)

	frs := res.Turns[2].FunctionResponses()
	require.Len(t, frs, 1)
	assert.Contains(t, frs[0].Error, tool.CodeNotFound)
	assert.Empty(t, res.Metadata[MetaToolResults])
}

func TestLoop_ToolErrorIsUpstream(t *testing.T) {
	failing := &countingTool{name: "fails", err: errors.New("db down")}

	m := testutil.NewScriptedModel("stub", testutil.Calls("fails"), testutil.Text("sorry"))
	res, err := NewLoop(m, nil).Run(context.Background(), Input{
		Turns: testutil.Conversation("hi"),
		Tools: []tool.Tool{failing},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, core.IsUpstream(err))
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, m.Calls(), "no model call after a failed tool")
	assert.Equal(t, 1, failing.calls)
}

func TestLoop_PanicIsUpstream(t *testing.T) {
	p := &countingTool{name: "p", panics: true}

	m := testutil.NewScriptedModel("stub", testutil.Calls("p"), testutil.Text("recovered"))
	_, err := NewLoop(m, nil).Run(context.Background(), Input{
		Turns: testutil.Conversation("hi"),
		Tools: []tool.Tool{p},
	})
	require.Error(t, err)
	assert.True(t, core.IsUpstream(err))

	var te *tool.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodePanic, te.Code)
	assert.Equal(t, 1, m.Calls())
}

func TestLoop_ZeroMemoryKeepsToolExchange(t *testing.T) {
	x := &countingTool{name: "X", result: "x-result"}

	m := testutil.NewScriptedModel("stub", testutil.Calls("X"), testutil.Text("done"))
	res, err := NewLoop(m, nil, func(o *Options) { o.Memory = memory.Zero() }).Run(context.Background(), Input{
		Turns: testutil.Conversation("old question", "old answer", "I want a refund"),
		Tools: []tool.Tool{x},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Len(t, res.Turns, 5, "full history is kept on the result")

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "I want a refund", reqs[0].Messages[0].Text())

	second := reqs[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "I want a refund", second[0].Text())
	assert.Equal(t, core.RoleAssistant, second[1].Role)
	assert.Len(t, second[1].FunctionCalls(), 1)
	assert.Equal(t, core.RoleTool, second[2].Role)
	assert.Len(t, second[2].FunctionResponses(), 1)
}

func TestLoop_MaxToolRounds(t *testing.T) {
	x := &countingTool{name: "X", result: 1}

	m := testutil.NewScriptedModel("stub", testutil.Calls("X"), testutil.Calls("X"), testutil.Calls("X"))
	_, err := NewLoop(m, nil, func(o *Options) { o.MaxToolRounds = 2 }).Run(context.Background(), Input{
		Turns: testutil.Conversation("hi"),
		Tools: []tool.Tool{x},
	})
	require.Error(t, err)
	assert.True(t, core.IsUpstream(err))
	assert.Equal(t, 2, x.calls)
}

func TestLoop_ModelErrorIsUpstream(t *testing.T) {
	m := new(testutil.MockModel)
	m.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited")).Once()

	_, err := NewLoop(m, nil).Run(context.Background(), Input{Turns: testutil.Conversation("hi")})
	require.Error(t, err)
	assert.True(t, core.IsUpstream(err))
	m.AssertExpectations(t)
}

func TestLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := testutil.NewScriptedModel("stub", testutil.Text("never"))
	_, err := NewLoop(m, nil).Run(ctx, Input{Turns: testutil.Conversation("hi")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_MemoryPolicyAndLimiter(t *testing.T) {
	m := new(testutil.MockModel)
	m.On("Create", mock.Anything, mock.MatchedBy(func(req model.Request) bool {
		return len(req.Messages) == 2 && req.Messages[0].Role == core.RoleSystem && req.Messages[1].Text() == "third"
	})).Return(testutil.Text("ok"), nil).Once()

	loop := NewLoop(m, []string{"You are helpful."}, func(o *Options) { o.Memory = memory.Zero() })

	ml := core.NewModelLimiter(1)
	ctx := core.WithModelLimiter(context.Background(), ml)

	_, err := loop.Run(ctx, Input{Turns: testutil.Conversation("first", "second", "third")})
	require.NoError(t, err)
	m.AssertExpectations(t)

	_, err = loop.Run(ctx, Input{Turns: testutil.Conversation("again")})
	assert.True(t, core.IsUpstream(err))
	assert.Equal(t, 2, ml.Count())
}

func TestLoop_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))

	m := testutil.NewScriptedModel("stub", testutil.Text("ok"))
	_, err := NewLoop(m, nil, func(o *Options) { o.Tracer = tp.Tracer("test") }).Run(context.Background(), Input{
		Turns: testutil.Conversation("hi"),
	})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "flow.model.create", spans[0].Name())
}

func TestLoop_NoModel(t *testing.T) {
	_, err := NewLoop(nil, nil).Run(context.Background(), Input{})
	assert.True(t, core.IsConfiguration(err))
}

func TestTruthy(t *testing.T) {
	assert.True(t, truthy(true))
	assert.True(t, truthy("yes"))
	assert.True(t, truthy(1.0))
	assert.False(t, truthy("false"))
	assert.False(t, truthy(""))
	assert.False(t, truthy(nil))
	assert.False(t, truthy(0.0))
}

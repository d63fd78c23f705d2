package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/model"
)

// MockModel is a testify mock implementing model.Model.
//
//	m := new(testutil.MockModel)
//	m.On("Create", mock.Anything, mock.Anything).Return(testutil.Text("hi"), nil).Once()
type MockModel struct {
	mock.Mock
}

// Create implements model.Model.
func (m *MockModel) Create(ctx context.Context, req model.Request) (*model.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*model.Response)
	return resp, args.Error(1)
}

// Info implements model.Model.
func (m *MockModel) Info() model.Info {
	return model.Info{Name: "mock", Provider: "testify", SupportsTools: true}
}

// ScriptedModel replays responses in order and records every request.
// Create fails once the script is exhausted.
type ScriptedModel struct {
	name string

	mu        sync.Mutex
	responses []*model.Response
	requests  []model.Request
}

// NewScriptedModel creates a model answering with responses in order.
func NewScriptedModel(name string, responses ...*model.Response) *ScriptedModel {
	return &ScriptedModel{name: name, responses: responses}
}

// Create implements model.Model.
func (s *ScriptedModel) Create(ctx context.Context, req model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if len(s.responses) == 0 {
		return nil, fmt.Errorf("%s: script exhausted after %d calls", s.name, len(s.requests)-1)
	}

	next := s.responses[0]
	s.responses = s.responses[1:]

	return next, nil
}

// Info implements model.Model.
func (s *ScriptedModel) Info() model.Info {
	return model.Info{Name: s.name, Provider: "scripted", SupportsTools: true}
}

// Calls returns the number of Create calls so far.
func (s *ScriptedModel) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the recorded requests.
func (s *ScriptedModel) Requests() []model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Request(nil), s.requests...)
}

// ToolNames lists the tool names offered in request i.
func (s *ScriptedModel) ToolNames(i int) []string {
	reqs := s.Requests()
	if i >= len(reqs) {
		return nil
	}
	names := make([]string, 0, len(reqs[i].Tools))
	for _, t := range reqs[i].Tools {
		names = append(names, t.Function.Name)
	}
	return names
}

// Text is a terminal response.
func Text(text string) *model.Response {
	return &model.Response{Text: text, FinishReason: "stop"}
}

// Calls is a response consisting of calls to the named tools without arguments.
func Calls(names ...string) *model.Response {
	calls := make([]core.FunctionCall, 0, len(names))
	for i, n := range names {
		calls = append(calls, core.FunctionCall{ID: fmt.Sprintf("call_%d", i+1), Name: n, Arguments: "{}"})
	}
	return &model.Response{ToolCalls: calls, FinishReason: "tool_calls"}
}

// Call is a response with a single tool call carrying args (JSON).
func Call(name, args string) *model.Response {
	return &model.Response{
		ToolCalls:    []core.FunctionCall{{ID: "call_" + strings.ToLower(name), Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

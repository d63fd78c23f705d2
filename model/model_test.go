package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/handoffmesh/core"
)

func TestMockModel_Create(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hi", "hello there")

	resp, err := m.Create(context.Background(), Request{Messages: []core.Content{
		core.NewTextContent(core.RoleSystem, "be nice"),
		core.NewTextContent(core.RoleUser, "hi"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = m.Create(context.Background(), Request{Messages: []core.Content{core.NewTextContent(core.RoleUser, "other")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Text)

	_, err = m.Create(context.Background(), Request{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Create(ctx, Request{Messages: []core.Content{core.NewTextContent(core.RoleUser, "hi")}})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, Info{Name: "mock", Provider: "test", SupportsTools: true}, m.Info())
}

func TestResponse_Content(t *testing.T) {
	r := &Response{ToolCalls: []core.FunctionCall{{ID: "1", Name: "lookup", Arguments: `{}`}}}
	assert.True(t, r.HasToolCalls())

	c := r.Content("billing")
	assert.Equal(t, core.RoleAssistant, c.Role)
	assert.Equal(t, "billing", c.Source)
	require.Len(t, c.FunctionCalls(), 1)

	text := &Response{Text: "done"}
	assert.False(t, text.HasToolCalls())
	assert.Equal(t, "done", text.Content("billing").Text())
}

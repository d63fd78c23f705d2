package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoffKey(t *testing.T) {
	assert.Equal(t, "handoff_to_billing", HandoffKey("billing"))
	assert.Equal(t, "handoff_to_Tier_2_support", HandoffKey("Tier 2.support"))
	assert.Equal(t, "handoff_to_a-b_c", HandoffKey("a-b_c"))
	assert.Equal(t, HandoffKey("x y"), HandoffKey("x y"))
}

func TestUnwrap(t *testing.T) {
	um := NewUserMessage("user", "hello")

	got, ok := Unwrap(um)
	require.True(t, ok)
	assert.Same(t, um, got)

	got, ok = Unwrap(&HandoffMessage{Envelope: NewEnvelope("master"), Target: "billing", Message: um})
	require.True(t, ok)
	assert.Same(t, um, got)

	_, ok = Unwrap(&HandoffMessage{Envelope: NewEnvelope("master")})
	assert.False(t, ok)

	_, ok = Unwrap(NewResetMessage("runner"))
	assert.False(t, ok)
}

func TestEnvelope_PathAndVariables(t *testing.T) {
	env := NewEnvelope("user")
	assert.Len(t, env.ID, 24)

	env.AppendPath("proxy")
	env.AppendPath("master")
	env.AppendPath("proxy")
	assert.Equal(t, []string{"proxy", "master", "proxy"}, env.Path)
	assert.True(t, env.Visited("master"))
	assert.False(t, env.Visited("billing"))

	assert.Empty(t, env.SystemVariables())
	env.SetSystemVariables(map[string]any{"customer": "ada"})
	assert.Equal(t, "ada", env.SystemVariables()["customer"])
}

func TestContentHelpers(t *testing.T) {
	c := Content{Role: RoleAssistant, Parts: []Part{
		TextPart{Text: "a"},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "1", Name: "x"}},
		TextPart{Text: "b"},
		FunctionResponsePart{FunctionResponse: FunctionResponse{ID: "1", Name: "x", Response: "ok"}},
	}}
	assert.Equal(t, "ab", c.Text())
	require.Len(t, c.FunctionCalls(), 1)
	assert.Equal(t, "x", c.FunctionCalls()[0].Name)
	require.Len(t, c.FunctionResponses(), 1)

	resp := &AssistantResponse{Content: []Content{NewTextContent(RoleUser, "q"), NewTextContent(RoleAssistant, "done")}}
	assert.Equal(t, "done", resp.LastText())
	assert.Equal(t, "", (&AssistantResponse{}).LastText())
}

func TestErrorTaxonomy(t *testing.T) {
	cfg := fmt.Errorf("bootstrap: %w", NewConfigurationError("group", "duplicate participant %q", "a"))
	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsProtocol(cfg))
	assert.Contains(t, cfg.Error(), `duplicate participant "a"`)

	proto := NewProtocolError("publish", "no subscribers for %s", "x")
	assert.True(t, IsProtocol(proto))
	assert.Equal(t, "protocol error [publish]: no subscribers for x", proto.Error())

	cause := errors.New("rate limited")
	up := NewUpstreamError("openai", cause)
	assert.True(t, IsUpstream(up))
	assert.ErrorIs(t, up, cause)
	assert.NoError(t, NewUpstreamError("openai", nil))
}

func TestModelLimiter(t *testing.T) {
	ml := NewModelLimiter(2)
	assert.NoError(t, ml.Increment())
	assert.NoError(t, ml.Increment())
	assert.Error(t, ml.Increment())
	assert.Equal(t, 3, ml.Count())
	assert.Equal(t, -1, ml.Remaining())

	unlimited := NewModelLimiter(0)
	for i := 0; i < 10; i++ {
		assert.NoError(t, unlimited.Increment())
	}
	assert.Equal(t, -1, unlimited.Remaining())

	ctx := WithModelLimiter(context.Background(), ml)
	assert.Same(t, ml, ModelLimiterFrom(ctx))
	assert.Nil(t, ModelLimiterFrom(context.Background()))
}

package tool

import (
	"context"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/internal/util"
)

// HandoffTool requests that the remaining conversation moves to another
// agent or group. Running it yields the target topic; its value is never fed
// back into the conversation.
type HandoffTool struct {
	name        string
	description string
	targetName  string
	topic       core.Topic
}

// NewHandoffTool builds the handoff tool for a target identified by name.
// The tool name is core.HandoffKey(targetName).
func NewHandoffTool(targetName, description string, topic core.Topic) *HandoffTool {
	return &HandoffTool{
		name:        core.HandoffKey(targetName),
		description: description,
		targetName:  targetName,
		topic:       topic,
	}
}

func (t *HandoffTool) Name() string               { return t.name }
func (t *HandoffTool) Description() string        { return t.description }
func (t *HandoffTool) Parameters() map[string]any { return util.EmptyObjectSchema() }

// TargetName is the name of the container or group the tool hands off to.
func (t *HandoffTool) TargetName() string { return t.targetName }

// Topic is the topic the tool hands off to.
func (t *HandoffTool) Topic() core.Topic { return t.topic }

// Run returns the target topic.
func (t *HandoffTool) Run(ctx context.Context, _ map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.topic, nil
}

func (t *HandoffTool) Render(value any) string { return RenderValue(value) }

// SameTarget reports whether two handoff tools share a key and a topic.
func (t *HandoffTool) SameTarget(other *HandoffTool) bool {
	return other != nil && t.name == other.name && t.topic == other.topic
}

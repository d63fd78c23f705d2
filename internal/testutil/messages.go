package testutil

import (
	"github.com/hupe1980/handoffmesh/core"
)

// Conversation builds alternating user / assistant text turns starting with a user turn.
func Conversation(texts ...string) []core.Content {
	turns := make([]core.Content, 0, len(texts))
	for i, t := range texts {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		turns = append(turns, core.NewTextContent(role, t))
	}
	return turns
}

// UserMessage builds a UserMessage from source with the given path and turns.
func UserMessage(source string, path []string, texts ...string) *core.UserMessage {
	msg := &core.UserMessage{
		Envelope: core.NewEnvelope(source),
		Content:  Conversation(texts...),
	}
	msg.Path = append(msg.Path, path...)
	return msg
}

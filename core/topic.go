package core

import "strings"

// Topic is an opaque routing key. Agents subscribe to topics and receive every
// message published to them.
type Topic string

// String returns the raw topic value.
func (t Topic) String() string { return string(t) }

// handoffPrefix prefixes every handoff tool name.
const handoffPrefix = "handoff_to_"

// HandoffKey computes the tool name used to hand a conversation to the agent or
// group called name. Runes outside [A-Za-z0-9_-] become '_' so the key is a
// valid function name for every provider.
func HandoffKey(name string) string {
	var b strings.Builder
	b.Grow(len(handoffPrefix) + len(name))
	b.WriteString(handoffPrefix)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

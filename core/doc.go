// Package core provides the foundational domain types and contracts used by
// handoffmesh. It defines:
//
//   - Content / Part (role based conversation turns)
//   - Message envelopes (UserMessage, AssistantResponse, HandoffMessage, ResetMessage)
//   - Topic and HandoffKey (routing identities)
//   - The Bus / Handler / Factory contracts implemented by a message runtime
//   - The error taxonomy (configuration, protocol, upstream)
//
// The package intentionally keeps implementation concerns (delivery, LLM calls,
// tool execution) out of scope, exposing small interfaces so the agent and
// runner layers stay decoupled from a concrete runtime.
package core

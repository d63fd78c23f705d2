// Package memory describes how much prior conversation an agent sends to its
// model. A Policy is attached to every container and applied to the turn list
// right before each LLM call; the conversation carried by the message itself
// is never truncated.
package memory

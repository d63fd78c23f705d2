package core

import "context"

// Handler processes messages delivered to one agent instance.
type Handler interface {
	Handle(ctx context.Context, mctx MessageContext, msg Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, mctx MessageContext, msg Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, mctx MessageContext, msg Message) error {
	return f(ctx, mctx, msg)
}

// Factory constructs the agent instance for an agent type. The bus invokes it
// lazily on first delivery.
type Factory func() (Handler, error)

// Publisher publishes messages to topics. Publishing is fire-and-forget from the
// publisher's point of view.
type Publisher interface {
	Publish(ctx context.Context, msg Message, topic Topic) error
}

// MessageContext is handed to a Handler for each delivery. Publishing through it
// stamps the handling agent as the sender.
type MessageContext interface {
	Publisher
	// AgentType is the type of the agent handling the delivery.
	AgentType() string
	// Topic is the topic the message was published to.
	Topic() Topic
	// Sender is the agent type that published the message ("" for external publishes).
	Sender() string
}

// Bus is the message runtime contract consumed by containers, groups and the runner.
type Bus interface {
	Publisher
	RegisterFactory(ctx context.Context, agentType string, factory Factory) error
	AddSubscription(ctx context.Context, topic Topic, agentType string) error
	Start(ctx context.Context) error
	// StopWhenIdle blocks until no delivery is pending and no handler is running,
	// then stops dispatching. It returns the first handler failure, if any.
	StopWhenIdle(ctx context.Context) error
}

package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/handoffmesh/core"
)

// Subscription is a recorded AddSubscription call.
type Subscription struct {
	Topic     core.Topic
	AgentType string
}

// RecordingBus is a core.Bus that records registrations and publishes
// without delivering anything.
type RecordingBus struct {
	mu            sync.Mutex
	Factories     map[string]core.Factory
	Registered    []string
	Subscriptions []Subscription
	Published     []Subscription // Topic + message kind in AgentType
}

// NewRecordingBus creates an empty RecordingBus.
func NewRecordingBus() *RecordingBus {
	return &RecordingBus{Factories: map[string]core.Factory{}}
}

func (b *RecordingBus) RegisterFactory(_ context.Context, agentType string, f core.Factory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.Factories[agentType]; ok {
		return core.NewProtocolError("register", "agent type %q already registered", agentType)
	}
	b.Factories[agentType] = f
	b.Registered = append(b.Registered, agentType)
	return nil
}

func (b *RecordingBus) AddSubscription(_ context.Context, topic core.Topic, agentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Subscriptions = append(b.Subscriptions, Subscription{Topic: topic, AgentType: agentType})
	return nil
}

func (b *RecordingBus) Publish(_ context.Context, msg core.Message, topic core.Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Published = append(b.Published, Subscription{Topic: topic, AgentType: msg.Kind()})
	return nil
}

func (b *RecordingBus) Start(context.Context) error        { return nil }
func (b *RecordingBus) StopWhenIdle(context.Context) error { return nil }

// Subscribed reports whether agentType is subscribed to topic.
func (b *RecordingBus) Subscribed(topic core.Topic, agentType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.Subscriptions {
		if s.Topic == topic && s.AgentType == agentType {
			return true
		}
	}
	return false
}

// String renders the registrations for failure messages.
func (b *RecordingBus) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("registered=%v subscriptions=%v", b.Registered, b.Subscriptions)
}

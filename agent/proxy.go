package agent

import (
	"context"

	"github.com/hupe1980/handoffmesh/core"
)

// proxy relays conversations between the outside of a group and the agent
// currently in charge inside it. innerTopic is its only mutable state and is
// written by its own handler only.
type proxy struct {
	cfg        Config
	innerTopic core.Topic
}

func newProxy(cfg Config) *proxy {
	inner := cfg.InnerTopic
	if inner == "" {
		inner = cfg.MasterTopic
	}
	return &proxy{cfg: cfg, innerTopic: inner}
}

// InnerTopic returns the topic inbound conversations are forwarded to.
func (p *proxy) InnerTopic() core.Topic { return p.innerTopic }

func (p *proxy) Handle(ctx context.Context, mctx core.MessageContext, msg core.Message) error {
	switch m := msg.(type) {
	case *core.UserMessage, *core.HandoffMessage:
		user, ok := core.Unwrap(m)
		if !ok {
			return core.NewProtocolError("proxy.handle", "proxy %q received an empty handoff", p.cfg.Name)
		}
		return p.forwardInward(ctx, mctx, user)
	case *core.AssistantResponse:
		return p.forwardOutward(ctx, mctx, m)
	case *core.ResetMessage:
		if p.cfg.GroupTopic == "" {
			return nil
		}
		return publish(ctx, mctx, p.cfg.Logger, m, p.cfg.GroupTopic)
	default:
		return core.NewProtocolError("proxy.handle", "proxy %q cannot handle %s", p.cfg.Name, msg.Kind())
	}
}

func (p *proxy) forwardInward(ctx context.Context, mctx core.MessageContext, msg *core.UserMessage) error {
	msg.AppendPath(p.cfg.Name)

	p.cfg.Logger.Info("proxy.forward.inner", "agent", p.cfg.Name, "source", msg.Source, "topic", p.innerTopic)

	msg.Source = p.cfg.AgentType

	if p.innerTopic == "" {
		return core.NewProtocolError("proxy.forward", "proxy %q has no inner topic", p.cfg.Name)
	}

	return publish(ctx, mctx, p.cfg.Logger, msg, p.innerTopic)
}

func (p *proxy) forwardOutward(ctx context.Context, mctx core.MessageContext, resp *core.AssistantResponse) error {
	resp.AppendPath(p.cfg.Name)

	if resp.NextTopic != "" {
		p.innerTopic = resp.NextTopic
	}

	for _, topic := range p.cfg.OuterTopics {
		p.cfg.Logger.Info("proxy.forward.outer", "agent", p.cfg.Name, "source", resp.Source, "topic", topic)

		resp.NextTopic = p.cfg.AgentTopic
		resp.Source = p.cfg.AgentType

		if err := publish(ctx, mctx, p.cfg.Logger, resp, topic); err != nil {
			return err
		}
	}

	return nil
}

package agent

import (
	"context"
	"strings"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/flow"
	"github.com/hupe1980/handoffmesh/tool"
)

// generic is the turn-taking agent shared by the Plain, Assistant and Master roles.
type generic struct {
	cfg      Config
	behavior behavior
	loop     *flow.Loop
}

func newGeneric(cfg Config, b behavior) *generic {
	loop := flow.NewLoop(cfg.Model, cfg.SystemPrompt, func(o *flow.Options) {
		o.Source = cfg.AgentType
		o.Logger = cfg.Logger
		o.Tracer = cfg.Tracer
		o.Memory = cfg.Memory
		o.MaxToolRounds = cfg.MaxToolRounds
		o.JSONOutput = cfg.JSONOutput
		o.ExtraArgs = cfg.ExtraArgs
		o.ToolResultAsVariables = cfg.ToolResultAsVariables
		o.SaveToolResults = cfg.SaveToolResults
	})

	return &generic{cfg: cfg, behavior: b, loop: loop}
}

func (g *generic) Handle(ctx context.Context, mctx core.MessageContext, msg core.Message) error {
	switch m := msg.(type) {
	case *core.UserMessage, *core.HandoffMessage:
		user, ok := core.Unwrap(m)
		if !ok {
			return core.NewProtocolError("agent.handle", "agent %q received an empty handoff", g.cfg.Name)
		}
		return g.handleUser(ctx, mctx, user)
	case *core.AssistantResponse:
		g.cfg.Logger.Debug("agent.response.ignored", "agent", g.cfg.Name, "source", m.Source)
		return nil
	case *core.ResetMessage:
		return nil
	default:
		return core.NewProtocolError("agent.handle", "agent %q cannot handle %s", g.cfg.Name, msg.Kind())
	}
}

func (g *generic) handleUser(ctx context.Context, mctx core.MessageContext, msg *core.UserMessage) error {
	msg.AppendPath(g.cfg.Name)

	g.cfg.Logger.Info("agent.turn.start", "agent", g.cfg.Name, "source", msg.Source, "path", msg.Path)

	res, err := g.loop.Run(ctx, flow.Input{
		Turns:        msg.Content,
		Variables:    msg.SystemVariables(),
		Tools:        g.cfg.Tools,
		HandoffTools: g.behavior.handoffTools(&g.cfg, msg),
	})
	if err != nil {
		g.cfg.Logger.Error("agent.turn.error", "agent", g.cfg.Name, "error", err.Error())
		return err
	}

	msg.Content = res.Turns
	msg.SetSystemVariables(res.Variables)

	handoffs := append(res.Handoffs, g.behavior.extraHandoffs(&g.cfg, res)...)
	for _, target := range handoffs {
		if target == "" {
			continue
		}

		g.cfg.Logger.Info("agent.turn.handoff", "agent", g.cfg.Name, "target", target)

		handoff := &core.HandoffMessage{
			Envelope: core.NewEnvelope(g.cfg.AgentType),
			Target:   target,
			Message:  msg,
		}
		handoff.Traces = msg.Traces

		return publish(ctx, mctx, g.cfg.Logger, handoff, target)
	}

	content := append(res.Turns, core.NewTextContent(core.RoleAssistant, res.Text))
	content[len(content)-1].Source = g.cfg.AgentType
	msg.Content = content

	resp := &core.AssistantResponse{
		Envelope: core.Envelope{
			ID:       core.NewID(),
			Source:   g.cfg.AgentType,
			Path:     append([]string(nil), msg.Path...),
			Traces:   msg.Traces,
			Metadata: res.Metadata,
		},
		Content:   content,
		NextTopic: g.behavior.nextReceiver(&g.cfg, res),
	}

	g.cfg.Logger.Info("agent.turn.complete", "agent", g.cfg.Name, "next_topic", resp.NextTopic, "finish_reason", res.FinishReason)

	return publish(ctx, mctx, g.cfg.Logger, resp, g.cfg.ProxyTopic)
}

func allHandoffTools(cfg *Config, _ *core.UserMessage) []*tool.HandoffTool {
	out := make([]*tool.HandoffTool, 0, len(cfg.HandoffTools)+len(cfg.EscalationTools))
	out = append(out, cfg.HandoffTools...)
	return append(out, cfg.EscalationTools...)
}

// masterHandoffTools drops downward tools whose target was already visited
// in this conversation chain. Escalation tools are always offered.
func masterHandoffTools(cfg *Config, msg *core.UserMessage) []*tool.HandoffTool {
	out := make([]*tool.HandoffTool, 0, len(cfg.HandoffTools)+len(cfg.EscalationTools))
	for _, t := range cfg.HandoffTools {
		if msg.Visited(t.TargetName()) {
			continue
		}
		out = append(out, t)
	}
	return append(out, cfg.EscalationTools...)
}

func noExtraHandoffs(*Config, *flow.Result) []core.Topic { return nil }

func assistantHandoffs(cfg *Config, res *flow.Result) []core.Topic {
	if strings.Contains(res.Intent(), IntentOutOfScope) {
		return []core.Topic{cfg.MasterTopic}
	}
	return nil
}

func configuredNextReceiver(cfg *Config, _ *flow.Result) core.Topic {
	switch cfg.NextReceiver {
	case "", NextReceiverAgent:
		return cfg.AgentTopic
	case NextReceiverMaster:
		return cfg.MasterTopic
	default:
		return core.Topic(cfg.NextReceiver)
	}
}

func assistantNextReceiver(cfg *Config, res *flow.Result) core.Topic {
	if res.Intent() == IntentMainUC {
		return cfg.MasterTopic
	}
	return configuredNextReceiver(cfg, res)
}

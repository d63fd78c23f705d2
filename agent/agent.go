package agent

import (
	"context"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/flow"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/tool"
)

// behavior is the role dependent part of a turn-taking agent.
type behavior struct {
	// handoffTools selects the handoff tools offered for msg.
	handoffTools func(cfg *Config, msg *core.UserMessage) []*tool.HandoffTool
	// extraHandoffs adds handoff targets derived from the result.
	extraHandoffs func(cfg *Config, res *flow.Result) []core.Topic
	// nextReceiver picks the topic the proxy routes the next turn to.
	nextReceiver func(cfg *Config, res *flow.Result) core.Topic
}

var behaviors = map[Role]behavior{
	RolePlain: {
		handoffTools:  allHandoffTools,
		extraHandoffs: noExtraHandoffs,
		nextReceiver:  configuredNextReceiver,
	},
	RoleAssistant: {
		handoffTools:  allHandoffTools,
		extraHandoffs: assistantHandoffs,
		nextReceiver:  assistantNextReceiver,
	},
	RoleMaster: {
		handoffTools:  masterHandoffTools,
		extraHandoffs: noExtraHandoffs,
		nextReceiver:  configuredNextReceiver,
	},
}

// New creates the handler for cfg.
func New(cfg Config) (core.Handler, error) {
	if !cfg.Role.Valid() {
		return nil, core.NewConfigurationError("agent", "agent %q has unknown role %q", cfg.Name, cfg.Role)
	}

	cfg.Logger = logging.OrNoOp(cfg.Logger)

	if cfg.Role == RoleProxy {
		return newProxy(cfg), nil
	}

	if cfg.Model == nil {
		return nil, core.NewConfigurationError("agent", "agent %q has no model", cfg.Name)
	}

	return newGeneric(cfg, behaviors[cfg.Role]), nil
}

// Factory returns a core.Factory building the handler for cfg.
func Factory(cfg Config) core.Factory {
	return func() (core.Handler, error) { return New(cfg) }
}

func publish(ctx context.Context, mctx core.MessageContext, logger logging.Logger, msg core.Message, topic core.Topic) error {
	logger.Debug("agent.publish", "agent", mctx.AgentType(), "kind", msg.Kind(), "topic", topic)
	return mctx.Publish(ctx, msg, topic)
}

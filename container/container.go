// Package container binds an agent definition to its topics on the bus. A
// Container is mutable while groups wire the handoff graph and is frozen into
// an immutable agent.Config by Resolve.
package container

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/handoffmesh/agent"
	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/memory"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/tool"
)

// Spec holds the user supplied fields of a container. AgentType and
// AgentTopic are optional; every topic role may be left empty and is filled
// in by the group the container joins.
type Spec struct {
	Name        string
	Description string
	Role        agent.Role

	AgentType  string
	AgentTopic core.Topic

	ProxyTopic  core.Topic
	MasterTopic core.Topic
	GroupTopic  core.Topic

	// Proxy only.
	InnerTopic  core.Topic
	OuterTopics []core.Topic

	SystemPrompt []string
	Model        model.Model
	Memory       memory.Policy
	Tools        []tool.Tool

	// NextReceiver is "agent" (default), "master" or a topic.
	NextReceiver string
	// ToolResultAsVariables defaults to true.
	ToolResultAsVariables *bool
	// SaveToolResults defaults to true.
	SaveToolResults *bool
	MaxToolRounds   int
	JSONOutput      bool
	ExtraArgs       map[string]any
}

// Options configures a Container.
type Options struct {
	Logger logging.Logger
	Tracer trace.Tracer
}

// Container is the leaf of a handoff group.
type Container struct {
	spec Spec
	opts Options

	agentType  *string
	agentTopic *core.Topic

	handoffTools    []*tool.HandoffTool
	escalationTools []*tool.HandoffTool

	resolved *agent.Config
}

// New creates a container from spec. Construction never fails; call Validate
// (groups do) to check the required identity fields.
func New(spec Spec, optFns ...func(o *Options)) *Container {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if spec.Role == "" {
		spec.Role = agent.RolePlain
	}

	spec.Tools = append([]tool.Tool(nil), spec.Tools...)
	spec.OuterTopics = append([]core.Topic(nil), spec.OuterTopics...)
	spec.SystemPrompt = append([]string(nil), spec.SystemPrompt...)

	return &Container{spec: spec, opts: opts}
}

// Validate fails with a ConfigurationError when required identity fields are absent.
func (c *Container) Validate() error {
	if c.spec.Name == "" {
		return core.NewConfigurationError("container", "name is required")
	}
	if c.spec.Description == "" {
		return core.NewConfigurationError("container", "container %q: description is required", c.spec.Name)
	}
	if !c.spec.Role.Valid() {
		return core.NewConfigurationError("container", "container %q: unknown role %q", c.spec.Name, c.spec.Role)
	}
	return nil
}

// Name returns the container name.
func (c *Container) Name() string { return c.spec.Name }

// Description returns the container description.
func (c *Container) Description() string { return c.spec.Description }

// Role returns the behavior role of the agent.
func (c *Container) Role() agent.Role { return c.spec.Role }

// SetName renames the container. The agent type and topic are unaffected once read.
func (c *Container) SetName(name string) { c.spec.Name = name }

// AgentType defaults to the name. The value is memoized on first read.
func (c *Container) AgentType() string {
	if c.agentType == nil {
		v := c.spec.AgentType
		if v == "" {
			v = c.spec.Name
		}
		c.agentType = &v
	}
	return *c.agentType
}

// AgentTopic defaults to AgentType. The value is memoized on first read.
func (c *Container) AgentTopic() core.Topic {
	if c.agentTopic == nil {
		v := c.spec.AgentTopic
		if v == "" {
			v = core.Topic(c.AgentType())
		}
		c.agentTopic = &v
	}
	return *c.agentTopic
}

func (c *Container) ProxyTopic() core.Topic  { return c.spec.ProxyTopic }
func (c *Container) MasterTopic() core.Topic { return c.spec.MasterTopic }
func (c *Container) GroupTopic() core.Topic  { return c.spec.GroupTopic }
func (c *Container) InnerTopic() core.Topic  { return c.spec.InnerTopic }

// OuterTopics returns a copy of the proxy's outward topics.
func (c *Container) OuterTopics() []core.Topic {
	return append([]core.Topic(nil), c.spec.OuterTopics...)
}

// HandoffTools returns a copy of the downward handoff tools.
func (c *Container) HandoffTools() []*tool.HandoffTool {
	return append([]*tool.HandoffTool(nil), c.handoffTools...)
}

// EscalationTools returns a copy of the upward handoff tools.
func (c *Container) EscalationTools() []*tool.HandoffTool {
	return append([]*tool.HandoffTool(nil), c.escalationTools...)
}

func (c *Container) mutable(field string) error {
	if c.resolved != nil {
		return core.NewConfigurationError("container", "container %q: cannot set %s after resolve", c.spec.Name, field)
	}
	return nil
}

// SetProxyTopic sets the topic responses are published to.
func (c *Container) SetProxyTopic(t core.Topic) error {
	if err := c.mutable("proxy topic"); err != nil {
		return err
	}
	c.spec.ProxyTopic = t
	return nil
}

// SetMasterTopic sets the topic of the group master.
func (c *Container) SetMasterTopic(t core.Topic) error {
	if err := c.mutable("master topic"); err != nil {
		return err
	}
	c.spec.MasterTopic = t
	return nil
}

// SetGroupTopic sets the group broadcast topic.
func (c *Container) SetGroupTopic(t core.Topic) error {
	if err := c.mutable("group topic"); err != nil {
		return err
	}
	c.spec.GroupTopic = t
	return nil
}

// SetInnerTopic sets where a proxy forwards inbound conversations.
func (c *Container) SetInnerTopic(t core.Topic) error {
	if err := c.mutable("inner topic"); err != nil {
		return err
	}
	c.spec.InnerTopic = t
	return nil
}

// SetOuterTopics sets where a proxy forwards responses.
func (c *Container) SetOuterTopics(topics ...core.Topic) error {
	if err := c.mutable("outer topics"); err != nil {
		return err
	}
	c.spec.OuterTopics = append([]core.Topic(nil), topics...)
	return nil
}

// AddTool appends a normal tool.
func (c *Container) AddTool(t tool.Tool) error {
	if err := c.mutable("tools"); err != nil {
		return err
	}
	c.spec.Tools = append(c.spec.Tools, t)
	return nil
}

// ToHandoffTool returns the tool other agents use to hand off to this container.
func (c *Container) ToHandoffTool() *tool.HandoffTool {
	return tool.NewHandoffTool(c.spec.Name, c.spec.Description, c.AgentTopic())
}

// AddHandoffTool grants a downward handoff tool. Adding a tool whose key and
// topic are already offered is a no-op; the same key with another topic is a
// ConfigurationError.
func (c *Container) AddHandoffTool(t *tool.HandoffTool) error {
	return c.addHandoff(&c.handoffTools, t)
}

// AddEscalationTool grants an upward handoff tool with the same rules as AddHandoffTool.
func (c *Container) AddEscalationTool(t *tool.HandoffTool) error {
	return c.addHandoff(&c.escalationTools, t)
}

func (c *Container) addHandoff(dst *[]*tool.HandoffTool, t *tool.HandoffTool) error {
	if err := c.mutable("handoff tools"); err != nil {
		return err
	}

	if t == nil {
		return core.NewConfigurationError("container", "container %q: nil handoff tool", c.spec.Name)
	}

	for _, existing := range c.offered() {
		if existing.Name() != t.Name() {
			continue
		}
		if existing.SameTarget(t) {
			return nil
		}
		return core.NewConfigurationError("container",
			"container %q: handoff key %q already targets %q, cannot target %q",
			c.spec.Name, t.Name(), existing.Topic(), t.Topic())
	}

	for _, nt := range c.spec.Tools {
		if nt.Name() == t.Name() {
			return core.NewConfigurationError("container", "container %q: handoff key %q collides with a tool", c.spec.Name, t.Name())
		}
	}

	*dst = append(*dst, t)

	c.opts.Logger.Debug("container.handoff.added", "container", c.spec.Name, "tool", t.Name(), "topic", t.Topic())

	return nil
}

func (c *Container) offered() []*tool.HandoffTool {
	out := make([]*tool.HandoffTool, 0, len(c.handoffTools)+len(c.escalationTools))
	out = append(out, c.handoffTools...)
	return append(out, c.escalationTools...)
}

// Resolved reports whether Resolve has been called.
func (c *Container) Resolved() bool { return c.resolved != nil }

// Resolve freezes the container into an immutable agent.Config. Later calls
// return the same snapshot.
func (c *Container) Resolve() (agent.Config, error) {
	if c.resolved != nil {
		return *c.resolved, nil
	}

	if err := c.Validate(); err != nil {
		return agent.Config{}, err
	}

	s := c.spec
	cfg := agent.Config{
		Name:                  s.Name,
		Description:           s.Description,
		Role:                  s.Role,
		AgentType:             c.AgentType(),
		AgentTopic:            c.AgentTopic(),
		ProxyTopic:            s.ProxyTopic,
		MasterTopic:           s.MasterTopic,
		GroupTopic:            s.GroupTopic,
		InnerTopic:            s.InnerTopic,
		OuterTopics:           append([]core.Topic(nil), s.OuterTopics...),
		SystemPrompt:          append([]string(nil), s.SystemPrompt...),
		Model:                 s.Model,
		Memory:                s.Memory,
		Tools:                 append([]tool.Tool(nil), s.Tools...),
		HandoffTools:          c.HandoffTools(),
		EscalationTools:       c.EscalationTools(),
		NextReceiver:          s.NextReceiver,
		ToolResultAsVariables: boolOr(s.ToolResultAsVariables, true),
		SaveToolResults:       boolOr(s.SaveToolResults, true),
		MaxToolRounds:         s.MaxToolRounds,
		JSONOutput:            s.JSONOutput,
		ExtraArgs:             s.ExtraArgs,
		Logger:                c.opts.Logger,
		Tracer:                c.opts.Tracer,
	}

	if cfg.Memory.Type == "" {
		cfg.Memory = memory.Default()
	}

	if cfg.NextReceiver == "" {
		cfg.NextReceiver = agent.NextReceiverAgent
	}

	if cfg.Role == agent.RoleProxy && cfg.InnerTopic == "" {
		cfg.InnerTopic = cfg.MasterTopic
	}

	c.resolved = &cfg

	c.opts.Logger.Debug("container.resolved",
		"container", cfg.Name,
		"role", cfg.Role,
		"agent_type", cfg.AgentType,
		"topic", cfg.AgentTopic,
		"handoff_tools", len(cfg.HandoffTools),
		"escalation_tools", len(cfg.EscalationTools),
	)

	return cfg, nil
}

// Factory returns the bus factory for the resolved agent, resolving first if needed.
func (c *Container) Factory() (core.Factory, error) {
	cfg, err := c.Resolve()
	if err != nil {
		return nil, err
	}
	return agent.Factory(cfg), nil
}

// Register binds the agent type to its factory and subscribes it to its own
// topic and, when set, to the group topic.
func (c *Container) Register(ctx context.Context, bus core.Bus) error {
	factory, err := c.Factory()
	if err != nil {
		return err
	}

	agentType := c.AgentType()

	if err := bus.RegisterFactory(ctx, agentType, factory); err != nil {
		return fmt.Errorf("register %s: %w", agentType, err)
	}

	if err := bus.AddSubscription(ctx, c.AgentTopic(), agentType); err != nil {
		return fmt.Errorf("subscribe %s: %w", agentType, err)
	}

	if gt := c.spec.GroupTopic; gt != "" {
		if err := bus.AddSubscription(ctx, gt, agentType); err != nil {
			return fmt.Errorf("subscribe %s to group: %w", agentType, err)
		}
	}

	c.opts.Logger.Info("container.registered", "container", c.spec.Name, "agent_type", agentType, "topic", c.AgentTopic())

	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Bool returns a pointer to v, for the optional Spec flags.
func Bool(v bool) *bool { return &v }

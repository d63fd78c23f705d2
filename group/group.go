// Package group composes containers into a handoff group: one proxy facing the
// outside, one master routing inside, and the participants doing the work.
// Groups nest through sub-groups and super-groups; Compile turns that shape
// into handoff tools on the members.
package group

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/handoffmesh/container"
	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/tool"
)

// Options configures a Group. Empty topics fall back to the defaults derived
// from the group name.
type Options struct {
	GroupTopic  core.Topic
	InputTopic  core.Topic
	OutputTopic core.Topic
	Logger      logging.Logger
}

// Group is a proxy, a master and an ordered list of participants.
type Group struct {
	name        string
	description string

	proxy        *container.Container
	master       *container.Container
	participants []*container.Container

	subGroups   []*Group
	superGroups []*Group

	groupTopic  *core.Topic
	inputTopic  *core.Topic
	outputTopic *core.Topic
	opts        Options

	compiled bool
	logger   logging.Logger
}

// New builds a group and pushes the group's topics into its members.
func New(name, description string, proxy, master *container.Container, participants []*container.Container, optFns ...func(o *Options)) (*Group, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if name == "" {
		return nil, core.NewConfigurationError("group", "name is required")
	}

	if proxy == nil || master == nil {
		return nil, core.NewConfigurationError("group", "group %q: proxy and master are required", name)
	}

	if len(participants) == 0 {
		return nil, core.NewConfigurationError("group", "group %q: at least one participant is required", name)
	}

	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p == nil {
			return nil, core.NewConfigurationError("group", "group %q: nil participant", name)
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, core.NewConfigurationError("group", "group %q: participant names must be unique, %q repeats", name, p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	for _, c := range append([]*container.Container{proxy, master}, participants...) {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
	}

	g := &Group{
		name:         name,
		description:  description,
		proxy:        proxy,
		master:       master,
		participants: append([]*container.Container(nil), participants...),
		opts:         opts,
		logger:       logging.OrNoOp(opts.Logger),
	}

	if err := g.initTopics(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Group) initTopics() error {
	masterTopic := g.MasterTopic()
	proxyTopic := g.ProxyTopic()
	groupTopic := g.GroupTopic()

	steps := []func() error{
		func() error { return g.proxy.SetMasterTopic(masterTopic) },
		func() error { return g.proxy.SetGroupTopic(groupTopic) },
		func() error { return g.proxy.SetInnerTopic(masterTopic) },
		func() error { return g.master.SetProxyTopic(proxyTopic) },
		func() error { return g.master.SetGroupTopic(groupTopic) },
	}

	for _, p := range g.participants {
		steps = append(steps,
			func() error { return p.SetMasterTopic(masterTopic) },
			func() error { return p.SetProxyTopic(proxyTopic) },
			func() error { return p.SetGroupTopic(groupTopic) },
		)
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("group %q: %w", g.name, err)
		}
	}

	return nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Description returns the group description.
func (g *Group) Description() string { return g.description }

// Proxy returns the proxy container.
func (g *Group) Proxy() *container.Container { return g.proxy }

// Master returns the master container.
func (g *Group) Master() *container.Container { return g.master }

// Participants returns a copy of the participant list.
func (g *Group) Participants() []*container.Container {
	return append([]*container.Container(nil), g.participants...)
}

// SubGroups returns a copy of the sub-group list.
func (g *Group) SubGroups() []*Group { return append([]*Group(nil), g.subGroups...) }

// SuperGroups returns a copy of the super-group list.
func (g *Group) SuperGroups() []*Group { return append([]*Group(nil), g.superGroups...) }

// MasterTopic is the master's agent topic.
func (g *Group) MasterTopic() core.Topic { return g.master.AgentTopic() }

// ProxyTopic is the proxy's agent topic.
func (g *Group) ProxyTopic() core.Topic { return g.proxy.AgentTopic() }

// GroupTopic defaults to "group_<name>".
func (g *Group) GroupTopic() core.Topic {
	return memo(&g.groupTopic, g.opts.GroupTopic, "group_"+g.name)
}

// InputTopic defaults to the group name.
func (g *Group) InputTopic() core.Topic {
	return memo(&g.inputTopic, g.opts.InputTopic, g.name)
}

// OutputTopic defaults to "<name>_output".
func (g *Group) OutputTopic() core.Topic {
	return memo(&g.outputTopic, g.opts.OutputTopic, g.name+"_output")
}

// SetOutputTopic overrides where the proxy forwards responses. It must be
// called before Compile.
func (g *Group) SetOutputTopic(t core.Topic) error {
	if g.compiled {
		return core.NewConfigurationError("group", "group %q: cannot set output topic after compile", g.name)
	}
	g.outputTopic = &t
	return nil
}

func memo(slot **core.Topic, override core.Topic, def string) core.Topic {
	if *slot == nil {
		v := override
		if v == "" {
			v = core.Topic(def)
		}
		*slot = &v
	}
	return **slot
}

// AddSubGroup nests sub below g. The edge becomes handoff tools on Compile.
// Adding the same group twice is a no-op.
func (g *Group) AddSubGroup(sub *Group) {
	if !slices.Contains(g.subGroups, sub) {
		g.subGroups = append(g.subGroups, sub)
	}
}

// AddSuperGroup places g below super. The edge becomes handoff tools on Compile.
// Adding the same group twice is a no-op.
func (g *Group) AddSuperGroup(super *Group) {
	if !slices.Contains(g.superGroups, super) {
		g.superGroups = append(g.superGroups, super)
	}
}

// ToHandoffTool returns the tool other masters use to hand off to this group.
func (g *Group) ToHandoffTool() *tool.HandoffTool {
	return tool.NewHandoffTool(g.name, g.description, g.InputTopic())
}

// Compile wires the handoff graph: the proxy forwards to the output topic,
// master and participants hand off to each other, and each sub/super edge
// gives the masters on both ends a tool pointing at the other group. A second
// call is a no-op.
func (g *Group) Compile() error {
	if g.compiled {
		return nil
	}

	if err := g.proxy.SetOuterTopics(g.OutputTopic()); err != nil {
		return fmt.Errorf("group %q: %w", g.name, err)
	}

	masterTool := g.master.ToHandoffTool()
	for _, p := range g.participants {
		if err := g.master.AddHandoffTool(p.ToHandoffTool()); err != nil {
			return fmt.Errorf("group %q: %w", g.name, err)
		}
		if err := p.AddHandoffTool(masterTool); err != nil {
			return fmt.Errorf("group %q: %w", g.name, err)
		}
	}

	self := g.ToHandoffTool()

	for _, sub := range g.subGroups {
		if err := g.master.AddHandoffTool(sub.ToHandoffTool()); err != nil {
			return fmt.Errorf("group %q: sub-group %q: %w", g.name, sub.name, err)
		}
		if err := sub.master.AddEscalationTool(self); err != nil {
			return fmt.Errorf("group %q: sub-group %q: %w", g.name, sub.name, err)
		}
	}

	for _, super := range g.superGroups {
		if err := g.master.AddEscalationTool(super.ToHandoffTool()); err != nil {
			return fmt.Errorf("group %q: super-group %q: %w", g.name, super.name, err)
		}
		if err := super.master.AddHandoffTool(self); err != nil {
			return fmt.Errorf("group %q: super-group %q: %w", g.name, super.name, err)
		}
	}

	g.compiled = true

	g.logger.Debug("group.compiled",
		"group", g.name,
		"participants", len(g.participants),
		"sub_groups", len(g.subGroups),
		"super_groups", len(g.superGroups),
		"output", g.OutputTopic(),
	)

	return nil
}

// Compiled reports whether Compile has run.
func (g *Group) Compiled() bool { return g.compiled }

func (g *Group) members() []*container.Container {
	out := make([]*container.Container, 0, len(g.participants)+2)
	out = append(out, g.proxy, g.master)
	return append(out, g.participants...)
}

// Resolve freezes every member container.
func (g *Group) Resolve() error {
	for _, c := range g.members() {
		if _, err := c.Resolve(); err != nil {
			return fmt.Errorf("group %q: %w", g.name, err)
		}
	}
	return nil
}

// Register registers the proxy, the master and the participants in that order.
func (g *Group) Register(ctx context.Context, bus core.Bus) error {
	for _, c := range g.members() {
		if err := c.Register(ctx, bus); err != nil {
			return fmt.Errorf("group %q: %w", g.name, err)
		}
	}

	g.logger.Info("group.registered", "group", g.name, "input", g.InputTopic(), "group_topic", g.GroupTopic())

	return nil
}

// SubscribeTopic subscribes the proxy to the group input topic.
func (g *Group) SubscribeTopic(ctx context.Context, bus core.Bus) error {
	if err := bus.AddSubscription(ctx, g.InputTopic(), g.proxy.AgentType()); err != nil {
		return fmt.Errorf("group %q: subscribe input: %w", g.name, err)
	}
	return nil
}

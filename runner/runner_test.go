package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/handoffmesh/agent"
	"github.com/hupe1980/handoffmesh/container"
	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/group"
	"github.com/hupe1980/handoffmesh/internal/testutil"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/runtime"
	"github.com/hupe1980/handoffmesh/tool"
)

type desk struct {
	front, billing             *group.Group
	frontMaster, billingMaster *testutil.ScriptedModel
	greeter, invoices          *testutil.ScriptedModel
	greeterContainer           *container.Container
}

func newContainer(name string, role agent.Role, m model.Model) *container.Container {
	return container.New(container.Spec{
		Name:        name,
		Description: name + " agent",
		Role:        role,
		Model:       m,
	})
}

func newGroup(t *testing.T, name string, master model.Model, participants ...*container.Container) *group.Group {
	t.Helper()
	g, err := group.New(name, name+" desk",
		newContainer(name+"_proxy", agent.RoleProxy, nil),
		newContainer(name+"_master", agent.RoleMaster, master),
		participants,
	)
	require.NoError(t, err)
	return g
}

// newDesk builds a "front" master group with a greeter and a "billing"
// participant group with an invoices assistant.
func newDesk(t *testing.T, frontMaster, billingMaster, greeter, invoices []*model.Response) *desk {
	t.Helper()

	d := &desk{
		frontMaster:   testutil.NewScriptedModel("front_master", frontMaster...),
		billingMaster: testutil.NewScriptedModel("billing_master", billingMaster...),
		greeter:       testutil.NewScriptedModel("greeter", greeter...),
		invoices:      testutil.NewScriptedModel("invoices", invoices...),
	}

	d.greeterContainer = newContainer("greeter", agent.RoleAssistant, d.greeter)
	d.front = newGroup(t, "front", d.frontMaster, d.greeterContainer)
	d.billing = newGroup(t, "billing", d.billingMaster, newContainer("invoices", agent.RoleAssistant, d.invoices))

	return d
}

func (d *desk) runner(t *testing.T, optFns ...func(o *Options)) *GroupChatRunner {
	t.Helper()
	r, err := New(runtime.New(), d.front, []*group.Group{d.billing}, optFns...)
	require.NoError(t, err)
	return r
}

func TestRunner_HandoffAcrossGroups(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_billing")},
		[]*model.Response{testutil.Calls("handoff_to_invoices")},
		nil,
		[]*model.Response{testutil.Text("Your invoice is paid."), testutil.Text("The second one too.")},
	)
	r := d.runner(t)
	ctx := context.Background()

	res, err := r.Run(ctx, "Was my invoice paid?")
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, res.StopReason)
	assert.Equal(t, r.ID(), res.TaskID)
	assert.Len(t, r.ID(), 24)
	assert.Equal(t, 3, res.ModelCalls)
	require.NotNil(t, res.Response())
	assert.Equal(t, "Your invoice is paid.", res.Text())
	assert.Equal(t, []string{
		"USER_PROXY", "front_proxy", "front_master",
		"billing_proxy", "billing_master", "invoices",
		"billing_proxy", "USER_PROXY",
	}, res.Response().Path)
	assert.Equal(t, UserProxyTopic, res.Response().NextTopic)

	assert.ElementsMatch(t, []string{"handoff_to_greeter", "handoff_to_billing"}, d.frontMaster.ToolNames(0))
	assert.ElementsMatch(t, []string{"handoff_to_invoices", "handoff_to_front"}, d.billingMaster.ToolNames(0))

	// The next turn goes straight to the agent that answered last.
	res, err = r.Run(ctx, "And the second one?")
	require.NoError(t, err)
	assert.Equal(t, "The second one too.", res.Text())
	assert.Equal(t, []string{"USER_PROXY", "billing_proxy", "invoices", "billing_proxy", "USER_PROXY"}, res.Response().Path)
	assert.Equal(t, 1, d.frontMaster.Calls())
	assert.Equal(t, 1, d.billingMaster.Calls())
}

func TestRunner_OutOfScopeReturnsToMaster(t *testing.T) {
	master := testutil.NewScriptedModel("desk_master",
		testutil.Calls("handoff_to_Billing"),
		testutil.Text("Support will take it from here."),
	)
	billing := testutil.NewScriptedModel("Billing", testutil.Text(`I can't help with that. {"intent": "OOS_BILLING"}`))
	support := testutil.NewScriptedModel("Support")

	desk := newGroup(t, "desk", master,
		newContainer("Billing", agent.RoleAssistant, billing),
		newContainer("Support", agent.RoleAssistant, support),
	)
	r, err := New(runtime.New(), desk, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "I want a refund")
	require.NoError(t, err)

	assert.NotEmpty(t, res.StopReason)
	assert.Equal(t, StopCompleted, res.StopReason)
	require.NotNil(t, res.Response())
	assert.Equal(t, []string{
		"USER_PROXY", "desk_proxy", "desk_master", "Billing",
		"desk_master", "desk_proxy", "USER_PROXY",
	}, res.Response().Path)

	assert.ElementsMatch(t, []string{"handoff_to_Billing", "handoff_to_Support"}, master.ToolNames(0))
	assert.Equal(t, []string{"handoff_to_Support"}, master.ToolNames(1), "visited participants are not offered again")
	assert.Equal(t, 1, billing.Calls())
	assert.Equal(t, 0, support.Calls())
	assert.Equal(t, 3, res.ModelCalls)
}

func TestRunner_IdleWithoutOutput(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_greeter")},
		nil,
		[]*model.Response{testutil.Calls("handoff_to_void")},
		nil,
	)
	require.NoError(t, d.greeterContainer.AddHandoffTool(tool.NewHandoffTool("void", "Nobody listens here", "void")))

	res, err := d.runner(t).Run(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, StopIdleWithoutOutput, res.StopReason)
	assert.Nil(t, res.Response())
	assert.Empty(t, res.Text())
}

func TestRunner_Stream(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_greeter")},
		nil,
		[]*model.Response{testutil.Text("Hi there!")},
		nil,
	)
	r := d.runner(t)

	var items []StreamItem
	for item, err := range r.RunStream(context.Background(), "hello") {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 2)
	require.NotNil(t, items[0].Response)
	assert.Equal(t, "Hi there!", items[0].Response.LastText())
	require.NotNil(t, items[1].Result)
	assert.Equal(t, StopCompleted, items[1].Result.StopReason)
	assert.Same(t, items[0].Response, items[1].Result.Response())
	assert.False(t, r.Running())
}

func TestRunner_NotReentrant(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_greeter")},
		nil,
		[]*model.Response{testutil.Text("Hi there!")},
		nil,
	)
	r := d.runner(t)
	ctx := context.Background()

	for item, err := range r.RunStream(ctx, "hello") {
		require.NoError(t, err)
		if item.Response == nil {
			continue
		}
		assert.True(t, r.Running())

		_, err := r.Run(ctx, "again")
		assert.True(t, core.IsProtocol(err))
		assert.True(t, core.IsProtocol(r.Reset(ctx)))
	}
}

func TestRunner_EarlyBreak(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_greeter")},
		nil,
		[]*model.Response{testutil.Text("Hi there!")},
		nil,
	)
	r := d.runner(t)

	for range r.RunStream(context.Background(), "hello") {
		break
	}

	assert.False(t, r.Running())
	assert.True(t, core.IsProtocol(r.Cancel()))
}

func TestRunner_ModelErrorFailsRun(t *testing.T) {
	d := newDesk(t, nil, nil, nil, nil)

	_, err := d.runner(t).Run(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, core.IsUpstream(err))
}

func TestRunner_MaxModelCalls(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_billing")},
		[]*model.Response{testutil.Calls("handoff_to_invoices")},
		nil,
		[]*model.Response{testutil.Text("Your invoice is paid.")},
	)
	r := d.runner(t, func(o *Options) { o.MaxModelCalls = 2 })

	_, err := r.Run(context.Background(), "Was my invoice paid?")
	require.Error(t, err)
	assert.True(t, core.IsUpstream(err))
	assert.Equal(t, 0, d.invoices.Calls())
}

// cancellingModel cancels the run from inside the first model call.
type cancellingModel struct {
	cancel context.CancelFunc
}

func (c *cancellingModel) Create(ctx context.Context, _ model.Request) (*model.Response, error) {
	c.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *cancellingModel) Info() model.Info { return model.Info{Name: "cancelling", Provider: "test"} }

func TestRunner_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	invoices := testutil.NewScriptedModel("invoices")
	front := newGroup(t, "front", &cancellingModel{cancel: cancel}, newContainer("greeter", agent.RoleAssistant, testutil.NewScriptedModel("greeter")))
	billing := newGroup(t, "billing", testutil.NewScriptedModel("billing_master"), newContainer("invoices", agent.RoleAssistant, invoices))

	r, err := New(runtime.New(), front, []*group.Group{billing})
	require.NoError(t, err)

	_, err = r.Run(ctx, "Was my invoice paid?")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.Running())
	assert.Equal(t, 0, invoices.Calls())
}

func TestRunner_InitRetryKeepsGraph(t *testing.T) {
	d := newDesk(t, nil, nil, nil, nil)
	ctx := context.Background()

	bus := runtime.New()
	noop := func() (core.Handler, error) {
		return core.HandlerFunc(func(context.Context, core.MessageContext, core.Message) error { return nil }), nil
	}
	require.NoError(t, bus.RegisterFactory(ctx, collectorType, noop))

	r, err := New(bus, d.front, []*group.Group{d.billing})
	require.NoError(t, err)

	for range 2 {
		assert.True(t, core.IsProtocol(r.Init(ctx)))
	}

	assert.Equal(t, []*group.Group{d.billing}, d.front.SubGroups())
	assert.Equal(t, []*group.Group{d.front}, d.billing.SuperGroups())
	assert.Len(t, d.billing.Master().EscalationTools(), 1)
}

func TestRunner_Reset(t *testing.T) {
	d := newDesk(t,
		[]*model.Response{testutil.Calls("handoff_to_greeter")},
		nil,
		[]*model.Response{testutil.Text("Hi there!")},
		nil,
	)
	r := d.runner(t, func(o *Options) { o.TaskID = "task-1" })
	ctx := context.Background()

	assert.True(t, core.IsProtocol(r.Reset(ctx)), "reset before the first run")

	_, err := r.Run(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "task-1", r.ID())

	require.NoError(t, r.Reset(ctx))
	assert.False(t, r.Running())
}

func TestRunner_EmptyTask(t *testing.T) {
	d := newDesk(t, nil, nil, nil, nil)
	_, err := d.runner(t).RunMessage(context.Background(), nil)
	assert.True(t, core.IsProtocol(err))
}

func TestNew_Validation(t *testing.T) {
	d := newDesk(t, nil, nil, nil, nil)

	_, err := New(nil, d.front, nil)
	assert.True(t, core.IsConfiguration(err))

	_, err = New(runtime.New(), nil, nil)
	assert.True(t, core.IsConfiguration(err))

	r, err := New(runtime.New(), d.front, []*group.Group{d.billing})
	require.NoError(t, err)
	assert.Equal(t, UserProxyTopic, d.front.OutputTopic())
	assert.Equal(t, UserProxyTopic, d.billing.OutputTopic())
	assert.Equal(t, core.Topic("front"), r.UserProxy().InnerTopic())
}

// Package handoffmesh routes a conversation through nested groups of agents
// that hand control to each other by name. Most applications interact with
// this package by:
//  1. Building containers (directly or through the config package) and
//     grouping them with group.New
//  2. Creating a HandoffMesh from a master group and its participant groups
//  3. Calling Run for each user turn
//
// The façade wires an in-memory runtime and a runner.GroupChatRunner with a
// shared logger and tracer provider. Use those packages directly for custom
// buses or finer control.
package handoffmesh

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/group"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/runner"
	"github.com/hupe1980/handoffmesh/runtime"
)

const tracerName = "github.com/hupe1980/handoffmesh"

// Options configures the HandoffMesh instance.
type Options struct {
	// Bus overrides the default in-memory runtime.
	Bus core.Bus
	// TracerProvider creates the runtime tracer (defaults to the global provider).
	TracerProvider trace.TracerProvider
	// StrictTopics makes publishing to a topic without subscribers fail the run.
	StrictTopics bool
	// MaxModelCalls limits the number of model calls per run.
	MaxModelCalls int
	// TaskID names the task; generated when empty.
	TaskID string
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// HandoffMesh is the high-level façade over the runtime and the runner.
type HandoffMesh struct {
	opts   Options
	bus    core.Bus
	runner *runner.GroupChatRunner
}

// New creates a HandoffMesh for master and its participant groups. The groups
// must not be compiled yet.
func New(master *group.Group, participants []*group.Group, optFns ...func(o *Options)) (*HandoffMesh, error) {
	opts := Options{
		MaxModelCalls: 100,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}

	bus := opts.Bus
	if bus == nil {
		bus = runtime.New(func(o *runtime.Options) {
			o.Logger = opts.Logger
			o.Tracer = opts.TracerProvider.Tracer(tracerName)
			o.StrictTopics = opts.StrictTopics
		})
	}

	r, err := runner.New(bus, master, participants, func(o *runner.Options) {
		o.TaskID = opts.TaskID
		o.MaxModelCalls = opts.MaxModelCalls
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	return &HandoffMesh{opts: opts, bus: bus, runner: r}, nil
}

// Runner exposes the underlying runner.
func (m *HandoffMesh) Runner() *runner.GroupChatRunner { return m.runner }

// Bus exposes the message bus the agents are registered on.
func (m *HandoffMesh) Bus() core.Bus { return m.bus }

// Run sends one user turn and waits for the groups to go idle.
func (m *HandoffMesh) Run(ctx context.Context, text string) (*runner.TaskResult, error) {
	return m.runner.Run(ctx, text)
}

// RunStream is Run yielding each response as it reaches the user proxy.
func (m *HandoffMesh) RunStream(ctx context.Context, text string) iter.Seq2[runner.StreamItem, error] {
	return m.runner.RunStream(ctx, text)
}

// Reset broadcasts a reset to every group.
func (m *HandoffMesh) Reset(ctx context.Context) error { return m.runner.Reset(ctx) }

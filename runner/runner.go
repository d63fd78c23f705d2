package runner

import (
	"context"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/handoffmesh/agent"
	"github.com/hupe1980/handoffmesh/container"
	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/group"
	"github.com/hupe1980/handoffmesh/logging"
)

// Fixed topics of a task.
const (
	// UserProxyTopic receives the task and every response leaving a group.
	UserProxyTopic core.Topic = "USER_PROXY"
	// TaskTopic addresses every group proxy at once; used by Reset.
	TaskTopic core.Topic = "TASK_RUNNER"
	// OutputTopic is where the user proxy delivers responses to the runner.
	OutputTopic core.Topic = "OUTPUT_TASK"

	collectorType = "closure_output"
)

// Stop reasons reported in TaskResult.
const (
	StopCompleted         = "completed"
	StopIdleWithoutOutput = "idle_without_output"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// TaskID identifies the task; a 24 character id is generated when empty.
	TaskID string
	// MaxModelCalls limits the number of model calls per run. Zero means unlimited.
	MaxModelCalls int
	// StreamBufferSize sets the buffering of collected responses.
	StreamBufferSize int
	// Logger receives runner events.
	Logger logging.Logger
}

// TaskResult is the outcome of one run.
type TaskResult struct {
	TaskID string
	// Messages holds the last response that reached the runner, if any.
	Messages   []*core.AssistantResponse
	StopReason string
	ModelCalls int
}

// Response returns the last collected response or nil.
func (r *TaskResult) Response() *core.AssistantResponse {
	if len(r.Messages) == 0 {
		return nil
	}
	return r.Messages[len(r.Messages)-1]
}

// Text returns the text of the last collected response.
func (r *TaskResult) Text() string {
	if resp := r.Response(); resp != nil {
		return resp.LastText()
	}
	return ""
}

// StreamItem is one element of RunStream. Exactly one field is set; the
// final item carries the Result.
type StreamItem struct {
	Response *core.AssistantResponse
	Result   *TaskResult
}

// GroupChatRunner drives a master group and its participant groups on a bus.
// The runner is stateful: a later run continues the conversation where the
// previous one left off. Only one run or reset may be active at a time.
type GroupChatRunner struct {
	id           string
	bus          core.Bus
	master       *group.Group
	participants []*group.Group
	userProxy    *container.Container
	opts         Options
	logger       logging.Logger

	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
	output      *core.AssistantResponse
	stream      chan *core.AssistantResponse
}

// New creates a runner. Every group's output topic is pointed at the user
// proxy, so the groups must not be compiled yet.
func New(bus core.Bus, master *group.Group, participants []*group.Group, optFns ...func(o *Options)) (*GroupChatRunner, error) {
	opts := Options{
		MaxModelCalls:    100,
		StreamBufferSize: 16,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if bus == nil {
		return nil, core.NewConfigurationError("runner", "bus is required")
	}

	if master == nil {
		return nil, core.NewConfigurationError("runner", "master group is required")
	}

	if opts.TaskID == "" {
		opts.TaskID = core.NewID()
	}

	logger := logging.OrNoOp(opts.Logger)

	userProxy := container.New(container.Spec{
		Name:        string(UserProxyTopic),
		Description: "User Proxy",
		Role:        agent.RoleProxy,
		AgentType:   string(UserProxyTopic),
		AgentTopic:  UserProxyTopic,
		InnerTopic:  master.InputTopic(),
		OuterTopics: []core.Topic{OutputTopic},
	}, func(o *container.Options) { o.Logger = logger })

	r := &GroupChatRunner{
		id:           opts.TaskID,
		bus:          bus,
		master:       master,
		participants: append([]*group.Group(nil), participants...),
		userProxy:    userProxy,
		opts:         opts,
		logger:       logger,
	}

	for _, g := range r.groups() {
		if err := g.SetOutputTopic(userProxy.AgentTopic()); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ID returns the task id.
func (r *GroupChatRunner) ID() string { return r.id }

// UserProxy returns the container relaying between the caller and the master group.
func (r *GroupChatRunner) UserProxy() *container.Container { return r.userProxy }

func (r *GroupChatRunner) groups() []*group.Group {
	return append([]*group.Group{r.master}, r.participants...)
}

// Init compiles the group graph, registers every agent and adds the topic
// subscriptions. Run calls it on first use; later calls are no-ops.
func (r *GroupChatRunner) Init(ctx context.Context) error {
	r.mu.Lock()
	done := r.initialized
	r.mu.Unlock()

	if done {
		return nil
	}

	if err := r.compile(); err != nil {
		return err
	}

	if err := r.register(ctx); err != nil {
		return err
	}

	if err := r.subscribe(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.logger.Info("runner.initialized", "task_id", r.id, "groups", len(r.participants)+1)

	return nil
}

func (r *GroupChatRunner) compile() error {
	for _, g := range r.participants {
		r.master.AddSubGroup(g)
		g.AddSuperGroup(r.master)
	}

	for _, g := range r.groups() {
		if err := g.Compile(); err != nil {
			return err
		}
	}

	if _, err := r.userProxy.Resolve(); err != nil {
		return err
	}

	for _, g := range r.groups() {
		if err := g.Resolve(); err != nil {
			return err
		}
	}

	return nil
}

func (r *GroupChatRunner) register(ctx context.Context) error {
	if err := r.userProxy.Register(ctx, r.bus); err != nil {
		return err
	}

	for _, g := range r.groups() {
		if err := g.Register(ctx, r.bus); err != nil {
			return err
		}
	}

	collector := func() (core.Handler, error) { return core.HandlerFunc(r.collect), nil }
	if err := r.bus.RegisterFactory(ctx, collectorType, collector); err != nil {
		return err
	}

	return r.bus.AddSubscription(ctx, OutputTopic, collectorType)
}

func (r *GroupChatRunner) subscribe(ctx context.Context) error {
	for _, g := range r.groups() {
		if err := g.SubscribeTopic(ctx, r.bus); err != nil {
			return err
		}
	}

	if err := r.bus.AddSubscription(ctx, TaskTopic, r.userProxy.AgentType()); err != nil {
		return err
	}

	for _, g := range r.groups() {
		if err := r.bus.AddSubscription(ctx, TaskTopic, g.Proxy().AgentType()); err != nil {
			return err
		}
	}

	return nil
}

func (r *GroupChatRunner) collect(ctx context.Context, _ core.MessageContext, msg core.Message) error {
	resp, ok := msg.(*core.AssistantResponse)
	if !ok {
		return nil
	}

	r.mu.Lock()
	r.output = resp
	ch := r.stream
	r.mu.Unlock()

	r.logger.Debug("runner.output.collected", "task_id", r.id, "source", resp.Source)

	if ch == nil {
		return nil
	}

	select {
	case ch <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *GroupChatRunner) begin(op string) (context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, core.NewProtocolError(op, "task %s is already running", r.id)
	}

	r.running = true

	return func() {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.stream = nil
		r.mu.Unlock()
	}, nil
}

// Run publishes task as a user message and blocks until the bus is idle.
func (r *GroupChatRunner) Run(ctx context.Context, task string) (*TaskResult, error) {
	return r.RunMessage(ctx, core.NewUserMessage("user", task))
}

// RunMessage is Run for a prepared user message.
func (r *GroupChatRunner) RunMessage(ctx context.Context, msg *core.UserMessage) (*TaskResult, error) {
	var result *TaskResult

	for item, err := range r.RunStreamMessage(ctx, msg) {
		if err != nil {
			return nil, err
		}
		if item.Result != nil {
			result = item.Result
		}
	}

	if result == nil {
		return nil, core.NewProtocolError("run", "task %s finished without a result", r.id)
	}

	return result, nil
}

// RunStream yields every response that reaches the runner and finally the
// TaskResult. A failure is yielded as the last pair. Breaking out of the loop
// cancels the run.
func (r *GroupChatRunner) RunStream(ctx context.Context, task string) iter.Seq2[StreamItem, error] {
	return r.RunStreamMessage(ctx, core.NewUserMessage("user", task))
}

// RunStreamMessage is RunStream for a prepared user message.
func (r *GroupChatRunner) RunStreamMessage(ctx context.Context, msg *core.UserMessage) iter.Seq2[StreamItem, error] {
	return func(yield func(StreamItem, error) bool) {
		if msg == nil || len(msg.Content) == 0 {
			yield(StreamItem{}, core.NewProtocolError("run", "task is empty"))
			return
		}

		end, err := r.begin("run")
		if err != nil {
			yield(StreamItem{}, err)
			return
		}
		defer end()

		if err := r.Init(ctx); err != nil {
			yield(StreamItem{}, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		limiter := core.NewModelLimiter(r.opts.MaxModelCalls)
		ctx = core.WithModelLimiter(ctx, limiter)

		ch := make(chan *core.AssistantResponse, r.opts.StreamBufferSize)

		r.mu.Lock()
		r.output = nil
		r.stream = ch
		r.cancel = cancel
		r.mu.Unlock()

		r.logger.Info("runner.run.start", "task_id", r.id, "message_id", msg.ID)

		if err := r.bus.Start(ctx); err != nil {
			yield(StreamItem{}, err)
			return
		}

		if err := r.bus.Publish(ctx, msg, UserProxyTopic); err != nil {
			_ = r.bus.StopWhenIdle(context.WithoutCancel(ctx))
			yield(StreamItem{}, err)
			return
		}

		idle := make(chan struct{})

		var g errgroup.Group
		g.Go(func() error {
			defer close(idle)
			return r.bus.StopWhenIdle(context.WithoutCancel(ctx))
		})

		for running := true; running; {
			select {
			case resp := <-ch:
				if !yield(StreamItem{Response: resp}, nil) {
					cancel()
					_ = g.Wait()
					return
				}
			case <-idle:
				running = false
			}
		}

		for drained := false; !drained; {
			select {
			case resp := <-ch:
				if !yield(StreamItem{Response: resp}, nil) {
					_ = g.Wait()
					return
				}
			default:
				drained = true
			}
		}

		if err := g.Wait(); err != nil {
			r.logger.Error("runner.run.error", "task_id", r.id, "error", err.Error())
			yield(StreamItem{}, err)
			return
		}

		result := r.result(limiter)

		r.logger.Info("runner.run.complete", "task_id", r.id, "stop_reason", result.StopReason, "model_calls", result.ModelCalls)

		yield(StreamItem{Result: result}, nil)
	}
}

func (r *GroupChatRunner) result(limiter *core.ModelLimiter) *TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &TaskResult{
		TaskID:     r.id,
		StopReason: StopIdleWithoutOutput,
		ModelCalls: limiter.Count(),
	}

	if r.output != nil {
		res.Messages = []*core.AssistantResponse{r.output}
		res.StopReason = StopCompleted
	}

	return res
}

// Running reports whether a run or reset is active.
func (r *GroupChatRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Cancel aborts the active run.
func (r *GroupChatRunner) Cancel() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel == nil {
		return core.NewProtocolError("cancel", "task %s is not running", r.id)
	}

	cancel()

	return nil
}

// Reset broadcasts a reset to every group proxy. The runner must have run
// at least once and must not be running.
func (r *GroupChatRunner) Reset(ctx context.Context) error {
	r.mu.Lock()
	initialized := r.initialized
	r.mu.Unlock()

	if !initialized {
		return core.NewProtocolError("reset", "task %s has not been initialized, run it before resetting", r.id)
	}

	end, err := r.begin("reset")
	if err != nil {
		return err
	}
	defer end()

	if err := r.bus.Start(ctx); err != nil {
		return err
	}

	if err := r.bus.Publish(ctx, core.NewResetMessage(r.userProxy.AgentType()), TaskTopic); err != nil {
		_ = r.bus.StopWhenIdle(context.WithoutCancel(ctx))
		return err
	}

	if err := r.bus.StopWhenIdle(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.output = nil
	r.mu.Unlock()

	r.logger.Info("runner.reset", "task_id", r.id)

	return nil
}

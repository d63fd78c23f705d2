// Package runtime provides an in-memory core.Bus that delivers one message at
// a time from a single FIFO queue.
package runtime

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/logging"
)

const tracerName = "github.com/hupe1980/handoffmesh/runtime"

// Options configures a Runtime.
type Options struct {
	Logger logging.Logger
	Tracer trace.Tracer
	// StrictTopics makes publishing to a topic without subscribers a
	// ProtocolError instead of a logged drop.
	StrictTopics bool
}

type delivery struct {
	msg       core.Message
	topic     core.Topic
	agentType string
	sender    string
}

// Runtime is a single-threaded, in-memory implementation of core.Bus.
// Handlers run on one dispatcher goroutine, in publish order. Messages
// published from inside a handler are appended to the same queue.
type Runtime struct {
	opts Options

	mu        sync.Mutex
	factories map[string]core.Factory
	handlers  map[string]core.Handler
	subs      map[core.Topic][]string
	queue     []delivery
	pending   int
	idle      chan struct{}
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	running   bool
	err       error
}

var _ core.Bus = (*Runtime)(nil)

// New creates a stopped Runtime.
func New(optFns ...func(o *Options)) *Runtime {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Runtime{
		opts:      opts,
		factories: make(map[string]core.Factory),
		handlers:  make(map[string]core.Handler),
		subs:      make(map[core.Topic][]string),
		wake:      make(chan struct{}, 1),
	}
}

// RegisterFactory binds agentType to the factory building its handler. The
// handler is created on first delivery.
func (r *Runtime) RegisterFactory(_ context.Context, agentType string, factory core.Factory) error {
	if agentType == "" || factory == nil {
		return core.NewProtocolError("register", "agent type and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[agentType]; ok {
		return core.NewProtocolError("register", "agent type %q already registered", agentType)
	}

	r.factories[agentType] = factory

	r.opts.Logger.Debug("runtime.registered", "agent_type", agentType)

	return nil
}

// AddSubscription delivers every message published to topic to agentType.
// Subscribing twice is a no-op.
func (r *Runtime) AddSubscription(_ context.Context, topic core.Topic, agentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[agentType]; !ok {
		return core.NewProtocolError("subscribe", "agent type %q is not registered", agentType)
	}

	for _, existing := range r.subs[topic] {
		if existing == agentType {
			return nil
		}
	}

	r.subs[topic] = append(r.subs[topic], agentType)

	r.opts.Logger.Debug("runtime.subscribed", "topic", topic, "agent_type", agentType)

	return nil
}

// Publish enqueues msg for every subscriber of topic. External publishes
// carry no sender.
func (r *Runtime) Publish(ctx context.Context, msg core.Message, topic core.Topic) error {
	return r.publish(ctx, msg, topic, "")
}

func (r *Runtime) publish(ctx context.Context, msg core.Message, topic core.Topic, sender string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg == nil {
		return core.NewProtocolError("publish", "nil message for topic %q", topic)
	}

	r.mu.Lock()

	subscribers := r.subs[topic]
	if len(subscribers) == 0 {
		r.mu.Unlock()
		if r.opts.StrictTopics {
			return core.NewProtocolError("publish", "topic %q has no subscribers", topic)
		}
		r.opts.Logger.Warn("runtime.publish.dropped", "topic", topic, "kind", msg.Kind(), "sender", sender)
		return nil
	}

	queued := 0
	for _, agentType := range subscribers {
		if agentType == sender {
			continue
		}
		r.queue = append(r.queue, delivery{msg: msg, topic: topic, agentType: agentType, sender: sender})
		queued++
	}

	if queued > 0 {
		if r.pending == 0 {
			r.idle = make(chan struct{})
		}
		r.pending += queued
	}

	r.mu.Unlock()

	r.opts.Logger.Debug("runtime.publish", "topic", topic, "kind", msg.Kind(), "sender", sender, "deliveries", queued)

	r.signal()

	return nil
}

func (r *Runtime) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatcher goroutine. Deliveries run with ctx; once ctx
// is done the remaining queue is discarded and StopWhenIdle reports ctx.Err().
// Starting a running Runtime is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	r.running = true
	r.err = nil
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.dispatch(ctx, r.stop, r.done)

	r.opts.Logger.Debug("runtime.started")

	return nil
}

func (r *Runtime) dispatch(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	cancelled := ctx.Done()

	for {
		d, ok := r.next()
		if !ok {
			select {
			case <-stop:
				return
			case <-cancelled:
				r.abort(ctx.Err(), false)
				cancelled = nil
			case <-r.wake:
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			r.abort(err, true)
			continue
		}

		if err := r.deliver(ctx, d); err != nil {
			r.abort(err, true)
			continue
		}

		r.finish()
	}
}

func (r *Runtime) next() (delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return delivery{}, false
	}

	d := r.queue[0]
	r.queue[0] = delivery{}
	r.queue = r.queue[1:]

	return d, true
}

func (r *Runtime) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending--
	r.notifyIdle()
}

// notifyIdle must be called with mu held.
func (r *Runtime) notifyIdle() {
	if r.pending == 0 && r.idle != nil {
		close(r.idle)
		r.idle = nil
	}
}

// abort records the first failure and drops every queued delivery.
func (r *Runtime) abort(err error, inFlight bool) {
	r.mu.Lock()

	if r.err == nil {
		r.err = err
	}

	dropped := len(r.queue)
	r.queue = nil
	r.pending -= dropped
	if inFlight {
		r.pending--
	}
	r.notifyIdle()

	r.mu.Unlock()

	r.opts.Logger.Error("runtime.aborted", "error", err, "dropped", dropped)
}

func (r *Runtime) handler(agentType string) (core.Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handlers[agentType]; ok {
		return h, nil
	}

	factory, ok := r.factories[agentType]
	if !ok {
		return nil, core.NewProtocolError("deliver", "agent type %q is not registered", agentType)
	}

	h, err := factory()
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, core.NewProtocolError("deliver", "factory for %q returned no handler", agentType)
	}

	r.handlers[agentType] = h

	return h, nil
}

func (r *Runtime) deliver(ctx context.Context, d delivery) (err error) {
	ctx, span := r.opts.Tracer.Start(ctx, "runtime.deliver", trace.WithAttributes(
		attribute.String("topic", d.topic.String()),
		attribute.String("agent_type", d.agentType),
		attribute.String("kind", d.msg.Kind()),
		attribute.String("sender", d.sender),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	h, err := r.handler(d.agentType)
	if err != nil {
		return err
	}

	r.opts.Logger.Debug("runtime.deliver", "topic", d.topic, "agent_type", d.agentType, "kind", d.msg.Kind(), "sender", d.sender)

	mctx := &messageContext{runtime: r, agentType: d.agentType, topic: d.topic, sender: d.sender}

	if err := h.Handle(ctx, mctx, d.msg); err != nil {
		return &DeliveryError{AgentType: d.agentType, Topic: d.topic, Err: err}
	}

	return nil
}

// StopWhenIdle waits until the queue is empty and no handler is running, then
// stops the dispatcher. It returns the first delivery failure since Start.
func (r *Runtime) StopWhenIdle(ctx context.Context) error {
	for {
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return nil
		}
		idle := r.idle
		if r.pending == 0 {
			stop, done := r.stop, r.done
			r.running = false
			r.mu.Unlock()

			close(stop)
			<-done

			r.mu.Lock()
			err := r.err
			r.err = nil
			r.mu.Unlock()

			r.opts.Logger.Debug("runtime.stopped", "error", err)
			return err
		}
		r.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handlers returns the number of instantiated handlers.
func (r *Runtime) Handlers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// DeliveryError wraps a handler failure with the delivery it happened on.
type DeliveryError struct {
	AgentType string
	Topic     core.Topic
	Err       error
}

func (e *DeliveryError) Error() string {
	return "deliver to " + e.AgentType + " on " + e.Topic.String() + ": " + e.Err.Error()
}

// Unwrap exposes the handler error.
func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError reports whether err wraps a DeliveryError.
func IsDeliveryError(err error) bool {
	var target *DeliveryError
	return errors.As(err, &target)
}

type messageContext struct {
	runtime   *Runtime
	agentType string
	topic     core.Topic
	sender    string
}

func (m *messageContext) Publish(ctx context.Context, msg core.Message, topic core.Topic) error {
	return m.runtime.publish(ctx, msg, topic, m.agentType)
}

func (m *messageContext) AgentType() string { return m.agentType }
func (m *messageContext) Topic() core.Topic { return m.topic }
func (m *messageContext) Sender() string    { return m.sender }

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kode4food/stepflow/internal/cron"
	"github.com/kode4food/stepflow/internal/dispatch"
	"github.com/kode4food/stepflow/internal/invoker"
	"github.com/kode4food/stepflow/internal/registry"
	"github.com/kode4food/stepflow/internal/scheduler"
	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Engine wires the registry's executable steps to the event path: event
	// steps subscribe to their topics and cron steps are scheduled. It is
	// the single writer of the registry once started
	Engine struct {
		registry   *registry.Registry
		dispatcher *dispatch.Dispatcher
		handlers   *dispatch.StepHandlers
		cron       *cron.Dispatcher
		invoker    *invoker.Invoker
		logger     *log.Logger
		mu         sync.Mutex
		started    bool
		stopped    bool
	}

	// Option configures an Engine
	Option func(*options)

	options struct {
		logger     *log.Logger
		resolver   dispatch.ErrorCategoryResolver
		sched      *scheduler.Scheduler
		invokerOps []invoker.Option
	}
)

var (
	ErrNotAPIStep     = errors.New("step is not an api step")
	ErrEngineStopped  = errors.New("engine stopped")
	ErrVirtualStep    = errors.New("virtual steps cannot be invoked")
	ErrTopicEmpty     = errors.New("event topic empty")
	ErrAlreadyStarted = errors.New("engine already started")
)

// WithLogger sets the root step logger
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithResolver sets the resolver used to classify step failures
func WithResolver(r dispatch.ErrorCategoryResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithScheduler replaces the wall-clock scheduler behind cron jobs
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *options) {
		o.sched = s
	}
}

// WithInvokerOptions passes options through to the step invoker
func WithInvokerOptions(opts ...invoker.Option) Option {
	return func(o *options) {
		o.invokerOps = append(o.invokerOps, opts...)
	}
}

// New creates an Engine over reg. Steps are run with runners and read and
// write state through state
func New(
	reg *registry.Registry, runners *invoker.Runners, state api.StateStore,
	opts ...Option,
) *Engine {
	o := &options{resolver: dispatch.UnknownResolver{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.NewLogger(nil)
	}

	d := dispatch.NewDispatcher()
	inv := invoker.New(runners, state, d, o.invokerOps...)

	cronOpts := []cron.Option{
		cron.WithLogger(o.logger),
		cron.WithResolver(o.resolver),
	}
	if o.sched != nil {
		cronOpts = append(cronOpts, cron.WithScheduler(o.sched))
	}

	return &Engine{
		registry:   reg,
		dispatcher: d,
		invoker:    inv,
		logger:     o.logger,
		handlers: dispatch.NewStepHandlers(d, inv,
			dispatch.WithResolver(o.resolver),
			dispatch.WithLogger(o.logger),
		),
		cron: cron.New(d, cronOpts...),
	}
}

// Registry exposes the step registry for reads
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Logger returns the root step logger
func (e *Engine) Logger() *log.Logger {
	return e.logger
}

// Start wires every executable step already registered and begins firing
// cron jobs
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}

	slog.Info("Engine starting")
	steps := e.registry.ActiveSteps()
	for _, step := range steps {
		e.wire(step)
	}
	e.cron.Start()
	e.started = true

	slog.Info("Engine started",
		slog.Int("event_steps", len(e.registry.EventSteps())),
		slog.Int("cron_steps", len(e.registry.CronSteps())),
		slog.Int("api_steps", len(e.registry.APISteps())))
	return nil
}

// Stop stops cron jobs, then cancels in-flight step invocations, including
// those started by a cron tick, and waits for them to return
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	e.cron.Stop()
	e.dispatcher.Close()
	e.cron.Close()
	slog.Info("Engine stopped")
}

// CreateStep registers step and, once started, wires it
func (e *Engine) CreateStep(step *api.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.CreateStep(step); err != nil {
		return err
	}
	slog.Info("Step created",
		log.Step(step.Name), log.FilePath(step.FilePath))
	if e.started && !e.stopped {
		e.wire(step)
	}
	return nil
}

// ChangeStep replaces the configuration of a registered step. Its previous
// subscriptions and cron job are removed and the new ones wired
func (e *Engine) ChangeStep(old, next *api.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.registry.Step(old.FilePath)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrStepNotFound, old.FilePath)
	}
	kindChanged, err := e.registry.ChangeStep(old, next)
	if err != nil {
		return err
	}
	slog.Info("Step changed",
		log.Step(next.Name),
		log.FilePath(next.FilePath),
		slog.Bool("kind_changed", kindChanged))

	if e.started && !e.stopped {
		e.unwire(prev)
		if cur, ok := e.registry.Step(next.FilePath); ok {
			e.wire(cur)
		}
	}
	return nil
}

// DeleteStep removes a registered step and its wiring
func (e *Engine) DeleteStep(step *api.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.registry.Step(step.FilePath)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrStepNotFound, step.FilePath)
	}
	if err := e.registry.DeleteStep(step); err != nil {
		return err
	}
	slog.Info("Step deleted",
		log.Step(prev.Name), log.FilePath(prev.FilePath))
	if e.started && !e.stopped {
		e.unwire(prev)
	}
	return nil
}

// Emit publishes a root event under a new trace id and returns the id
func (e *Engine) Emit(ctx context.Context, topic string, data any) (string, error) {
	if topic == "" {
		return "", ErrTopicEmpty
	}
	traceID := uuid.NewString()
	e.dispatcher.Publish(ctx, &api.Event{
		Topic:   topic,
		Data:    data,
		TraceID: traceID,
		Logger:  e.logger.Child(log.TraceID(traceID)),
	})
	return traceID, nil
}

// CallAPI runs an api step for one HTTP request and returns the worker's
// reported result
func (e *Engine) CallAPI(
	ctx context.Context, step *api.Step, req *api.APIRequest,
) (json.RawMessage, string, error) {
	if !step.Is(api.StepTypeAPI) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotAPIStep, step.Name)
	}
	if step.Virtual {
		return nil, "", fmt.Errorf("%w: %s", ErrVirtualStep, step.Name)
	}
	traceID := uuid.NewString()
	logger := e.logger.Child(log.TraceID(traceID), log.Flows(step.Flows))
	res, err := e.invoker.Invoke(ctx, invoker.Request{
		Step:    step,
		Data:    req,
		Logger:  logger,
		TraceID: traceID,
	})
	return res, traceID, err
}

func (e *Engine) wire(step *api.Step) {
	if step.Virtual {
		return
	}
	switch step.Type {
	case api.StepTypeEvent:
		e.handlers.CreateHandler(step)
	case api.StepTypeCron:
		if err := e.cron.CreateJob(step); err != nil {
			slog.Warn("Cron step not scheduled",
				log.Step(step.Name), log.Error(err))
		}
	}
}

func (e *Engine) unwire(step *api.Step) {
	switch step.Type {
	case api.StepTypeEvent:
		e.handlers.RemoveHandler(step)
	case api.StepTypeCron:
		e.cron.RemoveJob(step)
	}
}

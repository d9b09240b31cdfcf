package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	robfig "github.com/robfig/cron/v3"

	"github.com/kode4food/stepflow/internal/dispatch"
	"github.com/kode4food/stepflow/internal/scheduler"
	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Publisher delivers a tick event and waits for its subscribers
	Publisher interface {
		PublishAndWait(ctx context.Context, ev *api.Event)
	}

	// Dispatcher schedules cron steps and publishes a tick event each time
	// one comes due. Ticks from every job run one at a time
	Dispatcher struct {
		ctx       context.Context
		cancel    context.CancelFunc
		publisher Publisher
		sched     *scheduler.Scheduler
		runner    *scheduler.TaskRunner
		logger    *log.Logger
		resolver  dispatch.ErrorCategoryResolver
		jobs      map[string]*job
		running   sync.WaitGroup
		schedMu   sync.Mutex
		mu        sync.Mutex
		started   bool
		stopped   bool
		closed    bool
	}

	// Option configures a Dispatcher
	Option func(*Dispatcher)

	// Tick is the payload of a cron event
	Tick struct {
		Timestamp int64 `json:"timestamp"`
	}

	job struct {
		step     *api.Step
		schedule robfig.Schedule
	}
)

const pathPrefix = "cron"

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrNoEmits           = errors.New("cron step declares no emits")
	ErrNotCronStep       = errors.New("not a cron step")
	ErrDispatcherClosed  = errors.New("cron dispatcher closed")
)

var parser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom |
		robfig.Month | robfig.Dow | robfig.Descriptor,
)

// WithScheduler replaces the wall-clock scheduler
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(d *Dispatcher) {
		d.sched = s
	}
}

// WithLogger sets the logger that tick loggers derive from
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithResolver sets the resolver used to classify tick failures
func WithResolver(r dispatch.ErrorCategoryResolver) Option {
	return func(d *Dispatcher) {
		d.resolver = r
	}
}

// New creates a Dispatcher publishing ticks through pub
func New(pub Publisher, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	res := &Dispatcher{
		ctx:       ctx,
		cancel:    cancel,
		publisher: pub,
		runner:    scheduler.NewTaskRunner(),
		resolver:  dispatch.UnknownResolver{},
		jobs:      map[string]*job{},
	}
	for _, opt := range opts {
		opt(res)
	}
	if res.sched == nil {
		res.sched = scheduler.NewSystem()
	}
	if res.logger == nil {
		res.logger = log.NewLogger(nil)
	}
	return res
}

// Validate reports whether expr is a supported cron expression: five or
// six fields, or a descriptor such as @hourly or @every 5m
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidExpression, expr, err)
	}
	return nil
}

// Start begins firing jobs, including those created before it was called
func (d *Dispatcher) Start() {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	pending := make([]*job, 0, len(d.jobs))
	for _, j := range d.jobs {
		pending = append(pending, j)
	}
	d.mu.Unlock()

	d.runner.Start()
	d.running.Go(func() {
		d.sched.Run(d.ctx)
	})
	for _, j := range pending {
		d.schedule(j)
	}
}

// CreateJob registers step and, once the dispatcher has started, schedules
// it. A job already registered for the same file is replaced
func (d *Dispatcher) CreateJob(step *api.Step) error {
	if !step.Is(api.StepTypeCron) || step.Cron == nil {
		return fmt.Errorf("%w: %s", ErrNotCronStep, step.FilePath)
	}

	expr := step.Cron.Expression
	schedule, err := parser.Parse(expr)
	if err != nil {
		d.logger.Error("Invalid cron expression",
			"expression", expr, log.Step(step.Name), log.Error(err))
		return fmt.Errorf("%w: %s", ErrInvalidExpression, expr)
	}
	if len(step.Emits) == 0 {
		d.logger.Error("Cron step declares no emits",
			log.Step(step.Name), log.FilePath(step.FilePath))
		return fmt.Errorf("%w: %s", ErrNoEmits, step.Name)
	}

	j := &job{step: step.Clone(), schedule: schedule}
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.jobs[step.FilePath] = j
	started := d.started
	d.mu.Unlock()

	d.logger.Debug("Setting up cron job",
		log.FilePath(step.FilePath), log.Step(step.Name), "cron", expr)
	if started {
		d.schedule(j)
	}
	return nil
}

// RemoveJob stops the job registered for step, if any
func (d *Dispatcher) RemoveJob(step *api.Step) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	d.mu.Lock()
	_, ok := d.jobs[step.FilePath]
	delete(d.jobs, step.FilePath)
	started := d.started
	d.mu.Unlock()
	if ok && started {
		d.sched.Cancel(d.ctx, jobPath(step.FilePath))
	}
}

// Jobs returns the file paths of the registered cron steps
func (d *Dispatcher) Jobs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]string, 0, len(d.jobs))
	for path := range d.jobs {
		res = append(res, path)
	}
	slices.Sort(res)
	return res
}

// Stop cancels every scheduled job so that no further ticks are queued. A
// tick already running is left to finish; Close waits for it
func (d *Dispatcher) Stop() {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	clear(d.jobs)
	d.mu.Unlock()

	if started {
		d.sched.CancelPrefix(d.ctx, []string{pathPrefix})
	}
	d.cancel()
	d.running.Wait()
}

// Close stops every job and waits for queued and running ticks to finish.
// It is safe to call more than once
func (d *Dispatcher) Close() {
	d.Stop()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.runner.Flush()
}

func (d *Dispatcher) schedule(j *job) {
	next := j.schedule.Next(d.sched.Now())
	d.sched.Schedule(d.ctx, jobPath(j.step.FilePath), next, d.fire(j))
}

func (d *Dispatcher) fire(j *job) scheduler.TaskFunc {
	return func(now time.Time) (time.Time, error) {
		if !d.current(j) {
			return time.Time{}, nil
		}
		d.runner.Enqueue(func() {
			if d.current(j) {
				d.tick(j.step, now)
			}
		})
		return j.schedule.Next(now), nil
	}
}

func (d *Dispatcher) current(j *job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[j.step.FilePath] == j
}

func (d *Dispatcher) tick(step *api.Step, now time.Time) {
	traceID := uuid.NewString()
	logger := d.logger.Child(
		log.TraceID(traceID), log.Flows(step.Flows), log.Step(step.Name),
	)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			ec := dispatch.NewErrorContext(step, traceID, nil, err, d.resolver)
			ec.Stack = string(debug.Stack())
			ec.Report(logger, "Error executing cron job", err)
		}
	}()

	logger.Debug("Cron job fired", log.Topic(step.Emits[0].Topic))
	d.publisher.PublishAndWait(d.ctx, &api.Event{
		Topic:   step.Emits[0].Topic,
		Data:    Tick{Timestamp: now.UnixMilli()},
		TraceID: traceID,
		Flows:   append([]string(nil), step.Flows...),
		Logger:  logger,
	})
}

func jobPath(filePath string) []string {
	return []string{pathPrefix, filePath}
}

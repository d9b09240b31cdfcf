package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Scheduler runs tasks at their due time from a single goroutine.
	// Tasks keyed by the same path replace one another
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		reqs      chan request
	}

	// TaskFunc runs when its task is due. A non-zero next time reschedules
	// the task under the same path
	TaskFunc func(now time.Time) (next time.Time, err error)

	requestOp uint8

	request struct {
		task *Task
		path []string
		op   requestOp
	}
)

const (
	opSchedule requestOp = iota
	opCancel
	opCancelPrefix
)

const requestBuffer = 100

// New creates a Scheduler using the given clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		reqs:      make(chan request, requestBuffer),
	}
}

// NewSystem creates a Scheduler on the wall clock
func NewSystem() *Scheduler {
	return New(time.Now, NewTimer)
}

// Now returns the scheduler's current time
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Schedule registers fn to run at the given time under path
func (s *Scheduler) Schedule(
	ctx context.Context, path []string, at time.Time, fn TaskFunc,
) {
	s.send(ctx, request{
		op:   opSchedule,
		task: &Task{Func: fn, At: at, Path: path},
	})
}

// Cancel removes the task registered under path
func (s *Scheduler) Cancel(ctx context.Context, path []string) {
	s.send(ctx, request{op: opCancel, path: path})
}

// CancelPrefix removes every task registered under prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix []string) {
	s.send(ctx, request{op: opCancelPrefix, path: prefix})
}

// Run processes requests and fires due tasks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	timer := s.makeTimer(0)
	var timerCh <-chan time.Time
	tasks := NewTaskHeap()

	resetTimer := func() {
		next := tasks.Peek()
		if next == nil {
			timer.Stop()
			timerCh = nil
			return
		}
		timer.Reset(next.At.Sub(s.now()))
		timerCh = timer.Channel()
	}

	resetTimer()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case req := <-s.reqs:
			switch req.op {
			case opSchedule:
				tasks.Insert(req.task)
			case opCancel:
				tasks.Cancel(req.path)
			case opCancelPrefix:
				tasks.CancelPrefix(req.path)
			}
			resetTimer()
		case <-timerCh:
			if task := tasks.PopTask(); task != nil {
				s.fire(tasks, task)
			}
			resetTimer()
		}
	}
}

func (s *Scheduler) fire(tasks *TaskHeap, task *Task) {
	next, err := task.Func(s.now())
	if err != nil {
		slog.Error("Scheduled task failed",
			slog.Any("path", task.Path), log.Error(err))
	}
	if !next.IsZero() {
		task.At = next
		tasks.Insert(task)
	}
}

func (s *Scheduler) send(ctx context.Context, req request) {
	select {
	case s.reqs <- req:
	case <-ctx.Done():
	}
}

package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"
)

type (
	// TaskRunner executes queued jobs one at a time, in order
	TaskRunner struct {
		queue    topic.Topic[Job]
		prod     topic.Producer[Job]
		cons     topic.Consumer[Job]
		stop     chan struct{}
		stopped  atomic.Bool
		stopOnce sync.Once
		started  sync.Once
		runWG    sync.WaitGroup
		mu       sync.RWMutex
	}

	// Job is a unit of work for a TaskRunner
	Job func()
)

// NewTaskRunner creates a TaskRunner. Jobs are queued until Start
func NewTaskRunner() *TaskRunner {
	queue := caravan.NewTopic[Job]()
	return &TaskRunner{
		queue: queue,
		prod:  queue.NewProducer(),
		cons:  queue.NewConsumer(),
		stop:  make(chan struct{}),
	}
}

// Start begins processing queued jobs
func (t *TaskRunner) Start() {
	t.started.Do(func() {
		t.runWG.Go(func() {
			for {
				select {
				case <-t.stop:
					return
				case fn, ok := <-t.cons.Receive():
					if !ok {
						return
					}
					t.run(fn)
				}
			}
		})
	})
}

// Enqueue adds a job to the queue. Returns false once the runner has been
// flushed
func (t *TaskRunner) Enqueue(fn Job) bool {
	if fn == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped.Load() {
		return false
	}
	message.Send(t.prod, fn)
	return true
}

// Flush stops the runner, running any jobs still queued, and releases the
// queue
func (t *TaskRunner) Flush() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped.Store(true)
		t.mu.Unlock()

		close(t.stop)
		t.runWG.Wait()
		defer func() {
			t.prod.Close()
			t.cons.Close()
		}()
		for {
			select {
			case fn, ok := <-t.cons.Receive():
				if !ok {
					return
				}
				t.run(fn)
			default:
				return
			}
		}
	})
}

func (t *TaskRunner) run(fn Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task runner job panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

package helpers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/kode4food/stepflow/internal/scheduler"
)

type (
	// TimerFactory hands out FakeTimers and reports each one it creates
	TimerFactory struct {
		created chan *FakeTimer
	}

	// FakeTimer is a scheduler.Timer fired by hand
	FakeTimer struct {
		ch      chan time.Time
		resets  chan time.Duration
		stops   chan struct{}
		stopped atomic.Bool
	}
)

// WaitTimeout bounds every wait performed by the fake timer helpers
const WaitTimeout = 2 * time.Second

// Reset and Stop calls beyond this many unobserved ones are not recorded
const recordBuffer = 256

// NewTimerFactory creates an empty TimerFactory
func NewTimerFactory() *TimerFactory {
	return &TimerFactory{created: make(chan *FakeTimer, 1)}
}

// NewTimer satisfies scheduler.TimerConstructor
func (f *TimerFactory) NewTimer(time.Duration) scheduler.Timer {
	timer := &FakeTimer{
		ch:     make(chan time.Time, 1),
		resets: make(chan time.Duration, recordBuffer),
		stops:  make(chan struct{}, recordBuffer),
	}
	select {
	case f.created <- timer:
	default:
	}
	return timer
}

// WaitTimer returns the next timer created by the factory
func (f *TimerFactory) WaitTimer(t *testing.T) *FakeTimer {
	t.Helper()
	select {
	case timer := <-f.created:
		return timer
	case <-time.After(WaitTimeout):
		t.Fatal("scheduler timer was not created")
		return nil
	}
}

func (t *FakeTimer) Channel() <-chan time.Time {
	return t.ch
}

func (t *FakeTimer) Reset(delay time.Duration) bool {
	t.stopped.Store(false)
	drainTimeChan(t.ch)
	select {
	case t.resets <- delay:
	default:
	}
	return true
}

func (t *FakeTimer) Stop() bool {
	wasStopped := t.stopped.Swap(true)
	drainTimeChan(t.ch)
	select {
	case t.stops <- struct{}{}:
	default:
	}
	return !wasStopped
}

// Fire delivers a tick unless the timer is stopped
func (t *FakeTimer) Fire(at time.Time) {
	if t.stopped.Load() {
		return
	}
	select {
	case t.ch <- at:
	default:
	}
}

// WaitReset returns the delay of the next Reset call
func (t *FakeTimer) WaitReset(test *testing.T) time.Duration {
	test.Helper()
	select {
	case delay := <-t.resets:
		return delay
	case <-time.After(WaitTimeout):
		test.Fatal("scheduler timer reset not observed")
		return 0
	}
}

// WaitStop waits for the next Stop call
func (t *FakeTimer) WaitStop(test *testing.T) {
	test.Helper()
	select {
	case <-t.stops:
	case <-time.After(WaitTimeout):
		test.Fatal("scheduler timer stop not observed")
	}
}

// DrainStops discards recorded Stop calls
func (t *FakeTimer) DrainStops() {
	for {
		select {
		case <-t.stops:
		default:
			return
		}
	}
}

func drainTimeChan(ch <-chan time.Time) {
	select {
	case <-ch:
	default:
	}
}

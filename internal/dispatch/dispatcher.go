package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Handler processes one event delivered to a subscription
	Handler func(ctx context.Context, ev *api.Event) error

	// Subscription binds a step's handler to a topic. A step holds at most
	// one subscription per topic
	Subscription struct {
		Handler     Handler
		FilePath    string
		Topic       string
		HandlerName string
	}

	// Dispatcher fans events out to the subscriptions of their topic. Each
	// delivery runs on its own goroutine and failures never reach the
	// publisher
	Dispatcher struct {
		ctx    context.Context
		cancel context.CancelFunc
		topics map[string][]Subscription
		wg     sync.WaitGroup
		mu     sync.RWMutex
		closed bool
	}
)

// NewDispatcher creates an empty Dispatcher
func NewDispatcher() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		topics: map[string][]Subscription{},
	}
}

// Subscribe adds sub to its topic, replacing an existing subscription of
// the same step on that topic
func (d *Dispatcher) Subscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := slices.DeleteFunc(slices.Clone(d.topics[sub.Topic]),
		func(s Subscription) bool {
			return s.FilePath == sub.FilePath
		},
	)
	d.topics[sub.Topic] = append(subs, sub)
	slog.Debug("Subscribed step",
		log.Topic(sub.Topic),
		log.FilePath(sub.FilePath),
		log.Step(sub.HandlerName))
}

// Unsubscribe removes the step's subscription from topic
func (d *Dispatcher) Unsubscribe(filePath, topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := slices.DeleteFunc(slices.Clone(d.topics[topic]),
		func(s Subscription) bool {
			return s.FilePath == filePath
		},
	)
	if len(subs) == 0 {
		delete(d.topics, topic)
		return
	}
	d.topics[topic] = subs
}

// Subscriptions returns the subscriptions of topic in registration order
func (d *Dispatcher) Subscriptions(topic string) []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.topics[topic])
}

// Publish delivers ev to every subscriber of its topic without waiting for
// them. Deliveries outlive the caller's context and end only when the
// Dispatcher is closed
func (d *Dispatcher) Publish(ctx context.Context, ev *api.Event) {
	d.publish(ctx, ev, nil)
}

// PublishAndWait delivers ev like Publish, then blocks until every
// subscriber has finished
func (d *Dispatcher) PublishAndWait(ctx context.Context, ev *api.Event) {
	var wg sync.WaitGroup
	d.publish(ctx, ev, &wg)
	wg.Wait()
}

// Close cancels in-flight deliveries and waits for them to return. Events
// published after Close are dropped
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) publish(
	ctx context.Context, ev *api.Event, wg *sync.WaitGroup,
) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		slog.Debug("Dropping event after close", log.Topic(ev.Topic))
		return
	}

	subs := d.topics[ev.Topic]
	if len(subs) == 0 {
		slog.Debug("No subscribers for event",
			log.Topic(ev.Topic),
			log.TraceID(ev.TraceID))
		return
	}

	for _, sub := range subs {
		if wg != nil {
			wg.Add(1)
		}
		d.wg.Go(func() {
			if wg != nil {
				defer wg.Done()
			}
			d.deliver(ctx, sub, ev)
		})
	}
}

func (d *Dispatcher) deliver(
	parent context.Context, sub Subscription, ev *api.Event,
) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(d.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subscriber panicked",
				log.Topic(ev.Topic),
				log.Step(sub.HandlerName),
				log.TraceID(ev.TraceID),
				log.ErrorString(fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := sub.Handler(ctx, ev); err != nil {
		slog.Error("Subscriber failed",
			log.Topic(ev.Topic),
			log.Step(sub.HandlerName),
			log.TraceID(ev.TraceID),
			log.Error(err))
	}
}

package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kode4food/stepflow/internal/assert"
	"github.com/kode4food/stepflow/internal/dispatch"
	"github.com/kode4food/stepflow/pkg/api"
)

const waitTimeout = 2 * time.Second

func TestPublishFanOut(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	var calls atomic.Int32
	handler := func(context.Context, *api.Event) error {
		calls.Add(1)
		return nil
	}
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "ping", HandlerName: "a", Handler: handler,
	})
	d.Subscribe(dispatch.Subscription{
		FilePath: "/b.py", Topic: "ping", HandlerName: "b", Handler: handler,
	})
	d.Subscribe(dispatch.Subscription{
		FilePath: "/c.py", Topic: "other", HandlerName: "c", Handler: handler,
	})

	d.PublishAndWait(context.Background(), &api.Event{Topic: "ping"})
	as.Equal(int32(2), calls.Load())

	d.PublishAndWait(context.Background(), &api.Event{Topic: "missing"})
	as.Equal(int32(2), calls.Load())
}

func TestSubscribeReplacesSameStep(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	noop := func(context.Context, *api.Event) error { return nil }
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "t", HandlerName: "old", Handler: noop,
	})
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "t", HandlerName: "new", Handler: noop,
	})

	subs := d.Subscriptions("t")
	if as.Len(subs, 1) {
		as.Equal("new", subs[0].HandlerName)
	}
}

func TestUnsubscribe(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	var calls atomic.Int32
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "t",
		Handler: func(context.Context, *api.Event) error {
			calls.Add(1)
			return nil
		},
	})
	d.Unsubscribe("/a.py", "t")
	d.Unsubscribe("/missing.py", "t")

	d.PublishAndWait(context.Background(), &api.Event{Topic: "t"})
	as.Equal(int32(0), calls.Load())
	as.Empty(d.Subscriptions("t"))
}

func TestFailingSubscriberIsolated(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	var ok atomic.Int32
	d.Subscribe(dispatch.Subscription{
		FilePath: "/panic.py", Topic: "t",
		Handler: func(context.Context, *api.Event) error {
			panic("boom")
		},
	})
	d.Subscribe(dispatch.Subscription{
		FilePath: "/error.py", Topic: "t",
		Handler: func(context.Context, *api.Event) error {
			return errors.New("failed")
		},
	})
	d.Subscribe(dispatch.Subscription{
		FilePath: "/ok.py", Topic: "t",
		Handler: func(context.Context, *api.Event) error {
			ok.Add(1)
			return nil
		},
	})

	d.PublishAndWait(context.Background(), &api.Event{Topic: "t"})
	as.Equal(int32(1), ok.Load())
}

func TestPublishDoesNotBlock(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	release := make(chan struct{})
	done := make(chan struct{})
	d.Subscribe(dispatch.Subscription{
		FilePath: "/slow.py", Topic: "t",
		Handler: func(context.Context, *api.Event) error {
			<-release
			close(done)
			return nil
		},
	})

	d.Publish(context.Background(), &api.Event{Topic: "t"})
	close(release)

	select {
	case <-done:
	case <-time.After(waitTimeout):
		as.Fail("subscriber did not run")
	}
}

func TestDeliveryOutlivesPublisherContext(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "t",
		Handler: func(ctx context.Context, _ *api.Event) error {
			close(started)
			<-release
			result <- ctx.Err()
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, &api.Event{Topic: "t"})
	<-started
	cancel()
	close(release)

	select {
	case err := <-result:
		as.NoError(err)
	case <-time.After(waitTimeout):
		as.Fail("subscriber did not finish")
	}
}

func TestCloseCancelsDeliveries(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()

	started := make(chan struct{})
	var cancelled atomic.Bool
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "t",
		Handler: func(ctx context.Context, _ *api.Event) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return nil
		},
	})

	d.Publish(context.Background(), &api.Event{Topic: "t"})
	<-started
	d.Close()
	as.True(cancelled.Load())

	var calls atomic.Int32
	d.Subscribe(dispatch.Subscription{
		FilePath: "/b.py", Topic: "late",
		Handler: func(context.Context, *api.Event) error {
			calls.Add(1)
			return nil
		},
	})
	d.PublishAndWait(context.Background(), &api.Event{Topic: "late"})
	as.Equal(int32(0), calls.Load())
	d.Close()
}

func TestConcurrentPublish(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()

	var calls atomic.Int32
	d.Subscribe(dispatch.Subscription{
		FilePath: "/a.py", Topic: "t",
		Handler: func(context.Context, *api.Event) error {
			calls.Add(1)
			return nil
		},
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			d.PublishAndWait(context.Background(), &api.Event{Topic: "t"})
		})
	}
	wg.Wait()
	as.Equal(int32(50), calls.Load())
}

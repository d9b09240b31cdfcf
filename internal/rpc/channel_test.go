package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kode4food/stepflow/internal/rpc"
	"github.com/kode4food/stepflow/pkg/log"
)

type fakeTransport struct {
	msgs      chan []byte
	sent      chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

const testTimeout = 5 * time.Second

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgs: make(chan []byte, 16),
		sent: make(chan []byte, 16),
	}
}

func (f *fakeTransport) Messages() <-chan []byte {
	return f.msgs
}

func (f *fakeTransport) Send(msg []byte) error {
	if f.closed.Load() {
		return errors.New("write after close")
	}
	f.sent <- msg
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.msgs)
	})
	return nil
}

func (f *fakeTransport) inject(msg string) {
	f.msgs <- []byte(msg)
}

func (f *fakeTransport) next(t *testing.T) gjson.Result {
	t.Helper()
	select {
	case raw := <-f.sent:
		return gjson.ParseBytes(raw)
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for sent message")
		return gjson.Result{}
	}
}

func (f *fakeTransport) quiet(t *testing.T) {
	t.Helper()
	select {
	case raw := <-f.sent:
		t.Fatalf("unexpected message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func echoHandlers() *rpc.Handlers {
	return rpc.NewHandlers().
		Handle("echo", func(
			_ context.Context, args json.RawMessage,
		) (any, error) {
			return args, nil
		}).
		Handle("fail", func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		})
}

func startChannel(
	t *testing.T, h *rpc.Handlers,
) (*rpc.Channel, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	ch := rpc.NewChannel(ft, h, log.NewLogger(nil))
	ch.Start()
	t.Cleanup(func() { _ = ch.Close() })
	return ch, ft
}

func TestRequestResponse(t *testing.T) {
	_, ft := startChannel(t, echoHandlers())

	ft.inject(`{"type":"rpc_request","id":"1","method":"echo","args":{"x":1}}`)
	res := ft.next(t)
	assert.Equal(t, "rpc_response", res.Get("type").String())
	assert.Equal(t, "1", res.Get("id").String())
	assert.JSONEq(t, `{"x":1}`, res.Get("result").Raw)
	assert.False(t, res.Get("error").Exists())

	ft.inject(`{"type":"rpc_request","id":"2","method":"fail"}`)
	res = ft.next(t)
	assert.Equal(t, "2", res.Get("id").String())
	assert.Equal(t, "boom", res.Get("error").String())
	assert.False(t, res.Get("result").Exists())
}

func TestUnknownMethod(t *testing.T) {
	_, ft := startChannel(t, echoHandlers())

	ft.inject(`{"type":"rpc_request","id":"9","method":"nope","args":null}`)
	res := ft.next(t)
	assert.Equal(t, "9", res.Get("id").String())
	assert.Equal(t, "no handler for method nope", res.Get("error").String())
}

func TestResponseUniqueness(t *testing.T) {
	var calls atomic.Int32
	h := rpc.NewHandlers().Handle("count",
		func(context.Context, json.RawMessage) (any, error) {
			return calls.Add(1), nil
		},
	)
	_, ft := startChannel(t, h)

	for range 5 {
		ft.inject(`{"type":"rpc_request","id":"dup","method":"count"}`)
	}
	ft.inject(`{"type":"rpc_request","id":"after","method":"count"}`)

	assert.Equal(t, "dup", ft.next(t).Get("id").String())
	assert.Equal(t, "after", ft.next(t).Get("id").String())
	ft.quiet(t)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNotificationGetsNoResponse(t *testing.T) {
	got := make(chan string, 1)
	h := rpc.NewHandlers().Handle("log", rpc.Bind(
		func(_ context.Context, msg string) (any, error) {
			got <- msg
			return nil, nil
		},
	))
	_, ft := startChannel(t, h)

	ft.inject(`{"type":"rpc_request","method":"log","args":"hello"}`)
	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(testTimeout):
		t.Fatal("handler not invoked")
	}
	ft.quiet(t)
}

func TestHandlersRunInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int
	h := rpc.NewHandlers().Handle("log", rpc.Bind(
		func(_ context.Context, n int) (any, error) {
			if n == 0 {
				time.Sleep(20 * time.Millisecond)
			}
			mu.Lock()
			defer mu.Unlock()
			order = append(order, n)
			return nil, nil
		},
	))
	ch, ft := startChannel(t, h)

	ft.inject(`{"type":"rpc_request","method":"log","args":0}`)
	ft.inject(`{"type":"rpc_request","method":"log","args":1}`)
	ft.inject(`{"type":"rpc_request","method":"log","args":2}`)
	require.NoError(t, ft.Close())
	ch.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestMalformedInput(t *testing.T) {
	ft := newFakeTransport()
	logger := log.NewLogger(nil)
	var warnings atomic.Int32
	logger.AddListener(func(e log.Entry) {
		if e.Level == "warn" {
			warnings.Add(1)
		}
	})
	ch := rpc.NewChannel(ft, echoHandlers(), logger)
	ch.Start()
	defer func() { _ = ch.Close() }()

	ft.inject(`not json`)
	ft.inject(`{"id":"1","method":"echo"}`)
	ft.inject(`{"type":"mystery"}`)
	ft.inject(`{"type":"rpc_request","id":"ok","method":"echo","args":1}`)

	assert.Equal(t, "ok", ft.next(t).Get("id").String())
	assert.Equal(t, int32(3), warnings.Load())
}

func TestBindInvalidArgs(t *testing.T) {
	h := rpc.NewHandlers().Handle("typed", rpc.Bind(
		func(_ context.Context, in struct{ Key string }) (any, error) {
			return in.Key, nil
		},
	))
	_, ft := startChannel(t, h)

	ft.inject(`{"type":"rpc_request","id":"1","method":"typed","args":42}`)
	res := ft.next(t)
	assert.Contains(t, res.Get("error").String(), "invalid rpc arguments")

	ft.inject(`{"type":"rpc_request","id":"2","method":"typed",` +
		`"args":{"Key":"k"}}`)
	assert.Equal(t, "k", ft.next(t).Get("result").String())
}

func TestHandlerPanic(t *testing.T) {
	h := rpc.NewHandlers().Handle("panic",
		func(context.Context, json.RawMessage) (any, error) {
			panic("bad")
		},
	)
	_, ft := startChannel(t, h)

	ft.inject(`{"type":"rpc_request","id":"p","method":"panic"}`)
	res := ft.next(t)
	assert.Contains(t, res.Get("error").String(), "panicked")
}

func TestOutboundCall(t *testing.T) {
	ch, ft := startChannel(t, nil)

	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := ch.Call(context.Background(), "ping", map[string]int{
			"n": 1,
		})
		done <- result{raw, err}
	}()

	req := ft.next(t)
	assert.Equal(t, "rpc_request", req.Get("type").String())
	assert.Equal(t, "ping", req.Get("method").String())
	assert.JSONEq(t, `{"n":1}`, req.Get("args").Raw)
	assert.Equal(t, 1, ch.Pending())

	ft.inject(`{"type":"rpc_response","id":"` + req.Get("id").String() +
		`","result":"pong"}`)
	res := <-done
	require.NoError(t, res.err)
	assert.JSONEq(t, `"pong"`, string(res.raw))
	assert.Equal(t, 0, ch.Pending())
}

func TestOutboundCallError(t *testing.T) {
	ch, ft := startChannel(t, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), "ping", nil)
		errs <- err
	}()

	req := ft.next(t)
	ft.inject(`{"type":"rpc_response","id":"` + req.Get("id").String() +
		`","error":"denied"}`)
	err := <-errs
	assert.ErrorIs(t, err, rpc.ErrRemote)
	assert.Contains(t, err.Error(), "denied")
}

func TestOutboundCallCancelled(t *testing.T) {
	ch, ft := startChannel(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := ch.Call(ctx, "ping", nil)
		errs <- err
	}()

	ft.next(t)
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Equal(t, 0, ch.Pending())
}

func TestOrphanRejection(t *testing.T) {
	ch, ft := startChannel(t, nil)

	const n = 5
	errs := make(chan error, n)
	for range n {
		go func() {
			_, err := ch.Call(context.Background(), "ping", nil)
			errs <- err
		}()
	}
	for range n {
		ft.next(t)
	}
	assert.Equal(t, n, ch.Pending())

	require.NoError(t, ch.Close())
	for range n {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, rpc.ErrChannelClosed)
		case <-time.After(testTimeout):
			t.Fatal("pending call not rejected")
		}
	}
	assert.Equal(t, 0, ch.Pending())

	_, err := ch.Call(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, rpc.ErrChannelClosed)
}

func TestReadEndRejectsPending(t *testing.T) {
	ch, ft := startChannel(t, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), "ping", nil)
		errs <- err
	}()
	ft.next(t)

	require.NoError(t, ft.Close())
	assert.ErrorIs(t, <-errs, rpc.ErrChannelClosed)
	select {
	case <-ch.Done():
	case <-time.After(testTimeout):
		t.Fatal("channel not done")
	}
}

func TestClosedChannelSafety(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := rpc.NewHandlers().Handle("slow",
		func(context.Context, json.RawMessage) (any, error) {
			close(started)
			<-release
			return "late", nil
		},
	)
	ch, ft := startChannel(t, h)

	ft.inject(`{"type":"rpc_request","id":"s","method":"slow"}`)
	<-started
	require.NoError(t, ch.Close())
	close(release)
	ch.Wait()

	ft.quiet(t)
	assert.NoError(t, ch.Close())
}

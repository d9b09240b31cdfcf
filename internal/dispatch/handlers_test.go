package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kode4food/stepflow/internal/assert"
	"github.com/kode4food/stepflow/internal/assert/helpers"
	"github.com/kode4food/stepflow/internal/dispatch"
	"github.com/kode4food/stepflow/internal/invoker"
	"github.com/kode4food/stepflow/pkg/api"
)

type fakeInvoker struct {
	err  error
	reqs []invoker.Request
	mu   sync.Mutex
}

func (f *fakeInvoker) Invoke(
	_ context.Context, req invoker.Request,
) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil, f.err
}

func (f *fakeInvoker) Requests() []invoker.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invoker.Request(nil), f.reqs...)
}

func TestPingScenario(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()
	inv := &fakeInvoker{}
	h := dispatch.NewStepHandlers(d, inv)

	step := helpers.WithFlows(helpers.NewEventStep("B", "ping"), "f1", "f2")
	h.CreateHandler(step)

	data := map[string]any{"x": 1}
	d.PublishAndWait(context.Background(), &api.Event{
		Topic: "ping", Data: data, TraceID: "t-1",
	})

	reqs := inv.Requests()
	if as.Len(reqs, 1) {
		req := reqs[0]
		as.Equal(step.FilePath, req.Step.FilePath)
		as.Equal([]string{"f1", "f2"}, req.Step.Flows)
		as.Equal(data, req.Data)
		as.Equal("t-1", req.TraceID)
		as.False(req.ContextInFirstArg)
		as.NotNil(req.Logger)
	}
}

func TestHandlerPerSubscription(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()
	inv := &fakeInvoker{}
	h := dispatch.NewStepHandlers(d, inv)

	step := helpers.NewEventStep("multi", "a", "b")
	h.CreateHandler(step)
	as.Len(d.Subscriptions("a"), 1)
	as.Len(d.Subscriptions("b"), 1)

	h.RemoveHandler(step)
	as.Empty(d.Subscriptions("a"))
	as.Empty(d.Subscriptions("b"))

	d.PublishAndWait(context.Background(), &api.Event{Topic: "a"})
	as.Empty(inv.Requests())
}

func TestHandlerTracerChild(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()
	inv := &fakeInvoker{}
	h := dispatch.NewStepHandlers(d, inv)

	h.CreateHandler(helpers.NewEventStep("traced", "t"))
	tr := helpers.NewTracer()
	d.PublishAndWait(context.Background(), &api.Event{Topic: "t", Tracer: tr})

	as.Equal([]string{"traced"}, tr.Children())
	reqs := inv.Requests()
	if as.Len(reqs, 1) {
		child, ok := reqs[0].Tracer.(*helpers.Tracer)
		as.True(ok)
		as.Equal("traced", child.Step)
	}
}

func TestHandlerFailureReported(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()
	inv := &fakeInvoker{err: errors.New("connection refused")}
	logger, logs := helpers.NewRecordedLogger()
	h := dispatch.NewStepHandlers(d, inv,
		dispatch.WithResolver(dispatch.HeuristicResolver{}),
	)

	step := helpers.WithFlows(helpers.NewEventStep("net", "t"), "f1")
	h.CreateHandler(step)
	d.PublishAndWait(context.Background(), &api.Event{
		Topic: "t", TraceID: "t-9", Logger: logger, Data: "in",
	})

	e, ok := logs.Find("error", "Error executing step")
	if as.True(ok) {
		as.Equal("NETWORK", e.Attrs["category"])
		as.Equal("connection refused", e.Attrs["error"])
		ec, ok := e.Attrs["context"].(*dispatch.ErrorContext)
		if as.True(ok) {
			as.Equal("net", ec.StepName)
			as.Equal(api.StepTypeEvent, ec.StepType)
			as.Equal("t-9", ec.TraceID)
			as.Equal([]string{"f1"}, ec.Flows)
			as.Equal("in", ec.InputData)
			as.False(ec.Timestamp.IsZero())
		}
	}
	_, ok = logs.Find("info",
		"Network error detected, consider implementing retry logic")
	as.True(ok)
	as.Len(inv.Requests(), 1)
}

func TestHandlerFailureDefaultsUnknown(t *testing.T) {
	as := assert.New(t)
	d := dispatch.NewDispatcher()
	defer d.Close()
	inv := &fakeInvoker{err: errors.New("connection refused")}
	logger, logs := helpers.NewRecordedLogger()
	h := dispatch.NewStepHandlers(d, inv)

	h.CreateHandler(helpers.NewEventStep("net", "t"))
	d.PublishAndWait(context.Background(), &api.Event{
		Topic: "t", Logger: logger,
	})

	e, ok := logs.Find("error", "Error executing step")
	if as.True(ok) {
		as.Equal("UNKNOWN", e.Attrs["category"])
	}
	as.Empty(logs.Messages("info"))
}

func TestHeuristicResolver(t *testing.T) {
	as := assert.New(t)
	r := dispatch.HeuristicResolver{}

	for msg, want := range map[string]dispatch.ErrorCategory{
		"Validation failed":     dispatch.CategoryValidation,
		"invalid input":         dispatch.CategoryValidation,
		"network unreachable":   dispatch.CategoryNetwork,
		"request timeout":       dispatch.CategoryNetwork,
		"business rule broken":  dispatch.CategoryBusinessLogic,
		"domain error":          dispatch.CategoryBusinessLogic,
		"internal error":        dispatch.CategorySystem,
		"system failure":        dispatch.CategorySystem,
		"process exited code 2": dispatch.CategoryUnknown,
	} {
		as.Equal(want, r.Resolve(errors.New(msg)), msg)
	}
	as.Equal(dispatch.CategoryUnknown, r.Resolve(nil))
	as.Equal(dispatch.CategoryUnknown,
		dispatch.UnknownResolver{}.Resolve(errors.New("invalid")))

	fn := dispatch.ResolverFunc(func(error) dispatch.ErrorCategory {
		return dispatch.CategorySystem
	})
	as.Equal(dispatch.CategorySystem, fn.Resolve(nil))
}

func TestErrorContextChain(t *testing.T) {
	as := assert.New(t)
	err := fmt.Errorf("outer: %w", errors.New("root cause"))
	ec := dispatch.NewErrorContext(helpers.NewTestStep(), "tr", nil, err, nil)
	as.Equal(dispatch.CategoryUnknown, ec.Category)
	as.Equal("outer: root cause\nroot cause", ec.Chain)
	as.Empty(ec.Stack)
}

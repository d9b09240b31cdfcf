package invoker

import (
	"context"
	"encoding/json"

	"github.com/kode4food/stepflow/pkg/api"
)

type (
	stateArgs struct {
		Value   json.RawMessage `json:"value,omitempty"`
		TraceID string          `json:"traceId"`
		Key     string          `json:"key"`
	}

	emitArgs struct {
		Data  json.RawMessage `json:"data,omitempty"`
		Topic string          `json:"topic"`
	}

	stateFunc func(context.Context, stateArgs) (any, api.StateOp, error)
)

func (inv *invocation) stateOp(
	fn stateFunc,
) func(context.Context, stateArgs) (any, error) {
	return func(ctx context.Context, in stateArgs) (any, error) {
		if in.TraceID == "" {
			in.TraceID = inv.TraceID
		}
		res, op, err := fn(ctx, in)
		inv.tracer.StateOperation(op, in)
		return res, err
	}
}

func (i *Invoker) stateGet(
	ctx context.Context, in stateArgs,
) (any, api.StateOp, error) {
	if i.state == nil {
		return nil, api.StateGet, ErrNoStateStore
	}
	res, err := i.state.Get(ctx, in.TraceID, in.Key)
	if err != nil || res == nil {
		return nil, api.StateGet, err
	}
	return res, api.StateGet, nil
}

func (i *Invoker) stateSet(
	ctx context.Context, in stateArgs,
) (any, api.StateOp, error) {
	if i.state == nil {
		return nil, api.StateSet, ErrNoStateStore
	}
	value := in.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return nil, api.StateSet, i.state.Set(ctx, in.TraceID, in.Key, value)
}

func (i *Invoker) stateDelete(
	ctx context.Context, in stateArgs,
) (any, api.StateOp, error) {
	if i.state == nil {
		return nil, api.StateDelete, ErrNoStateStore
	}
	return nil, api.StateDelete, i.state.Delete(ctx, in.TraceID, in.Key)
}

func (i *Invoker) stateClear(
	ctx context.Context, in stateArgs,
) (any, api.StateOp, error) {
	if i.state == nil {
		return nil, api.StateClear, ErrNoStateStore
	}
	return nil, api.StateClear, i.state.Clear(ctx, in.TraceID)
}

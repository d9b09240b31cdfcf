package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

type (
	// HandlerFunc serves one inbound method call
	HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

	// Handlers collects method handlers before a Channel is constructed
	Handlers struct {
		table map[string]HandlerFunc
	}
)

// NewHandlers returns an empty handler builder
func NewHandlers() *Handlers {
	return &Handlers{table: map[string]HandlerFunc{}}
}

// Handle registers fn for method, replacing any earlier registration
func (h *Handlers) Handle(method string, fn HandlerFunc) *Handlers {
	h.table[method] = fn
	return h
}

func (h *Handlers) freeze() map[string]HandlerFunc {
	if h == nil {
		return map[string]HandlerFunc{}
	}
	return maps.Clone(h.table)
}

// Bind adapts a function taking decoded arguments into a HandlerFunc. Absent
// or null arguments decode as the zero value
func Bind[T any](fn func(context.Context, T) (any, error)) HandlerFunc {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var in T
		if len(args) != 0 && string(args) != "null" {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
			}
		}
		return fn(ctx, in)
	}
}

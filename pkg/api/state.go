package api

import (
	"context"
	"encoding/json"
)

// StateStore holds values scoped by trace id. Get returns a nil value when
// the key is absent. Implementations must be safe for concurrent use
type StateStore interface {
	Get(ctx context.Context, traceID, key string) (json.RawMessage, error)
	Set(ctx context.Context, traceID, key string, value json.RawMessage) error
	Delete(ctx context.Context, traceID, key string) error
	Clear(ctx context.Context, traceID string) error
}

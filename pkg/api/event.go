package api

import "github.com/kode4food/stepflow/pkg/log"

// Event is a published topic and payload. A fresh value is built for every
// publish and each subscriber receives its own copy
type Event struct {
	Logger  *log.Logger `json:"-"`
	Tracer  Tracer      `json:"-"`
	Data    any         `json:"data"`
	Topic   string      `json:"topic"`
	TraceID string      `json:"traceId"`
	Flows   []string    `json:"flows,omitempty"`
}

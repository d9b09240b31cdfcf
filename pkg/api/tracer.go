package api

import "github.com/kode4food/stepflow/pkg/log"

type (
	// Tracer receives lifecycle notifications for one step execution
	Tracer interface {
		End(err error)
		StateOperation(op StateOp, input any)
		EmitOperation(topic string, data any, success bool)
		Child(step *Step, logger *log.Logger) Tracer
	}

	StateOp string

	noopTracer struct{}
)

const (
	StateGet    StateOp = "get"
	StateSet    StateOp = "set"
	StateDelete StateOp = "delete"
	StateClear  StateOp = "clear"
)

// NoopTracer is a Tracer that records nothing
var NoopTracer Tracer = noopTracer{}

// TracerOrNoop returns t, or NoopTracer when t is nil
func TracerOrNoop(t Tracer) Tracer {
	if t == nil {
		return NoopTracer
	}
	return t
}

func (noopTracer) End(error)                       {}
func (noopTracer) StateOperation(StateOp, any)     {}
func (noopTracer) EmitOperation(string, any, bool) {}

func (n noopTracer) Child(*Step, *log.Logger) Tracer {
	return n
}

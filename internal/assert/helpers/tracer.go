package helpers

import (
	"sync"

	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Tracer records every call made against it and its children
	Tracer struct {
		rec  *traceRecord
		Step string
	}

	// StateCall is a recorded StateOperation
	StateCall struct {
		Op   api.StateOp
		Args any
	}

	// EmitCall is a recorded EmitOperation
	EmitCall struct {
		Topic   string
		Data    any
		Success bool
	}

	traceRecord struct {
		ended    []error
		children []string
		state    []StateCall
		emits    []EmitCall
		mu       sync.Mutex
	}
)

var _ api.Tracer = (*Tracer)(nil)

// NewTracer creates an empty recording Tracer
func NewTracer() *Tracer {
	return &Tracer{rec: &traceRecord{}}
}

func (t *Tracer) End(err error) {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.ended = append(t.rec.ended, err)
}

func (t *Tracer) StateOperation(op api.StateOp, args any) {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.state = append(t.rec.state, StateCall{Op: op, Args: args})
}

func (t *Tracer) EmitOperation(topic string, data any, success bool) {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.emits = append(t.rec.emits, EmitCall{
		Topic: topic, Data: data, Success: success,
	})
}

func (t *Tracer) Child(step *api.Step, _ *log.Logger) api.Tracer {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.children = append(t.rec.children, step.Name)
	return &Tracer{rec: t.rec, Step: step.Name}
}

// Ended returns the errors passed to End, in call order
func (t *Tracer) Ended() []error {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	return append([]error(nil), t.rec.ended...)
}

// Children returns the step names children were created for
func (t *Tracer) Children() []string {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	return append([]string(nil), t.rec.children...)
}

// StateCalls returns the recorded state operations
func (t *Tracer) StateCalls() []StateCall {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	return append([]StateCall(nil), t.rec.state...)
}

// EmitCalls returns the recorded emit operations
func (t *Tracer) EmitCalls() []EmitCall {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	return append([]EmitCall(nil), t.rec.emits...)
}

package dispatch

import (
	"context"
	"encoding/json"

	"github.com/kode4food/stepflow/internal/invoker"
	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Invoker runs a single step invocation
	Invoker interface {
		Invoke(ctx context.Context, req invoker.Request) (json.RawMessage, error)
	}

	// StepHandlers subscribes event steps to the topics they consume
	StepHandlers struct {
		dispatcher *Dispatcher
		invoker    Invoker
		resolver   ErrorCategoryResolver
		logger     *log.Logger
	}

	// HandlerOption configures StepHandlers
	HandlerOption func(*StepHandlers)
)

// WithResolver sets the resolver used to classify step failures
func WithResolver(r ErrorCategoryResolver) HandlerOption {
	return func(h *StepHandlers) {
		h.resolver = r
	}
}

// WithLogger sets the logger used for events that carry none
func WithLogger(l *log.Logger) HandlerOption {
	return func(h *StepHandlers) {
		h.logger = l
	}
}

// NewStepHandlers creates StepHandlers that subscribe through d and run
// steps with inv
func NewStepHandlers(
	d *Dispatcher, inv Invoker, opts ...HandlerOption,
) *StepHandlers {
	res := &StepHandlers{
		dispatcher: d,
		invoker:    inv,
		resolver:   UnknownResolver{},
	}
	for _, opt := range opts {
		opt(res)
	}
	if res.logger == nil {
		res.logger = log.NewLogger(nil)
	}
	return res
}

// CreateHandler subscribes step to each topic it consumes
func (h *StepHandlers) CreateHandler(step *api.Step) {
	step = step.Clone()
	h.logger.Debug("Establishing step subscriptions",
		log.FilePath(step.FilePath), log.Step(step.Name))

	handler := h.makeHandler(step)
	for _, topic := range step.Subscriptions() {
		h.dispatcher.Subscribe(Subscription{
			FilePath:    step.FilePath,
			Topic:       topic,
			HandlerName: step.Name,
			Handler:     handler,
		})
	}
}

// RemoveHandler unsubscribes step from each topic it consumes
func (h *StepHandlers) RemoveHandler(step *api.Step) {
	for _, topic := range step.Subscriptions() {
		h.dispatcher.Unsubscribe(step.FilePath, topic)
	}
}

func (h *StepHandlers) makeHandler(step *api.Step) Handler {
	return func(ctx context.Context, ev *api.Event) error {
		logger := ev.Logger
		if logger == nil {
			logger = h.logger
		}
		logger.Debug("Received event",
			log.Topic(ev.Topic),
			log.TraceID(ev.TraceID),
			log.Step(step.Name))

		var tracer api.Tracer
		if ev.Tracer != nil {
			tracer = ev.Tracer.Child(step, logger)
		}

		_, err := h.invoker.Invoke(ctx, invoker.Request{
			Step:    step,
			Data:    ev.Data,
			Logger:  logger,
			Tracer:  tracer,
			TraceID: ev.TraceID,
		})
		if err != nil {
			ec := NewErrorContext(step, ev.TraceID, ev.Data, err, h.resolver)
			ec.Report(logger, "Error executing step", err)
		}
		return nil
	}
}

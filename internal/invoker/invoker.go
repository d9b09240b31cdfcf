package invoker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/kode4food/stepflow/internal/rpc"
	"github.com/kode4food/stepflow/internal/transport"
	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/log"
)

type (
	// Emitter receives events emitted by running workers
	Emitter interface {
		Publish(ctx context.Context, ev *api.Event)
	}

	// CommandFunc builds the command for a worker process
	CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

	// Request describes one step invocation
	Request struct {
		Step              *api.Step
		Data              any
		Logger            *log.Logger
		Tracer            api.Tracer
		TraceID           string
		ContextInFirstArg bool
	}

	// Invoker runs step invocations, one worker process each
	Invoker struct {
		runners  *Runners
		state    api.StateStore
		emitter  Emitter
		command  CommandFunc
		platform transport.Platform
	}

	// Option configures an Invoker
	Option func(*Invoker)

	payload struct {
		Data              any      `json:"data"`
		TraceID           string   `json:"traceId"`
		Flows             []string `json:"flows"`
		ContextInFirstArg bool     `json:"contextInFirstArg"`
	}

	invocation struct {
		*Request
		cmd    *exec.Cmd
		logger *log.Logger
		tracer api.Tracer
		result json.RawMessage
		mu     sync.Mutex
	}
)

var (
	ErrExecutableNotFound = errors.New("executable not found")
	ErrProcessExited      = errors.New("process exited with code")
	ErrNotAllowedToEmit   = errors.New("step not allowed to emit")
	ErrNoStateStore       = errors.New("no state store configured")
)

// WithPlatform overrides the detected host platform
func WithPlatform(p transport.Platform) Option {
	return func(i *Invoker) {
		i.platform = p
	}
}

// WithCommand overrides how worker commands are constructed
func WithCommand(fn CommandFunc) Option {
	return func(i *Invoker) {
		i.command = fn
	}
}

// New creates an Invoker. The state store and emitter may be nil, in which
// case state calls fail and emits are dropped
func New(
	runners *Runners, state api.StateStore, emitter Emitter, opts ...Option,
) *Invoker {
	res := &Invoker{
		runners:  runners,
		state:    state,
		emitter:  emitter,
		command:  exec.CommandContext,
		platform: transport.CurrentPlatform(),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Invoke runs the step in a fresh worker process and blocks until the
// worker exits. It returns the value the worker reported as its result,
// which may be nil
func (i *Invoker) Invoke(
	ctx context.Context, req Request,
) (res json.RawMessage, err error) {
	tracer := api.TracerOrNoop(req.Tracer)
	defer func() { tracer.End(err) }()

	run, err := i.runners.Lookup(req.Step.FilePath)
	if err != nil {
		return nil, err
	}

	logger := req.Logger
	if logger == nil {
		logger = log.NewLogger(nil)
	}
	inv := &invocation{
		Request: &req,
		logger:  logger.Child(log.Step(req.Step.Name)),
		tracer:  tracer,
	}

	flows := req.Step.Flows
	if flows == nil {
		flows = []string{}
	}
	data, err := json.Marshal(payload{
		Data:              req.Data,
		TraceID:           req.TraceID,
		Flows:             flows,
		ContextInFirstArg: req.ContextInFirstArg,
	})
	if err != nil {
		return nil, err
	}

	kind := transport.Select(run.Hint, i.platform)
	inv.cmd = i.command(ctx, run.Command, run.argv(req.Step.FilePath, data)...)
	wiring, err := transport.Wire(kind, inv.cmd)
	if err != nil {
		return nil, err
	}

	inv.logger.Debug("Spawning worker",
		"command", run.Command, "transport", kind.String(),
		log.TraceID(req.TraceID))

	if err := inv.cmd.Start(); err != nil {
		wiring.Abort()
		return nil, spawnError(run.Command, err)
	}

	ch := rpc.NewChannel(wiring.Attach(), i.handlers(inv), inv.logger)
	ch.Start()

	var streams sync.WaitGroup
	streams.Go(func() {
		eachLine(wiring.Stderr, func(line string) {
			inv.logger.Error(line)
		})
	})
	if wiring.Stdout != nil {
		streams.Go(func() {
			eachLine(wiring.Stdout, inv.logOutput)
		})
	}

	waitErr := inv.cmd.Wait()
	streams.Wait()
	ch.Wait()
	_ = ch.Close()
	wiring.Close()

	if err := exitError(waitErr); err != nil {
		return nil, err
	}
	return inv.captured(), nil
}

func (i *Invoker) handlers(inv *invocation) *rpc.Handlers {
	return rpc.NewHandlers().
		Handle("state.get", rpc.Bind(inv.stateOp(i.stateGet))).
		Handle("state.set", rpc.Bind(inv.stateOp(i.stateSet))).
		Handle("state.delete", rpc.Bind(inv.stateOp(i.stateDelete))).
		Handle("state.clear", rpc.Bind(inv.stateOp(i.stateClear))).
		Handle("log", inv.logEntry).
		Handle("emit", rpc.Bind(func(
			ctx context.Context, in emitArgs,
		) (any, error) {
			return nil, i.emit(ctx, inv, in)
		})).
		Handle("result", inv.setResult).
		Handle("close", inv.close)
}

func (i *Invoker) emit(ctx context.Context, inv *invocation, in emitArgs) error {
	step := inv.Step
	if !step.CanEmit(in.Topic) {
		inv.logger.Warn("Step attempted to emit undeclared topic",
			log.Topic(in.Topic), log.FilePath(step.FilePath),
			"emits", step.EmitTopics())
		inv.tracer.EmitOperation(in.Topic, in.Data, false)
		return fmt.Errorf("%w: %s", ErrNotAllowedToEmit, in.Topic)
	}

	inv.tracer.EmitOperation(in.Topic, in.Data, true)
	if i.emitter == nil {
		inv.logger.Debug("Dropping emit without emitter", log.Topic(in.Topic))
		return nil
	}
	i.emitter.Publish(ctx, &api.Event{
		Topic:   in.Topic,
		Data:    in.Data,
		TraceID: inv.TraceID,
		Flows:   append([]string(nil), step.Flows...),
		Logger:  inv.logger,
		Tracer:  inv.tracer,
	})
	return nil
}

func (inv *invocation) logEntry(
	_ context.Context, args json.RawMessage,
) (any, error) {
	inv.logger.Log(args)
	return nil, nil
}

func (inv *invocation) setResult(
	_ context.Context, args json.RawMessage,
) (any, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.result = append(json.RawMessage(nil), args...)
	return nil, nil
}

func (inv *invocation) captured() json.RawMessage {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.result
}

func (inv *invocation) close(context.Context, json.RawMessage) (any, error) {
	if p := inv.cmd.Process; p != nil {
		if err := p.Kill(); err != nil {
			inv.logger.Debug("Failed to kill worker", log.Error(err))
		}
	}
	return nil, nil
}

func (inv *invocation) logOutput(line string) {
	if gjson.Valid(line) {
		inv.logger.Log([]byte(line))
		return
	}
	inv.logger.Info(line)
}

func spawnError(command string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, command)
	}
	return err
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	code := exitErr.ExitCode()
	if code == -1 {
		return nil
	}
	return fmt.Errorf("%w %d", ErrProcessExited, code)
}

func eachLine(r io.Reader, fn func(string)) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if trimmed := trimEOL(line); trimmed != "" {
				fn(trimmed)
			}
		}
		if err != nil {
			return
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

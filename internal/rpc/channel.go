package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/kode4food/stepflow/internal/transport"
	"github.com/kode4food/stepflow/pkg/log"
	"github.com/kode4food/stepflow/pkg/util"
)

type (
	// Channel runs the correlated request/response protocol over one worker
	// transport. Inbound requests are served from a fixed handler table in
	// arrival order, off the read loop
	Channel struct {
		ctx       context.Context
		transport transport.Transport
		handlers  map[string]HandlerFunc
		logger    *log.Logger
		pending   map[string]*pendingCall
		seen      util.Set[string]
		work      chan func()
		done      chan struct{}
		drained   chan struct{}
		cancel    context.CancelFunc
		closed    atomic.Bool
		mu        sync.Mutex
		startOnce sync.Once
		closeOnce sync.Once
	}

	pendingCall struct {
		method string
		result chan *Response
	}
)

const workBuffer = 64

var (
	ErrChannelClosed = errors.New("rpc channel closed")
	ErrNoHandler     = errors.New("no handler for method")
	ErrInvalidArgs   = errors.New("invalid rpc arguments")
	ErrRemote        = errors.New("rpc call failed")
	ErrHandlerPanic  = errors.New("rpc handler panicked")
)

// NewChannel binds a frozen copy of the handler table to the transport.
// No traffic is processed until Start is called
func NewChannel(
	t transport.Transport, h *Handlers, logger *log.Logger,
) *Channel {
	if logger == nil {
		logger = log.NewLogger(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		ctx:       ctx,
		cancel:    cancel,
		transport: t,
		handlers:  h.freeze(),
		logger:    logger,
		pending:   map[string]*pendingCall{},
		seen:      util.Set[string]{},
		work:      make(chan func(), workBuffer),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
	}
}

// Start begins reading messages from the transport
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.serve()
		go c.readLoop()
	})
}

// Call sends a request to the peer and waits for its response
func (c *Channel) Call(
	ctx context.Context, method string, args any,
) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	pc := &pendingCall{
		method: method,
		result: make(chan *Response, 1),
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.pending[id] = pc
	c.mu.Unlock()

	c.send(&Request{
		Type:   TypeRequest,
		ID:     id,
		Method: method,
		Args:   raw,
	})

	select {
	case res := <-pc.result:
		if res.Error != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrRemote, method, res.Error)
		}
		return res.Result, nil
	case <-c.done:
		return nil, fmt.Errorf("%w: %s", ErrChannelClosed, method)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Pending returns the number of outbound calls awaiting a response
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the channel stops accepting traffic
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the read side has ended and every accepted inbound
// request has been handled
func (c *Channel) Wait() {
	<-c.drained
}

// Close stops the channel, rejecting outbound calls still pending and
// cancelling running handlers. Later writes are dropped
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.shutdown()
		c.cancel()
		err = c.transport.Close()
	})
	return err
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	for id, pc := range c.pending {
		c.logger.Debug("Rejecting pending rpc call",
			"id", id, "method", pc.method)
		delete(c.pending, id)
	}
}

func (c *Channel) readLoop() {
	defer close(c.work)
	defer c.shutdown()

	for raw := range c.transport.Messages() {
		c.receive(raw)
	}
}

func (c *Channel) serve() {
	defer close(c.drained)
	for fn := range c.work {
		fn()
	}
}

func (c *Channel) receive(raw []byte) {
	if !gjson.ValidBytes(raw) {
		c.logger.Warn("Failed to parse rpc message", "raw", string(raw))
		return
	}
	msg := gjson.ParseBytes(raw)
	switch typ := msg.Get("type"); typ.String() {
	case TypeRequest:
		c.accept(parseRequest(msg))
	case TypeResponse:
		c.resolve(parseResponse(msg))
	case "":
		c.logger.Warn("Rpc message missing type", "raw", string(raw))
	default:
		c.logger.Warn("Unknown rpc message type",
			"type", typ.String(), "raw", string(raw))
	}
}

func (c *Channel) accept(req *Request) {
	if req.ID != "" && !c.claim(req.ID) {
		c.logger.Warn("Discarding duplicate rpc request",
			"id", req.ID, "method", req.Method)
		return
	}

	h, ok := c.handlers[req.Method]
	if !ok {
		c.reply(req.ID, nil, fmt.Errorf("%w %s", ErrNoHandler, req.Method))
		return
	}

	c.work <- func() {
		res, err := c.invoke(h, req)
		c.reply(req.ID, res, err)
	}
}

func (c *Channel) invoke(h HandlerFunc, req *Request) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Rpc handler panicked",
				"method", req.Method, "panic", r)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(c.ctx, req.Args)
}

func (c *Channel) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen.Contains(id) {
		return false
	}
	c.seen.Add(id)
	return true
}

func (c *Channel) resolve(res *Response) {
	c.mu.Lock()
	pc, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Discarding uncorrelated rpc response", "id", res.ID)
		return
	}
	pc.result <- res
}

func (c *Channel) reply(id string, result any, err error) {
	if id == "" {
		if err != nil {
			c.logger.Warn("Rpc notification failed", log.Error(err))
		}
		return
	}

	res := &Response{Type: TypeResponse, ID: id}
	if err != nil {
		res.Error = err.Error()
	} else if result != nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			res.Error = mErr.Error()
		} else {
			res.Result = raw
		}
	}
	c.send(res)
}

func (c *Channel) send(msg any) {
	if c.closed.Load() {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode rpc message", log.Error(err))
		return
	}
	if err := c.transport.Send(raw); err != nil {
		c.logger.Debug("Dropped rpc message", log.Error(err))
	}
}

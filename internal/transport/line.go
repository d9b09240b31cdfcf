package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

type lineTransport struct {
	in        *bufio.Reader
	out       *bufio.Writer
	msgs      chan []byte
	done      chan struct{}
	closers   []io.Closer
	closed    atomic.Bool
	mu        sync.Mutex
	closeOnce sync.Once
}

const messageBuffer = 8

// NewLineTransport frames messages as newline-terminated lines read from in
// and written to out. The closers are released when the transport closes
func NewLineTransport(
	in io.Reader, out io.Writer, closers ...io.Closer,
) Transport {
	t := &lineTransport{
		in:      bufio.NewReader(in),
		out:     bufio.NewWriter(out),
		msgs:    make(chan []byte, messageBuffer),
		done:    make(chan struct{}),
		closers: closers,
	}
	go t.readLoop()
	return t
}

func (t *lineTransport) Messages() <-chan []byte {
	return t.msgs
}

// Send writes one message. Sends after Close are dropped
func (t *lineTransport) Send(msg []byte) error {
	if t.closed.Load() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil
	}
	if _, err := t.out.Write(msg); err != nil {
		return err
	}
	if err := t.out.WriteByte('\n'); err != nil {
		return err
	}
	return t.out.Flush()
}

func (t *lineTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		for _, c := range t.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (t *lineTransport) readLoop() {
	defer close(t.msgs)
	for {
		line, err := t.in.ReadBytes('\n')
		if msg := bytes.TrimSpace(line); len(msg) > 0 {
			select {
			case t.msgs <- msg:
			case <-t.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Wiring holds the standard streams and channel prepared for one worker
// process. Stdout carries plain output only for the native channel; with
// pipes it is consumed by the transport
type Wiring struct {
	Kind   Kind
	Stdout io.Reader
	Stderr io.Reader

	transport Transport
	child     []*os.File
	parent    []io.Closer
}

// ChannelFD is the descriptor number of the native channel in the worker
const ChannelFD = 3

const (
	envChannelFD     = "NODE_CHANNEL_FD=3"
	envSerialization = "NODE_CHANNEL_SERIALIZATION_MODE=json"
)

// Wire prepares cmd's stdio for the given transport kind. It must be called
// before cmd.Start, followed by Attach on success or Abort on failure
func Wire(kind Kind, cmd *exec.Cmd) (*Wiring, error) {
	w := &Wiring{Kind: kind}

	errR, errW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	w.keep(errR, errW)
	cmd.Stderr = errW
	w.Stderr = errR

	outR, outW, err := os.Pipe()
	if err != nil {
		w.Abort()
		return nil, err
	}
	w.keep(outR, outW)
	cmd.Stdout = outW

	switch kind {
	case KindPipe:
		inR, inW, err := os.Pipe()
		if err != nil {
			w.Abort()
			return nil, err
		}
		w.keep(inW, inR)
		cmd.Stdin = inR
		w.transport = NewLineTransport(outR, inW, outR, inW)
		return w, nil

	case KindNative:
		parent, child, err := socketPair()
		if err != nil {
			w.Abort()
			return nil, err
		}
		w.keep(parent, child)
		cmd.Stdin = nil
		cmd.ExtraFiles = append(cmd.ExtraFiles[:0], child)
		cmd.Env = append(cmd.Environ(), envChannelFD, envSerialization)
		w.Stdout = outR
		w.transport = NewLineTransport(parent, parent, parent)
		return w, nil

	default:
		w.Abort()
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

// Attach releases the child's ends of every stream in the parent process
// and returns the message transport. Call it once cmd has started
func (w *Wiring) Attach() Transport {
	for _, f := range w.child {
		_ = f.Close()
	}
	w.child = nil
	return w.transport
}

// Abort releases every stream, including the transport
func (w *Wiring) Abort() {
	for _, f := range w.child {
		_ = f.Close()
	}
	for _, c := range w.parent {
		_ = c.Close()
	}
	if w.transport != nil {
		_ = w.transport.Close()
	}
}

// Close releases the parent's ends of the plain output streams
func (w *Wiring) Close() {
	for _, c := range w.parent {
		_ = c.Close()
	}
}

func (w *Wiring) keep(parent io.Closer, child *os.File) {
	w.parent = append(w.parent, parent)
	w.child = append(w.child, child)
}

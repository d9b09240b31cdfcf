package transport

import (
	"errors"
	"runtime"
)

type (
	// Kind identifies the framing used between the runtime and a worker
	Kind int

	// Hint is the transport capability declared by a runner
	Hint int

	// Platform describes the host's process messaging capabilities
	Platform struct {
		OS            string
		NativeChannel bool
	}

	// Transport exchanges whole JSON messages with one worker process
	Transport interface {
		Messages() <-chan []byte
		Send(msg []byte) error
		Close() error
	}
)

const (
	// KindNative is a structured channel on an extra file descriptor
	KindNative Kind = iota

	// KindPipe is newline-delimited JSON over the worker's stdin/stdout
	KindPipe
)

const (
	// HintNone marks runners that always use the native channel
	HintNone Hint = iota

	// HintPipeFallback marks interpreted runners that can fall back to
	// stdio pipes where the native channel is unavailable
	HintPipeFallback
)

var (
	ErrNativeUnsupported = errors.New("native channel not supported")
	ErrUnknownKind       = errors.New("unknown transport kind")
)

// CurrentPlatform reports the capabilities of the running host
func CurrentPlatform() Platform {
	return Platform{
		OS:            runtime.GOOS,
		NativeChannel: nativeSupported,
	}
}

// Select picks the transport for a runner on a platform. Pipes are chosen
// only for pipe-capable runners on hosts without a native channel
func Select(h Hint, p Platform) Kind {
	if h == HintPipeFallback && !p.NativeChannel {
		return KindPipe
	}
	return KindNative
}

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

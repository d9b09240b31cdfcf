package log

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

type (
	// Logger is a scoped logger handed to step invocations. Every call is
	// written to the underlying slog.Logger and fanned out to the listeners
	// shared by the logger and all of its children
	Logger struct {
		root  *slog.Logger
		base  *slog.Logger
		hub   *listeners
		attrs []slog.Attr
	}

	// Entry is the listener view of a single log call
	Entry struct {
		Time  time.Time      `json:"time"`
		Level string         `json:"level"`
		Msg   string         `json:"msg"`
		Attrs map[string]any `json:"attrs,omitempty"`
	}

	// Listener receives every log call made through a Logger tree
	Listener func(Entry)

	listeners struct {
		fns  map[int]Listener
		next int
		mu   sync.RWMutex
	}
)

const (
	levelKey   = "level"
	messageKey = "msg"
)

// NewLogger wraps base in a Logger with an empty listener set
func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{
		root: base,
		base: base,
		hub:  &listeners{fns: map[int]Listener{}},
	}
}

// Child returns a Logger carrying the additional attributes. An attribute
// whose key the parent already carries replaces the parent's value.
// Listeners are shared with the parent
func (l *Logger) Child(args ...any) *Logger {
	attrs := mergeAttrs(l.attrs, toAttrs(args))
	with := make([]any, len(attrs))
	for i, a := range attrs {
		with[i] = a
	}
	return &Logger{
		root:  l.root,
		base:  l.root.With(with...),
		hub:   l.hub,
		attrs: attrs,
	}
}

// AddListener registers fn and returns a function that removes it
func (l *Logger) AddListener(fn Listener) func() {
	return l.hub.add(fn)
}

// Slog exposes the underlying slog.Logger
func (l *Logger) Slog() *slog.Logger {
	return l.base
}

func (l *Logger) Debug(msg string, args ...any) {
	l.write(slog.LevelDebug, msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.write(slog.LevelInfo, msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.write(slog.LevelWarn, msg, args)
}

func (l *Logger) Error(msg string, args ...any) {
	l.write(slog.LevelError, msg, args)
}

// Log writes a structured entry produced by a worker process. The entry is
// a JSON object with optional "level" and "msg" fields; all other fields
// become attributes. Anything that is not an object is logged verbatim at
// info level
func (l *Logger) Log(raw []byte) {
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		l.Info(string(raw))
		return
	}

	lvl := ParseLevel(res.Get(levelKey).String())
	msg := res.Get(messageKey).String()
	var args []any
	res.ForEach(func(key, value gjson.Result) bool {
		switch k := key.String(); k {
		case levelKey, messageKey:
		default:
			args = append(args, slog.Any(k, value.Value()))
		}
		return true
	})
	l.write(lvl, msg, args)
}

func (l *Logger) write(lvl slog.Level, msg string, args []any) {
	l.base.Log(context.Background(), lvl, msg, args...)
	if l.hub.empty() {
		return
	}
	l.hub.notify(makeEntry(lvl, msg, l.attrs, args))
}

func makeEntry(lvl slog.Level, msg string, attrs []slog.Attr, args []any) Entry {
	r := slog.NewRecord(time.Now(), lvl, msg, 0)
	r.AddAttrs(attrs...)
	r.Add(args...)

	e := Entry{
		Time:  r.Time,
		Level: levelName(lvl),
		Msg:   msg,
	}
	if r.NumAttrs() > 0 {
		e.Attrs = make(map[string]any, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			e.Attrs[a.Key] = a.Value.Resolve().Any()
			return true
		})
	}
	return e
}

func toAttrs(args []any) []slog.Attr {
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(args...)
	res := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		res = append(res, a)
		return true
	})
	return res
}

func mergeAttrs(base, next []slog.Attr) []slog.Attr {
	res := slices.Clone(base)
	for _, a := range next {
		i := slices.IndexFunc(res, func(b slog.Attr) bool {
			return b.Key == a.Key
		})
		if i >= 0 {
			res[i] = a
			continue
		}
		res = append(res, a)
	}
	return res
}

func levelName(lvl slog.Level) string {
	switch {
	case lvl >= slog.LevelError:
		return "error"
	case lvl >= slog.LevelWarn:
		return "warn"
	case lvl >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

func (h *listeners) add(fn Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.fns, id)
	}
}

func (h *listeners) empty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.fns) == 0
}

func (h *listeners) notify(e Entry) {
	h.mu.RLock()
	fns := make([]Listener, 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

package helpers

import (
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/kode4food/stepflow/pkg/log"
)

// LogRecorder collects the entries written through a Logger tree
type LogRecorder struct {
	entries []log.Entry
	mu      sync.Mutex
}

// NewRecordedLogger returns a Logger that discards output and a recorder
// attached to it as a listener
func NewRecordedLogger() (*log.Logger, *LogRecorder) {
	base := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	logger := log.NewLogger(base)
	rec := &LogRecorder{}
	logger.AddListener(rec.add)
	return logger, rec
}

func (r *LogRecorder) add(e log.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries
func (r *LogRecorder) Entries() []log.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Find returns the first entry with the given level and message
func (r *LogRecorder) Find(level, msg string) (log.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Level == level && e.Msg == msg {
			return e, true
		}
	}
	return log.Entry{}, false
}

// Messages returns the messages logged at level
func (r *LogRecorder) Messages(level string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []string
	for _, e := range r.entries {
		if e.Level == level {
			res = append(res, e.Msg)
		}
	}
	return res
}

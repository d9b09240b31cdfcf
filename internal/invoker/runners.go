package invoker

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kode4food/stepflow/internal/transport"
)

type (
	// Runner describes how to launch a worker for one source language. The
	// worker is started as Command Args... Script stepFile payload
	Runner struct {
		Command string
		Script  string
		Args    []string
		Hint    transport.Hint
	}

	// Runners maps file extensions to the Runner that executes them
	Runners struct {
		table map[string]Runner
		mu    sync.RWMutex
	}
)

var ErrUnsupportedExtension = errors.New("unsupported file extension")

// NewRunners returns an empty runner registry
func NewRunners() *Runners {
	return &Runners{table: map[string]Runner{}}
}

// DefaultRunners registers the Python, Ruby, and Node runners whose entry
// scripts live under dir
func DefaultRunners(dir string) *Runners {
	node := Runner{
		Command: "node",
		Script:  filepath.Join(dir, "node", "node-runner.js"),
	}
	res := NewRunners()
	res.Register(".py", Runner{
		Command: "python",
		Script:  filepath.Join(dir, "python", "python-runner.py"),
		Hint:    transport.HintPipeFallback,
	})
	res.Register(".rb", Runner{
		Command: "ruby",
		Script:  filepath.Join(dir, "ruby", "ruby-runner.rb"),
	})
	res.Register(".js", node)
	res.Register(".ts", node)
	return res
}

// Register associates ext (with its leading dot) with r
func (r *Runners) Register(ext string, run Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Args = slices.Clone(run.Args)
	r.table[strings.ToLower(ext)] = run
}

// Lookup resolves the Runner for a step file by its extension
func (r *Runners) Lookup(path string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	if run, ok := r.table[ext]; ok {
		return run, nil
	}
	return Runner{}, fmt.Errorf("%w %s", ErrUnsupportedExtension, path)
}

// Extensions lists the registered extensions in sorted order
func (r *Runners) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]string, 0, len(r.table))
	for ext := range r.table {
		res = append(res, ext)
	}
	slices.Sort(res)
	return res
}

func (run Runner) argv(stepFile string, payload []byte) []string {
	res := slices.Clone(run.Args)
	if run.Script != "" {
		res = append(res, run.Script)
	}
	return append(res, stepFile, string(payload))
}

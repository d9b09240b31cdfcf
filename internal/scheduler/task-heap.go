package scheduler

import (
	"container/heap"
	"strings"
	"time"

	"github.com/kode4food/stepflow/pkg/util"
)

type (
	// Task is a function due at a point in time, optionally keyed by a path
	// so that it can be replaced or cancelled
	Task struct {
		Func  TaskFunc
		At    time.Time
		Path  []string
		key   string
		index int
	}

	// TaskHeap orders tasks by due time and indexes keyed tasks by path
	TaskHeap struct {
		items  []*Task
		byKey  map[string]*Task
		byPath *util.PathTree[*Task]
	}
)

const pathSeparator = "\x00"

// NewTaskHeap creates an empty TaskHeap
func NewTaskHeap() *TaskHeap {
	return &TaskHeap{
		byKey:  map[string]*Task{},
		byPath: util.NewPathTree[*Task](),
	}
}

// Insert adds t, replacing the function and due time of a task already
// keyed by the same path
func (h *TaskHeap) Insert(t *Task) {
	if t == nil || t.Func == nil || t.At.IsZero() {
		return
	}
	if len(t.Path) != 0 {
		t.key = pathKey(t.Path)
		if old, ok := h.byKey[t.key]; ok {
			old.Func = t.Func
			old.At = t.At
			heap.Fix(h, old.index)
			return
		}
	}
	heap.Push(h, t)
}

// PopTask removes and returns the earliest task, or nil when empty
func (h *TaskHeap) PopTask() *Task {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(h).(*Task)
}

// Peek returns the earliest task without removing it
func (h *TaskHeap) Peek() *Task {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// Cancel removes the task keyed by path
func (h *TaskHeap) Cancel(path []string) {
	if len(path) == 0 {
		return
	}
	if t, ok := h.byKey[pathKey(path)]; ok {
		heap.Remove(h, t.index)
	}
}

// CancelPrefix removes every keyed task under prefix. An empty prefix
// removes all keyed tasks
func (h *TaskHeap) CancelPrefix(prefix []string) {
	h.byPath.DetachWith(prefix, func(t *Task) {
		delete(h.byKey, t.key)
		if t.index >= 0 {
			heap.Remove(h, t.index)
		}
	})
}

// Len implements heap.Interface
func (h *TaskHeap) Len() int {
	return len(h.items)
}

// Less implements heap.Interface
func (h *TaskHeap) Less(i, j int) bool {
	return h.items[i].At.Before(h.items[j].At)
}

// Swap implements heap.Interface
func (h *TaskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push implements heap.Interface
func (h *TaskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(h.items)
	h.items = append(h.items, t)
	if len(t.Path) != 0 {
		if t.key == "" {
			t.key = pathKey(t.Path)
		}
		h.byKey[t.key] = t
		h.byPath.Insert(t.Path, t)
	}
}

// Pop implements heap.Interface
func (h *TaskHeap) Pop() any {
	n := len(h.items)
	if n == 0 {
		return nil
	}
	t := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	t.index = -1
	if len(t.Path) != 0 && h.byKey[t.key] == t {
		delete(h.byKey, t.key)
		h.byPath.Remove(t.Path)
	}
	return t
}

func pathKey(path []string) string {
	return strings.Join(path, pathSeparator)
}

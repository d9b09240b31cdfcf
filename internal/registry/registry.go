package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kode4food/stepflow/pkg/api"
	"github.com/kode4food/stepflow/pkg/util"
)

// Registry is the authoritative in-memory catalog of steps and the flows
// they reference. A flow exists only while at least one step names it
type Registry struct {
	steps  map[string]*api.Step
	flows  map[string][]*api.Step
	active []*api.Step
	dev    []*api.Step
	mu     sync.RWMutex
}

var (
	ErrStepAlreadyExists = errors.New("step already exists")
	ErrStepNotFound      = errors.New("step not found")
	ErrPathMismatch      = errors.New("step file path changed")
)

// New returns an empty Registry
func New() *Registry {
	return &Registry{
		steps: map[string]*api.Step{},
		flows: map[string][]*api.Step{},
	}
}

// CreateStep validates and registers a step under its file path. Virtual
// steps are kept apart from executable ones
func (r *Registry) CreateStep(step *api.Step) error {
	if err := step.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.steps[step.FilePath]; ok {
		return fmt.Errorf("%w: %s", ErrStepAlreadyExists, step.FilePath)
	}

	saved := step.Clone()
	r.steps[saved.FilePath] = saved
	r.route(saved)
	for _, name := range util.Unique(saved.Flows) {
		r.flows[name] = append(r.flows[name], saved)
	}
	return nil
}

// ChangeStep replaces the configuration of the step registered at
// old.FilePath with next. A kind or virtual flag change re-routes the step
// between the executable and virtual collections, then flow membership is
// reconciled. The registered pointer is preserved. Reports whether the kind
// changed, in which case callers must rewire execution
func (r *Registry) ChangeStep(old, next *api.Step) (bool, error) {
	if old.FilePath != next.FilePath {
		return false, fmt.Errorf("%w: %s -> %s",
			ErrPathMismatch, old.FilePath, next.FilePath)
	}
	if err := next.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	saved, ok := r.steps[old.FilePath]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrStepNotFound, old.FilePath)
	}

	kindChanged := saved.Type != next.Type
	if kindChanged || saved.Virtual != next.Virtual {
		r.unroute(saved)
		defer r.route(saved)
	}

	added := util.Diff(next.Flows, saved.Flows)
	removed := util.Diff(saved.Flows, next.Flows)
	for _, name := range removed {
		r.prune(name, saved)
	}

	*saved = *next.Clone()

	for _, name := range util.Unique(added) {
		r.flows[name] = append(r.flows[name], saved)
	}
	return kindChanged, nil
}

// DeleteStep removes the step from every collection and flow, deleting
// flows left without members
func (r *Registry) DeleteStep(step *api.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, ok := r.steps[step.FilePath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepNotFound, step.FilePath)
	}

	delete(r.steps, saved.FilePath)
	r.unroute(saved)
	for name := range r.flows {
		r.prune(name, saved)
	}
	return nil
}

// Step returns a copy of the step registered at path
func (r *Registry) Step(path string) (*api.Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.steps[path]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// ActiveSteps returns copies of all executable steps
func (r *Registry) ActiveSteps() []*api.Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.active)
}

// DevSteps returns copies of all virtual steps
func (r *Registry) DevSteps() []*api.Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.dev)
}

// APISteps returns the executable api steps
func (r *Registry) APISteps() []*api.Step {
	return r.activeOfType(api.StepTypeAPI)
}

// EventSteps returns the executable event steps
func (r *Registry) EventSteps() []*api.Step {
	return r.activeOfType(api.StepTypeEvent)
}

// CronSteps returns the executable cron steps
func (r *Registry) CronSteps() []*api.Step {
	return r.activeOfType(api.StepTypeCron)
}

// Flow returns the named flow with copies of its member steps
func (r *Registry) Flow(name string) (*api.Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps, ok := r.flows[name]
	if !ok {
		return nil, false
	}
	return &api.Flow{Name: name, Steps: cloneAll(steps)}, true
}

// Flows returns every flow, ordered by name
func (r *Registry) Flows() []*api.Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	slices.Sort(names)

	res := make([]*api.Flow, 0, len(names))
	for _, name := range names {
		res = append(res, &api.Flow{
			Name:  name,
			Steps: cloneAll(r.flows[name]),
		})
	}
	return res
}

func (r *Registry) activeOfType(typ api.StepType) []*api.Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*api.Step
	for _, s := range r.active {
		if s.Is(typ) {
			res = append(res, s.Clone())
		}
	}
	return res
}

func (r *Registry) route(s *api.Step) {
	if s.Virtual {
		r.dev = append(r.dev, s)
		return
	}
	r.active = append(r.active, s)
}

func (r *Registry) unroute(s *api.Step) {
	r.active = remove(r.active, s)
	r.dev = remove(r.dev, s)
}

func (r *Registry) prune(name string, s *api.Step) {
	steps, ok := r.flows[name]
	if !ok {
		return
	}
	steps = remove(steps, s)
	if len(steps) == 0 {
		delete(r.flows, name)
		return
	}
	r.flows[name] = steps
}

func remove(steps []*api.Step, s *api.Step) []*api.Step {
	return slices.DeleteFunc(steps, func(e *api.Step) bool {
		return e == s
	})
}

func cloneAll(steps []*api.Step) []*api.Step {
	res := make([]*api.Step, 0, len(steps))
	for _, s := range steps {
		res = append(res, s.Clone())
	}
	return res
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/stepflow/pkg/util"
)

type (
	StepType string

	// Step is a unit of executable logic discovered from a source file. The
	// absolute file path is its identity
	Step struct {
		API         *APIConfig   `json:"api,omitempty" yaml:"api,omitempty"`
		Event       *EventConfig `json:"event,omitempty" yaml:"event,omitempty"`
		Cron        *CronConfig  `json:"cron,omitempty" yaml:"cron,omitempty"`
		FilePath    string       `json:"filePath" yaml:"file"`
		Name        string       `json:"name" yaml:"name"`
		Type        StepType     `json:"type" yaml:"type"`
		Description string       `json:"description,omitempty" yaml:"description,omitempty"`
		Flows       []string     `json:"flows" yaml:"flows"`
		Emits       []Emit       `json:"emits" yaml:"emits"`
		Virtual     bool         `json:"virtual,omitempty" yaml:"virtual,omitempty"`
	}

	APIConfig struct {
		Path   string `json:"path" yaml:"path"`
		Method string `json:"method" yaml:"method"`
	}

	EventConfig struct {
		Subscribes []string `json:"subscribes" yaml:"subscribes"`
	}

	CronConfig struct {
		Expression string `json:"expression" yaml:"expression"`
	}

	// Emit declares a topic a step is allowed to emit. It may be written as
	// a bare topic string or as an object
	Emit struct {
		Topic       string `json:"topic" yaml:"topic"`
		Label       string `json:"label,omitempty" yaml:"label,omitempty"`
		Conditional bool   `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	}

	// Flow is a named grouping of steps. It exists only while at least one
	// step references it
	Flow struct {
		Name  string  `json:"name"`
		Steps []*Step `json:"steps"`
	}
)

const (
	StepTypeAPI   StepType = "api"
	StepTypeEvent StepType = "event"
	StepTypeCron  StepType = "cron"
	StepTypeNoop  StepType = "noop"
)

var (
	ErrStepFilePathEmpty   = errors.New("step file path empty")
	ErrStepPathNotAbsolute = errors.New("step file path must be absolute")
	ErrStepNameEmpty       = errors.New("step name empty")
	ErrInvalidStepType     = errors.New("invalid step type")
	ErrAPIRequired         = errors.New("api config required")
	ErrAPIPathEmpty        = errors.New("api path empty")
	ErrAPIMethodEmpty      = errors.New("api method empty")
	ErrEventRequired       = errors.New("event config required")
	ErrNoSubscriptions     = errors.New("event step subscribes to nothing")
	ErrCronRequired        = errors.New("cron config required")
	ErrCronExpressionEmpty = errors.New("cron expression empty")
	ErrEmitTopicEmpty      = errors.New("emit topic empty")
)

var validStepTypes = util.SetOf(
	StepTypeAPI,
	StepTypeEvent,
	StepTypeCron,
	StepTypeNoop,
)

// Validate checks the kind-specific requirements of the step
func (s *Step) Validate() error {
	if s.FilePath == "" {
		return ErrStepFilePathEmpty
	}
	if !filepath.IsAbs(s.FilePath) {
		return fmt.Errorf("%w: %s", ErrStepPathNotAbsolute, s.FilePath)
	}
	if s.Name == "" {
		return ErrStepNameEmpty
	}
	if !validStepTypes.Contains(s.Type) {
		return fmt.Errorf("%w: %s", ErrInvalidStepType, s.Type)
	}

	for _, e := range s.Emits {
		if e.Topic == "" {
			return ErrEmitTopicEmpty
		}
	}

	switch s.Type {
	case StepTypeAPI:
		return s.validateAPI()
	case StepTypeEvent:
		return s.validateEvent()
	case StepTypeCron:
		return s.validateCron()
	default:
		return nil
	}
}

func (s *Step) validateAPI() error {
	if s.API == nil {
		return ErrAPIRequired
	}
	if s.API.Path == "" {
		return ErrAPIPathEmpty
	}
	if s.API.Method == "" {
		return ErrAPIMethodEmpty
	}
	return nil
}

func (s *Step) validateEvent() error {
	if s.Event == nil {
		return ErrEventRequired
	}
	if len(s.Event.Subscribes) == 0 {
		return ErrNoSubscriptions
	}
	return nil
}

func (s *Step) validateCron() error {
	if s.Cron == nil {
		return ErrCronRequired
	}
	if s.Cron.Expression == "" {
		return ErrCronExpressionEmpty
	}
	return nil
}

// Is reports whether the step is of the given type
func (s *Step) Is(typ StepType) bool {
	return s.Type == typ
}

// EmitTopics returns the declared emit topics in order
func (s *Step) EmitTopics() []string {
	res := make([]string, 0, len(s.Emits))
	for _, e := range s.Emits {
		res = append(res, e.Topic)
	}
	return res
}

// CanEmit reports whether topic is in the step's declared emit list
func (s *Step) CanEmit(topic string) bool {
	return slices.Contains(s.EmitTopics(), topic)
}

// Subscriptions returns the topics an event step subscribes to
func (s *Step) Subscriptions() []string {
	if s.Event == nil {
		return nil
	}
	return s.Event.Subscribes
}

// Clone returns a deep copy of the step
func (s *Step) Clone() *Step {
	res := *s
	res.Flows = slices.Clone(s.Flows)
	res.Emits = slices.Clone(s.Emits)
	if s.API != nil {
		cfg := *s.API
		res.API = &cfg
	}
	if s.Event != nil {
		res.Event = &EventConfig{
			Subscribes: slices.Clone(s.Event.Subscribes),
		}
	}
	if s.Cron != nil {
		cfg := *s.Cron
		res.Cron = &cfg
	}
	return &res
}

// UnmarshalJSON accepts either a topic string or an emit object
func (e *Emit) UnmarshalJSON(data []byte) error {
	var topic string
	if err := json.Unmarshal(data, &topic); err == nil {
		*e = Emit{Topic: topic}
		return nil
	}
	type emit Emit
	var res emit
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	*e = Emit(res)
	return nil
}

// UnmarshalYAML accepts either a topic string or an emit mapping
func (e *Emit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = Emit{Topic: node.Value}
		return nil
	}
	type emit Emit
	var res emit
	if err := node.Decode(&res); err != nil {
		return err
	}
	*e = Emit(res)
	return nil
}

// StepNames returns the names of the flow's member steps
func (f *Flow) StepNames() []string {
	res := make([]string, 0, len(f.Steps))
	for _, s := range f.Steps {
		res = append(res, s.Name)
	}
	return res
}

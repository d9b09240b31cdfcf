package helpers

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kode4food/stepflow/internal/config"
	"github.com/kode4food/stepflow/pkg/api"
)

// NewTestConfig creates a default configuration with debug logging enabled
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	return cfg
}

// TestPath returns a unique absolute step file path with the given extension
func TestPath(ext string) string {
	return filepath.Join("/steps", "step-"+uuid.New().String()[:8]+ext)
}

// NewTestStep creates a basic event step for testing
func NewTestStep() *api.Step {
	return NewEventStep("Test Step", "test.topic")
}

// NewEventStep creates an event step subscribed to the given topics
func NewEventStep(name string, subscribes ...string) *api.Step {
	return &api.Step{
		FilePath: TestPath(".py"),
		Name:     name,
		Type:     api.StepTypeEvent,
		Event:    &api.EventConfig{Subscribes: subscribes},
		Flows:    []string{},
		Emits:    []api.Emit{},
	}
}

// NewAPIStep creates an api step served at method and path
func NewAPIStep(name, method, path string) *api.Step {
	return &api.Step{
		FilePath: TestPath(".js"),
		Name:     name,
		Type:     api.StepTypeAPI,
		API:      &api.APIConfig{Method: method, Path: path},
		Flows:    []string{},
		Emits:    []api.Emit{},
	}
}

// NewCronStep creates a cron step with the given expression and emits
func NewCronStep(name, expr string, emits ...string) *api.Step {
	return &api.Step{
		FilePath: TestPath(".ts"),
		Name:     name,
		Type:     api.StepTypeCron,
		Cron:     &api.CronConfig{Expression: expr},
		Flows:    []string{},
		Emits:    Emits(emits...),
	}
}

// NewNoopStep creates a visual-only step
func NewNoopStep(name string) *api.Step {
	return &api.Step{
		FilePath: TestPath(".noop"),
		Name:     name,
		Type:     api.StepTypeNoop,
		Flows:    []string{},
		Emits:    []api.Emit{},
	}
}

// WithFlows returns a copy of s that belongs to the given flows
func WithFlows(s *api.Step, flows ...string) *api.Step {
	res := s.Clone()
	res.Flows = flows
	return res
}

// Emits builds a plain emit list from topic names
func Emits(topics ...string) []api.Emit {
	res := make([]api.Emit, 0, len(topics))
	for _, t := range topics {
		res = append(res, api.Emit{Topic: t})
	}
	return res
}

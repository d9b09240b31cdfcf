package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stepflow/internal/config"
	"github.com/kode4food/stepflow/pkg/api"
)

type (
	// FlowSource exposes the flow view of a registry
	FlowSource interface {
		Flow(name string) (*api.Flow, bool)
	}

	// Wrapper wraps testify assertions with stepflow-specific helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
		Require *require.Assertions
	}
)

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus stepflow-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// StepValid asserts that a step is valid
func (w *Wrapper) StepValid(s *api.Step) {
	w.Helper()
	w.NoError(s.Validate())
	w.NotEmpty(s.FilePath)
	w.NotEmpty(s.Name)

	switch s.Type {
	case api.StepTypeAPI:
		w.NotNil(s.API, "api steps should have APIConfig")
	case api.StepTypeEvent:
		w.NotNil(s.Event, "event steps should have EventConfig")
	case api.StepTypeCron:
		w.NotNil(s.Cron, "cron steps should have CronConfig")
	}
}

// StepInvalid asserts that a step is invalid and returns the validation error
func (w *Wrapper) StepInvalid(
	s *api.Step, expectedErrorContains string,
) error {
	w.Helper()
	err := s.Validate()
	w.Error(err)
	if err != nil && expectedErrorContains != "" {
		w.Contains(err.Error(), expectedErrorContains)
	}
	return err
}

// FlowHasSteps asserts that the named flow exists and holds exactly the
// steps with the given names, in order
func (w *Wrapper) FlowHasSteps(src FlowSource, name string, steps ...string) {
	w.Helper()
	fl, ok := src.Flow(name)
	if !w.True(ok, "flow should exist: %s", name) {
		return
	}
	w.Equal(steps, fl.StepNames())
}

// NoFlow asserts that the named flow does not exist
func (w *Wrapper) NoFlow(src FlowSource, name string) {
	w.Helper()
	_, ok := src.Flow(name)
	w.False(ok, "flow should not exist: %s", name)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.ShutdownTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if contains != "" && err != nil {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

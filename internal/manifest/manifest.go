package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/stepflow/pkg/api"
)

// Manifest lists the steps a runtime serves
type Manifest struct {
	Steps []*api.Step `yaml:"steps"`
}

var (
	ErrDuplicateStep = errors.New("duplicate step file")
	ErrInvalidStep   = errors.New("invalid step")
)

// Load reads the manifest at path. Relative step files are resolved
// against the manifest's directory
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse decodes a manifest, resolving relative step files against dir
func Parse(data []byte, dir string) (*Manifest, error) {
	var res Manifest
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for i, st := range res.Steps {
		if st == nil {
			return nil, fmt.Errorf("%w: entry %d is empty", ErrInvalidStep, i)
		}
		if st.FilePath != "" {
			st.FilePath = resolve(dir, st.FilePath)
		}
		if st.Flows == nil {
			st.Flows = []string{}
		}
		if st.Emits == nil {
			st.Emits = []api.Emit{}
		}
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidStep, st.Name, err)
		}
		if seen[st.FilePath] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, st.FilePath)
		}
		seen[st.FilePath] = true
	}
	return &res, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
